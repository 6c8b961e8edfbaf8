// Package fetch implements the batch retrieval engine: per-attempt
// workers, failure classification, retry policy and a bounded-concurrency
// orchestrator with an append-only result journal.
package fetch

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind says what shape of payload a task expects.
type Kind string

const (
	// KindJSON expects a parseable JSON document.
	KindJSON Kind = "json"
	// KindFile expects a binary artifact written to DestPath.
	KindFile Kind = "file"
)

// Task is one unit of retrieval work.
type Task struct {
	// ID identifies the task across runs; re-runs of the same batch must
	// reuse the same IDs so the journal can skip completed work.
	ID string `json:"id"`
	// Source names the upstream service, used for rate limiting and
	// session lookup (e.g. "isbndb", "gutenberg", "site").
	Source string `json:"source"`
	// URL is the resource to retrieve.
	URL string `json:"url"`
	// Kind selects the payload validation.
	Kind Kind `json:"kind"`
	// DestPath is where a KindFile payload lands. Ignored for KindJSON.
	DestPath string `json:"dest_path,omitempty"`
	// MinSize overrides the minimum plausible payload size for KindFile.
	// Zero means the worker default.
	MinSize int64 `json:"min_size,omitempty"`
}

// Status is the terminal state of a task within one run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome is the per-task result record. Every non-cancelled task
// produces exactly one.
type Outcome struct {
	TaskID         string         `json:"task_id"`
	Source         string         `json:"source"`
	Status         Status         `json:"status"`
	Classification Classification `json:"classification,omitempty"`
	Message        string         `json:"message,omitempty"`
	Attempts       int            `json:"attempts"`
	Elapsed        time.Duration  `json:"elapsed_ns"`
	// ArtifactPath points at the written file for successful KindFile
	// tasks.
	ArtifactPath string `json:"artifact_path,omitempty"`
}

// Summary aggregates the outcomes of one run.
type Summary struct {
	Succeeded int
	Failed    int
	Skipped   int
	// ByClassification counts failures per failure class.
	ByClassification map[Classification]int
	Outcomes         []Outcome
}

func newSummary() *Summary {
	return &Summary{ByClassification: make(map[Classification]int)}
}

func (s *Summary) add(o Outcome) {
	s.Outcomes = append(s.Outcomes, o)
	switch o.Status {
	case StatusSucceeded:
		s.Succeeded++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
		s.ByClassification[o.Classification]++
	}
}

// Total returns the number of recorded outcomes.
func (s *Summary) Total() int {
	return len(s.Outcomes)
}

// ClassCounts renders the failure counts as "class=n" pairs in stable
// order, for use in exit-status error messages.
func (s *Summary) ClassCounts() string {
	classes := make([]Classification, 0, len(s.ByClassification))
	for class := range s.ByClassification {
		classes = append(classes, class)
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	parts := make([]string, 0, len(classes))
	for _, class := range classes {
		parts = append(parts, fmt.Sprintf("%s=%d", class, s.ByClassification[class]))
	}
	return strings.Join(parts, ", ")
}
