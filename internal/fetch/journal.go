package fetch

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Journal is an append-only JSONL record of task outcomes. A batch
// re-run loads it first and skips everything already succeeded, so
// interrupted runs resume instead of starting over.
type Journal struct {
	path  string
	runID string

	mu sync.Mutex
	f  *os.File
}

type journalEntry struct {
	RunID    string    `json:"run_id"`
	Recorded time.Time `json:"recorded_at"`
	Outcome
}

// OpenJournal opens (creating if needed) the journal at path. Each open
// gets a fresh run ID so entries from different runs stay tellable
// apart.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	return &Journal{path: path, runID: uuid.NewString(), f: f}, nil
}

// RunID returns this journal session's run identifier.
func (j *Journal) RunID() string {
	return j.runID
}

// Record appends one outcome. Safe for concurrent use.
func (j *Journal) Record(o Outcome) error {
	entry := journalEntry{RunID: j.runID, Recorded: time.Now(), Outcome: o}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	if _, err := j.f.Write(data); err != nil {
		return fmt.Errorf("failed to append journal entry: %w", err)
	}
	return nil
}

// Completed returns the tasks this journal already records as
// succeeded, reading the file as it stood before this run's appends.
func (j *Journal) Completed() (map[string]Outcome, error) {
	return LoadCompleted(j.path)
}

// Close closes the underlying file.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

// LoadCompleted reads a journal and returns the task IDs whose latest
// recorded outcome is a success. A missing journal file is not an
// error: it just means nothing is done yet.
func LoadCompleted(path string) (map[string]Outcome, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Outcome{}, nil
		}
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	latest := make(map[string]Outcome)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry journalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A torn final line from a crashed run is expected;
			// anything unparseable is simply skipped.
			continue
		}
		latest[entry.TaskID] = entry.Outcome
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	completed := make(map[string]Outcome)
	for id, o := range latest {
		if o.Status == StatusSucceeded {
			completed[id] = o
		}
	}
	return completed, nil
}
