package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bibErrors "github.com/lepinkainen/biblio/internal/errors"
	"github.com/lepinkainen/biblio/internal/session"
)

// defaultMinFileSize is the smallest payload accepted for a file task.
// Real book artifacts are never this small; anything under it is almost
// always an error page that arrived with a 200.
const defaultMinFileSize = 1024

// RetrieveFunc performs the actual network retrieval for one attempt.
// The session is nil for unauthenticated sources.
type RetrieveFunc func(ctx context.Context, task Task, sess *session.Session) ([]byte, error)

// Worker performs exactly one attempt for one task: retrieve, validate
// shape, persist. It never retries; failures bubble up to the
// orchestrator with enough type information to classify them.
type Worker struct {
	Retrieve RetrieveFunc
	// MinFileSize overrides defaultMinFileSize for all file tasks.
	MinFileSize int64
}

// Result describes one successful attempt.
type Result struct {
	// Path is where the payload was written (file tasks only).
	Path string
	// Size is the payload size in bytes.
	Size int64
	// Body is the raw payload (JSON tasks only; nil for file tasks).
	Body []byte
}

// Attempt runs a single retrieval attempt.
func (w *Worker) Attempt(ctx context.Context, task Task) (*Result, error) {
	return w.AttemptWithSession(ctx, task, nil)
}

// AttemptWithSession runs a single retrieval attempt using the given
// session snapshot.
func (w *Worker) AttemptWithSession(ctx context.Context, task Task, sess *session.Session) (*Result, error) {
	body, err := w.Retrieve(ctx, task, sess)
	if err != nil {
		return nil, err
	}

	switch task.Kind {
	case KindJSON:
		if err := validateJSON(body); err != nil {
			return nil, err
		}
		res := &Result{Size: int64(len(body)), Body: body}
		if task.DestPath != "" {
			if err := writeArtifact(task.DestPath, body); err != nil {
				return nil, err
			}
			res.Path = task.DestPath
		}
		return res, nil
	case KindFile:
		if err := w.validateFile(task, body); err != nil {
			return nil, err
		}
		if err := writeArtifact(task.DestPath, body); err != nil {
			return nil, err
		}
		return &Result{Path: task.DestPath, Size: int64(len(body))}, nil
	default:
		return nil, fmt.Errorf("unknown task kind %q", task.Kind)
	}
}

func validateJSON(body []byte) error {
	if len(body) == 0 {
		return bibErrors.NewMalformedError("empty response body", 0)
	}
	if !json.Valid(body) {
		return bibErrors.NewMalformedError("response is not valid JSON", len(body))
	}
	return nil
}

// validateFile rejects payloads that are too small to be a real
// artifact or that look like an HTML error page served with a 200.
func (w *Worker) validateFile(task Task, body []byte) error {
	minSize := task.MinSize
	if minSize <= 0 {
		minSize = w.MinFileSize
	}
	if minSize <= 0 {
		minSize = defaultMinFileSize
	}
	if int64(len(body)) < minSize {
		return bibErrors.NewMalformedError(
			fmt.Sprintf("payload below minimum size %d", minSize), len(body))
	}
	if looksLikeHTML(body) && filepath.Ext(task.DestPath) != ".html" {
		return bibErrors.NewMalformedError("received HTML page instead of file", len(body))
	}
	return nil
}

// looksLikeHTML checks the first bytes for an HTML document signature.
func looksLikeHTML(body []byte) bool {
	head := body
	if len(head) > 256 {
		head = head[:256]
	}
	head = bytes.ToLower(bytes.TrimLeft(head, " \t\r\n"))
	return bytes.HasPrefix(head, []byte("<html")) || bytes.HasPrefix(head, []byte("<!doctype html"))
}

func writeArtifact(path string, body []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
