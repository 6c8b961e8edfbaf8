package fetch

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	bibErrors "github.com/lepinkainen/biblio/internal/errors"
	"github.com/lepinkainen/biblio/internal/fileutil"
	"github.com/lepinkainen/biblio/internal/ratelimit"
	"github.com/lepinkainen/biblio/internal/session"
)

// Orchestrator drives a batch of tasks through the worker with bounded
// concurrency. The semaphore bounds in-flight attempts, not tasks: a
// task sleeping out a backoff holds no slot, so waiting work never
// starves the pool.
type Orchestrator struct {
	Worker *Worker
	Policy Policy
	// Limits spaces requests per source. Required.
	Limits *ratelimit.Registry
	// Sessions maps source name to its session manager. Sources absent
	// from the map run unauthenticated.
	Sessions map[string]*session.Manager
	// Concurrency bounds simultaneous attempts. Defaults to 4.
	Concurrency int
	// Journal, when set, records every outcome as it is produced and
	// lets a re-run skip already-completed tasks.
	Journal *Journal
	// SkipExisting skips file tasks whose destination already exists
	// with a plausible size.
	SkipExisting bool
	// OnOutcome, when set, is called for every outcome as it lands.
	OnOutcome func(Outcome)

	halted    atomic.Bool
	haltCause atomic.Value // string
}

// Run processes the batch and returns a summary. On cancellation it
// returns the partial summary together with the context error:
// completed outcomes stay valid, interrupted tasks leave no record.
func (o *Orchestrator) Run(ctx context.Context, tasks []Task) (*Summary, error) {
	conc := o.Concurrency
	if conc <= 0 {
		conc = 4
	}

	completed := map[string]Outcome{}
	if o.Journal != nil {
		var err error
		completed, err = o.Journal.Completed()
		if err != nil {
			return nil, err
		}
	}

	summary := newSummary()
	var mu sync.Mutex
	record := func(out Outcome) {
		mu.Lock()
		summary.add(out)
		mu.Unlock()
		if o.Journal != nil {
			if err := o.Journal.Record(out); err != nil {
				slog.Warn("Failed to journal outcome", "task", out.TaskID, "error", err)
			}
		}
		if o.OnOutcome != nil {
			o.OnOutcome(out)
		}
	}

	sem := semaphore.NewWeighted(int64(conc))
	var wg sync.WaitGroup

	for _, task := range tasks {
		if prior, ok := completed[task.ID]; ok {
			out := Outcome{
				TaskID:       task.ID,
				Source:       task.Source,
				Status:       StatusSkipped,
				Message:      "completed in an earlier run",
				ArtifactPath: prior.ArtifactPath,
			}
			record(out)
			continue
		}
		if o.SkipExisting && task.Kind == KindFile && task.DestPath != "" {
			minSize := task.MinSize
			if minSize <= 0 {
				minSize = defaultMinFileSize
			}
			if fileutil.FileExistsWithMinSize(task.DestPath, minSize) {
				record(Outcome{
					TaskID:       task.ID,
					Source:       task.Source,
					Status:       StatusSkipped,
					Message:      "destination file already exists",
					ArtifactPath: task.DestPath,
				})
				continue
			}
		}

		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			if out, ok := o.runTask(ctx, sem, task); ok {
				record(out)
			}
		}(task)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		slog.Info("Batch cancelled", "recorded", summary.Total(), "of", len(tasks))
		return summary, err
	}
	return summary, nil
}

// HaltCause returns the failure that halted the batch, or "" if it ran
// to completion.
func (o *Orchestrator) HaltCause() string {
	if v := o.haltCause.Load(); v != nil {
		return v.(string)
	}
	return ""
}

func (o *Orchestrator) halt(cause string) {
	if o.halted.CompareAndSwap(false, true) {
		o.haltCause.Store(cause)
		slog.Error("Halting batch", "cause", cause)
	}
}

// runTask runs one task to its terminal outcome. The second return is
// false when the task was interrupted by cancellation, in which case no
// outcome is recorded.
func (o *Orchestrator) runTask(ctx context.Context, sem *semaphore.Weighted, task Task) (Outcome, bool) {
	start := time.Now()
	mgr := o.Sessions[task.Source]

	failed := func(attempts int, class Classification, msg string) (Outcome, bool) {
		return Outcome{
			TaskID:         task.ID,
			Source:         task.Source,
			Status:         StatusFailed,
			Classification: class,
			Message:        msg,
			Attempts:       attempts,
			Elapsed:        time.Since(start),
		}, true
	}

	for attempt := 1; ; attempt++ {
		if o.halted.Load() {
			return failed(attempt-1, ClassCredential, "batch halted: "+o.HaltCause())
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			return Outcome{}, false
		}

		res, err := o.attempt(ctx, task, mgr)
		sem.Release(1)

		if err == nil {
			slog.Debug("Task succeeded", "task", task.ID, "source", task.Source, "attempts", attempt)
			return Outcome{
				TaskID:       task.ID,
				Source:       task.Source,
				Status:       StatusSucceeded,
				Attempts:     attempt,
				Elapsed:      time.Since(start),
				ArtifactPath: res.Path,
			}, true
		}

		if ctx.Err() != nil {
			return Outcome{}, false
		}

		if bibErrors.IsCredentialError(err) {
			o.halt(err.Error())
			return failed(attempt, ClassCredential, err.Error())
		}

		class := Classify(err)
		if class == ClassAuthExpired {
			if mgr != nil {
				mgr.Invalidate()
			} else {
				// No session to refresh for this source, so an auth
				// rejection cannot be fixed by retrying.
				class = ClassPermanent
			}
		}

		var hint time.Duration
		var rlErr *bibErrors.RateLimitError
		if stdErrors.As(err, &rlErr) {
			hint = rlErr.RetryAfter
		}

		dec := o.Policy.Decide(attempt, class, hint)
		if !dec.Retry {
			slog.Warn("Task failed", "task", task.ID, "source", task.Source,
				"class", class, "attempts", attempt, "error", err)
			return failed(attempt, class, err.Error())
		}

		slog.Debug("Retrying task", "task", task.ID, "source", task.Source,
			"class", class, "attempt", attempt, "wait", dec.After, "error", err)
		if dec.After > 0 {
			select {
			case <-time.After(dec.After):
			case <-ctx.Done():
				return Outcome{}, false
			}
		}
	}
}

// attempt performs one rate-limited, session-aware worker attempt.
func (o *Orchestrator) attempt(ctx context.Context, task Task, mgr *session.Manager) (*Result, error) {
	if err := o.Limits.Wait(ctx, task.Source); err != nil {
		return nil, err
	}

	var sess *session.Session
	if mgr != nil {
		var err error
		sess, err = mgr.Current(ctx)
		if err != nil {
			return nil, err
		}
	}

	return o.Worker.AttemptWithSession(ctx, task, sess)
}
