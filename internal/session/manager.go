package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lepinkainen/biblio/internal/errors"
)

// State describes where the session is in its lifecycle.
type State int

const (
	// StateUnvalidated means a session may exist (e.g. loaded from disk)
	// but has not been confirmed against the live service.
	StateUnvalidated State = iota
	// StateValid means the session was confirmed usable recently.
	StateValid
	// StateExpired means the service rejected the session and it must be
	// refreshed before further use.
	StateExpired
	// StateUnrecoverable means a full re-login failed with what looks
	// like bad credentials. No further attempts are made.
	StateUnrecoverable
)

func (s State) String() string {
	switch s {
	case StateUnvalidated:
		return "unvalidated"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateUnrecoverable:
		return "unrecoverable"
	default:
		return "unknown"
	}
}

// LoginFunc establishes a brand new session, typically via browser
// automation or a token endpoint.
type LoginFunc func(ctx context.Context) (*Session, error)

// ProbeFunc checks whether an existing session is still accepted by the
// service. It should be cheap (a single lightweight request) and return
// nil when the session is usable.
type ProbeFunc func(ctx context.Context, s *Session) error

// Options configures a Manager.
type Options struct {
	// Login is required.
	Login LoginFunc
	// Probe is optional. Without it an unvalidated session is trusted
	// until something invalidates it.
	Probe ProbeFunc
	// CachePath, when set, is a JSON file used to persist the session
	// across runs.
	CachePath string
	// Freshness is how long a validation result is trusted before the
	// next Current call re-probes. Defaults to 5 minutes.
	Freshness time.Duration
	// LoginAttempts bounds how many times a refresh retries the login
	// before declaring the credentials unrecoverable. Defaults to 3.
	LoginAttempts int
	// LoginBackoff is the pause between login attempts. Defaults to 2s.
	LoginBackoff time.Duration
}

// Manager hands out validated session snapshots to concurrent workers
// and makes sure at most one refresh is in flight at a time.
type Manager struct {
	opts Options

	mu          sync.Mutex
	state       State
	current     *Session
	validatedAt time.Time
	fatalErr    error

	group singleflight.Group
}

// NewManager creates a Manager. If a cache path is configured and holds
// a readable session, it is adopted in the unvalidated state.
func NewManager(opts Options) *Manager {
	if opts.Freshness <= 0 {
		opts.Freshness = 5 * time.Minute
	}
	if opts.LoginAttempts <= 0 {
		opts.LoginAttempts = 3
	}
	if opts.LoginBackoff <= 0 {
		opts.LoginBackoff = 2 * time.Second
	}

	m := &Manager{opts: opts, state: StateUnvalidated}

	if opts.CachePath != "" {
		if s, err := Load(opts.CachePath); err == nil {
			slog.Debug("Loaded cached session", "path", opts.CachePath, "created_at", s.CreatedAt)
			m.current = s
		} else {
			slog.Debug("No usable cached session", "path", opts.CachePath, "error", err)
		}
	}
	return m
}

// State reports the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Current returns a snapshot of a valid session, refreshing first if
// needed. Concurrent callers during a refresh all wait for the same
// single refresh rather than stampeding the login endpoint.
func (m *Manager) Current(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	switch {
	case m.state == StateUnrecoverable:
		err := m.fatalErr
		m.mu.Unlock()
		return nil, err
	case m.state == StateValid && time.Since(m.validatedAt) < m.opts.Freshness:
		s := m.current.Clone()
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session).Clone(), nil
}

// Invalidate marks the session expired, forcing the next Current call
// to refresh. Used when a worker sees an auth rejection mid-batch.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateUnrecoverable {
		return
	}
	m.state = StateExpired
	slog.Debug("Session invalidated")
}

// refresh runs inside the singleflight group: exactly one goroutine
// executes it per burst of concurrent Current calls.
func (m *Manager) refresh(ctx context.Context) (*Session, error) {
	// Someone else may have completed a refresh while we waited for the
	// group slot. Re-check before doing any work.
	m.mu.Lock()
	if m.state == StateUnrecoverable {
		err := m.fatalErr
		m.mu.Unlock()
		return nil, err
	}
	if m.state == StateValid && time.Since(m.validatedAt) < m.opts.Freshness {
		s := m.current
		m.mu.Unlock()
		return s, nil
	}
	existing := m.current
	state := m.state
	m.mu.Unlock()

	// An unvalidated or stale-but-not-rejected session gets a cheap
	// probe first. An expired one goes straight to re-login.
	if existing != nil && state != StateExpired && m.opts.Probe != nil {
		if err := m.opts.Probe(ctx, existing); err == nil {
			m.markValid(existing)
			return existing, nil
		} else if ctx.Err() != nil {
			return nil, ctx.Err()
		} else {
			slog.Info("Cached session rejected, logging in again", "error", err)
		}
	} else if existing != nil && state == StateUnvalidated && m.opts.Probe == nil {
		// Nothing to probe with: trust the cached session until a
		// worker invalidates it.
		m.markValid(existing)
		return existing, nil
	}

	var lastErr error
	for attempt := 1; attempt <= m.opts.LoginAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		s, err := m.opts.Login(ctx)
		if err == nil {
			if s.CreatedAt.IsZero() {
				s.CreatedAt = time.Now()
			}
			m.markValid(s)
			m.persist(s)
			slog.Info("Session established", "attempt", attempt)
			return s, nil
		}
		lastErr = err

		// Context cancellation is not a credential problem.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		slog.Warn("Login attempt failed", "attempt", attempt, "max_attempts", m.opts.LoginAttempts, "error", err)
		if attempt < m.opts.LoginAttempts {
			select {
			case <-time.After(m.opts.LoginBackoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	fatal := errors.NewCredentialError("login failed after repeated attempts", lastErr)
	m.mu.Lock()
	m.state = StateUnrecoverable
	m.fatalErr = fatal
	m.current = nil
	m.mu.Unlock()
	return nil, fatal
}

func (m *Manager) markValid(s *Session) {
	m.mu.Lock()
	m.current = s
	m.state = StateValid
	m.validatedAt = time.Now()
	m.mu.Unlock()
}

func (m *Manager) persist(s *Session) {
	if m.opts.CachePath == "" {
		return
	}
	if err := Save(s, m.opts.CachePath); err != nil {
		// Persistence is best-effort; a failed write only costs a
		// re-login next run.
		slog.Warn("Failed to persist session cache", "path", m.opts.CachePath, "error", err)
	}
}
