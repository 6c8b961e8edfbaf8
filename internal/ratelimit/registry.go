package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Registry hands out one Limiter per source key. Sources are independent:
// waiting on one source never delays callers targeting another.
type Registry struct {
	mu          sync.Mutex
	limiters    map[string]*Limiter
	minInterval time.Duration
	overrides   map[string]time.Duration
}

// NewRegistry creates a Registry whose limiters space dispatches for the
// same source by minInterval.
func NewRegistry(minInterval time.Duration) *Registry {
	return &Registry{
		limiters:    make(map[string]*Limiter),
		minInterval: minInterval,
		overrides:   make(map[string]time.Duration),
	}
}

// SetInterval overrides the dispatch interval for a single source key.
// Must be called before the first Wait for that source.
func (r *Registry) SetInterval(source string, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[source] = interval
}

// Get returns the limiter for the given source key, creating it on first use.
func (r *Registry) Get(source string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[source]; ok {
		return l
	}

	interval := r.minInterval
	if override, ok := r.overrides[source]; ok {
		interval = override
	}

	l := NewInterval(source, interval)
	r.limiters[source] = l
	return l
}

// Wait blocks until the source's limiter allows a dispatch.
func (r *Registry) Wait(ctx context.Context, source string) error {
	return r.Get(source).Wait(ctx)
}
