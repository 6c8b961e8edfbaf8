package fetch

import (
	"math/rand/v2"
	"time"
)

// Policy decides whether and when a failed attempt is retried. The
// decision depends only on the failure class and the attempt number.
type Policy struct {
	// MaxAttempts is the hard ceiling across all classes.
	MaxAttempts int
	// BaseDelay seeds the exponential backoff for transient failures.
	BaseDelay time.Duration
	// MaxDelay caps any single computed delay.
	MaxDelay time.Duration
	// RateLimitDelay seeds the backoff after an explicit throttle. A
	// server-provided hint overrides it when longer.
	RateLimitDelay time.Duration
	// MalformedAttempts is a tighter ceiling for malformed responses.
	MalformedAttempts int
	// Jitter is the fraction (0..1) of random spread added to each
	// delay so parallel retries do not re-synchronize.
	Jitter float64
}

// DefaultPolicy returns the policy used by the commands.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       4,
		BaseDelay:         500 * time.Millisecond,
		MaxDelay:          30 * time.Second,
		RateLimitDelay:    5 * time.Second,
		MalformedAttempts: 2,
		Jitter:            0.25,
	}
}

// Decision is the outcome of a retry check.
type Decision struct {
	Retry bool
	// After is how long to wait before the next attempt. Zero means
	// retry immediately (used after a session refresh).
	After time.Duration
}

// Decide returns the retry decision after attempt number `attempt`
// (1-based) failed with class `class`. `hint` is an optional
// server-suggested delay, zero when absent.
func (p Policy) Decide(attempt int, class Classification, hint time.Duration) Decision {
	if class == ClassPermanent || class == ClassCredential {
		return Decision{}
	}
	if attempt >= p.MaxAttempts {
		return Decision{}
	}

	switch class {
	case ClassAuthExpired:
		// The orchestrator refreshes the session first; no point in
		// also sleeping.
		return Decision{Retry: true}
	case ClassMalformed:
		if attempt >= p.MalformedAttempts {
			return Decision{}
		}
		return Decision{Retry: true, After: p.backoff(p.BaseDelay, attempt)}
	case ClassRateLimited:
		d := p.backoff(p.RateLimitDelay, attempt)
		if hint > d {
			d = hint
		}
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
		return Decision{Retry: true, After: d}
	default:
		return Decision{Retry: true, After: p.backoff(p.BaseDelay, attempt)}
	}
}

// backoff computes base * 2^(attempt-1), capped and jittered.
func (p Policy) backoff(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d += time.Duration(rand.Float64() * spread)
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	return d
}
