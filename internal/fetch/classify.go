package fetch

import (
	"context"
	stdErrors "errors"
	"net"
	"net/url"
	"syscall"

	bibErrors "github.com/lepinkainen/biblio/internal/errors"
)

// Classification names a failure class. Class, not cause: the retry
// policy keys off these, never off raw error strings.
type Classification string

const (
	// ClassTransient covers network-level blips: timeouts, resets,
	// refused connections. Worth retrying with backoff.
	ClassTransient Classification = "transient-network"
	// ClassRateLimited means the server explicitly throttled us.
	// Retried after a longer, hint-aware delay.
	ClassRateLimited Classification = "rate-limited"
	// ClassAuthExpired means the session was rejected mid-batch.
	// Retried immediately after a session refresh.
	ClassAuthExpired Classification = "auth-expired"
	// ClassMalformed means the response arrived but had the wrong
	// shape. Retried only a couple of times: persistent malformed
	// responses usually mean a block page or a changed API.
	ClassMalformed Classification = "malformed-response"
	// ClassPermanent is never retried: missing resources, 4xx-style
	// rejections.
	ClassPermanent Classification = "permanent"
	// ClassCredential means the login itself failed. Never retried,
	// and the orchestrator halts the whole batch on first sight.
	ClassCredential Classification = "credential"
)

// Classify maps an attempt error to its failure class. Unknown errors
// default to transient so that a novel failure mode gets the benefit of
// a few retries instead of being dropped on sight.
func Classify(err error) Classification {
	switch {
	case bibErrors.IsCredentialError(err):
		return ClassCredential
	case bibErrors.IsRateLimitError(err):
		return ClassRateLimited
	case bibErrors.IsAuthError(err):
		return ClassAuthExpired
	case bibErrors.IsMalformedError(err):
		return ClassMalformed
	case bibErrors.IsNotFoundError(err):
		return ClassPermanent
	case bibErrors.IsAPIStatusError(err):
		return ClassPermanent
	}

	if stdErrors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	var urlErr *url.Error
	if stdErrors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var netErr net.Error
	if stdErrors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}
	if stdErrors.Is(err, syscall.ECONNREFUSED) ||
		stdErrors.Is(err, syscall.ECONNRESET) ||
		stdErrors.Is(err, syscall.EPIPE) {
		return ClassTransient
	}
	var opErr *net.OpError
	if stdErrors.As(err, &opErr) {
		return ClassTransient
	}

	return ClassTransient
}
