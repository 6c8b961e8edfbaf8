package errors

import (
	stdErrors "errors"
	"fmt"
	"time"
)

// RateLimitError represents an explicit throttling signal from an upstream
// source (HTTP 429 or equivalent).
type RateLimitError struct {
	Message string
	// RetryAfter is the server-suggested wait before the next attempt.
	// Zero means the server gave no hint.
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.Message, e.RetryAfter)
	}
	return e.Message
}

// NewRateLimitError creates a new RateLimitError with the given message
func NewRateLimitError(message string) *RateLimitError {
	return &RateLimitError{Message: message}
}

// NewRateLimitErrorWithRetry creates a RateLimitError carrying a
// server-suggested retry delay (e.g. from a Retry-After header).
func NewRateLimitErrorWithRetry(message string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{Message: message, RetryAfter: retryAfter}
}

// IsRateLimitError reports whether err is a RateLimitError (even when wrapped).
func IsRateLimitError(err error) bool {
	var rlErr *RateLimitError
	return stdErrors.As(err, &rlErr)
}
