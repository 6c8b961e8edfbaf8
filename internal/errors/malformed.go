package errors

import (
	stdErrors "errors"
	"fmt"
)

// MalformedError represents a response that arrived but did not have the
// expected shape: an HTML error page where a binary file was expected, a
// payload below the plausible minimum size, or JSON that fails to parse.
// Persistent malformed responses usually mean a block, not a blip.
type MalformedError struct {
	Reason string
	Size   int
}

func (e *MalformedError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("malformed response: %s (%d bytes)", e.Reason, e.Size)
	}
	return "malformed response: " + e.Reason
}

// NewMalformedError creates a MalformedError with the given reason.
func NewMalformedError(reason string, size int) *MalformedError {
	return &MalformedError{Reason: reason, Size: size}
}

// IsMalformedError reports whether err is a MalformedError (even when wrapped).
func IsMalformedError(err error) bool {
	var malErr *MalformedError
	return stdErrors.As(err, &malErr)
}

// NotFoundError represents a resource that the upstream source reports as
// missing. Never retried.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	return "not found: " + e.Resource
}

// NewNotFoundError creates a NotFoundError for the given resource.
func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource}
}

// IsNotFoundError reports whether err is a NotFoundError (even when wrapped).
func IsNotFoundError(err error) bool {
	var nfErr *NotFoundError
	return stdErrors.As(err, &nfErr)
}
