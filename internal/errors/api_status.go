package errors

import (
	stdErrors "errors"
	"fmt"
	"strings"
)

// APIStatusError represents a catalog API access error (invalid key, plan
// restriction, server failure) derived from an HTTP status code.
type APIStatusError struct {
	Message    string
	StatusCode int
	APIMessage string // Error message from the API body if available
}

func (e *APIStatusError) Error() string {
	if e.APIMessage != "" {
		return fmt.Sprintf("%s (HTTP %d): %s", e.Message, e.StatusCode, e.APIMessage)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Message, e.StatusCode)
}

// NewAPIStatusError creates a new API access error
func NewAPIStatusError(statusCode int, apiMessage string) *APIStatusError {
	var message string
	apiLower := strings.ToLower(apiMessage)

	switch statusCode {
	case 403:
		if strings.Contains(apiLower, "plan") {
			message = "Endpoint not available on current subscription plan"
		} else {
			message = "Access forbidden - check API key and plan"
		}
	case 401:
		message = "Invalid API key"
	default:
		message = "Catalog API access error"
	}

	return &APIStatusError{
		Message:    message,
		StatusCode: statusCode,
		APIMessage: apiMessage,
	}
}

// IsAPIStatusError checks if error is an APIStatusError
func IsAPIStatusError(err error) bool {
	var statusErr *APIStatusError
	return stdErrors.As(err, &statusErr)
}
