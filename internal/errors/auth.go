package errors

import stdErrors "errors"

// AuthError represents a response indicating the current session was
// rejected (login redirect, 401/403 on an authenticated endpoint).
// The session itself may still be recoverable via a refresh.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// NewAuthError creates a new AuthError with the given message
func NewAuthError(message string) *AuthError {
	return &AuthError{Message: message}
}

// IsAuthError reports whether err is an AuthError (even when wrapped).
func IsAuthError(err error) bool {
	var authErr *AuthError
	return stdErrors.As(err, &authErr)
}

// CredentialError represents an unrecoverable authentication failure:
// re-login itself failed past its retry budget. No further authenticated
// work is possible until the operator fixes the credentials.
type CredentialError struct {
	Message string
	Cause   error
}

func (e *CredentialError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *CredentialError) Unwrap() error {
	return e.Cause
}

// NewCredentialError creates a CredentialError wrapping the refresh failure.
func NewCredentialError(message string, cause error) *CredentialError {
	return &CredentialError{Message: message, Cause: cause}
}

// IsCredentialError reports whether err is a CredentialError (even when wrapped).
func IsCredentialError(err error) bool {
	var credErr *CredentialError
	return stdErrors.As(err, &credErr)
}
