package dynatrace

import "errors"

// Common errors
var (
	ErrRequestFailed = NewAPIError("request failed", "REQUEST_FAILED")
	ErrAuthFailed    = NewAPIError("authentication failed, wrong token?", "AUTH_FAILED")
	ErrRateLimited   = NewAPIError("rate limit exceeded", "RATE_LIMITED")
	ErrInconsistent  = NewAPIError("inconsistent response", "INCONSISTENT_RESPONSE")
)

// APIError represents an error from the Dynatrace API.
type APIError struct {
	Message    string
	Code       string
	StatusCode int
	Wrapped    error
}

// NewAPIError creates a new APIError
func NewAPIError(message, code string) *APIError {
	return &APIError{Message: message, Code: code}
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Wrapped != nil {
		return e.Message + ": " + e.Wrapped.Error()
	}
	return e.Message
}

// Wrap wraps an underlying error
func (e *APIError) Wrap(err error) *APIError {
	return &APIError{
		Message:    e.Message,
		Code:       e.Code,
		StatusCode: e.StatusCode,
		Wrapped:    err,
	}
}

// WithStatus returns a copy carrying the HTTP status code.
func (e *APIError) WithStatus(status int) *APIError {
	c := *e
	c.StatusCode = status
	return &c
}

// Unwrap returns the wrapped error
func (e *APIError) Unwrap() error {
	return e.Wrapped
}

// Is matches errors by code, so wrapped copies still match the sentinels.
func (e *APIError) Is(target error) bool {
	var t *APIError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// retryable reports whether the status code is worth another attempt.
func retryable(status int) bool {
	return status == 429 || status >= 500
}
