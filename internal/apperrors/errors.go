// Package apperrors provides structured application errors for the CLI's
// failure taxonomy.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrConfiguration = errors.New("configuration error")
	ErrInput         = errors.New("input error")
	ErrTransport     = errors.New("transport error")
	ErrAPI           = errors.New("api error")

	// ErrNotFound is the 404 case of ErrAPI; errors.Is matches both.
	ErrNotFound = fmt.Errorf("%w: not found", ErrAPI)
)

// Error provides structured error with context.
type Error struct {
	Sentinel   error  // Wrapped sentinel for errors.Is() classification
	Message    string // Human-readable message
	Field      string // For configuration/input errors (e.g., "SOKOSUMI_API_KEY", "inputData")
	Op         string // Operation that failed (e.g., "GET /jobs/abc")
	StatusCode int    // HTTP status for API errors
	Body       string // Response body for API errors
	Cause      error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel and the cause so errors.Is() sees both.
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Configuration creates an error for missing or invalid configuration.
func Configuration(field, message string) error {
	return &Error{
		Sentinel: ErrConfiguration,
		Message:  message,
		Field:    field,
	}
}

// Input creates an error for a malformed command argument.
func Input(field, message string) error {
	return &Error{
		Sentinel: ErrInput,
		Message:  message,
		Field:    field,
	}
}

// Transport creates an error for a request that never produced a response.
func Transport(op string, cause error) error {
	return &Error{
		Sentinel: ErrTransport,
		Message:  fmt.Sprintf("Network error: %v", cause),
		Op:       op,
		Cause:    cause,
	}
}

// API creates an error for a non-2xx response. A 404 is reported as
// NotFound.
func API(op string, statusCode int, body string) error {
	if statusCode == http.StatusNotFound {
		return NotFound(op, body)
	}
	return &Error{
		Sentinel:   ErrAPI,
		Message:    fmt.Sprintf("API error (%d): %s", statusCode, body),
		Op:         op,
		StatusCode: statusCode,
		Body:       body,
	}
}

// NotFound creates an error for a resource the marketplace does not know.
func NotFound(op, body string) error {
	return &Error{
		Sentinel:   ErrNotFound,
		Message:    fmt.Sprintf("API error (%d): %s", http.StatusNotFound, body),
		Op:         op,
		StatusCode: http.StatusNotFound,
		Body:       body,
	}
}

// StatusCode returns the HTTP status carried by an API error, or 0.
func StatusCode(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}

// IsRetryable reports whether a later attempt could succeed: transport
// failures, rate limiting, and server-side API errors.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTransport):
		return true
	case errors.Is(err, ErrAPI):
		code := StatusCode(err)
		return code == http.StatusTooManyRequests || code >= 500
	default:
		return false
	}
}
