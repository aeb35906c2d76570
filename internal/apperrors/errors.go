// Package apperrors provides structured application errors with HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	// ErrPreconditionFailed indicates required input (e.g. lyrics) is missing
	// before submission. Never retried.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrAlreadyInProgress indicates a duplicate submission attempt while the
	// song is still processing. Never retried.
	ErrAlreadyInProgress = errors.New("generation already in progress")
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("not found")
	// ErrProviderUnauthorized indicates the provider rejected our credentials.
	ErrProviderUnauthorized = errors.New("provider unauthorized")
	// ErrProviderBadRequest indicates the provider rejected the request payload.
	ErrProviderBadRequest = errors.New("provider bad request")
	// ErrProviderTransient indicates a retryable provider failure, surfaced
	// only after the retry budget is exhausted.
	ErrProviderTransient = errors.New("provider unavailable")
	// ErrProviderTaskNotFound indicates a poll or callback referenced a task
	// the provider does not know about.
	ErrProviderTaskNotFound = errors.New("provider task not found")
	// ErrTimeout indicates the expiry sweeper force-failed a stale song.
	ErrTimeout = errors.New("generation timed out")
	// ErrValidation indicates invalid client input.
	ErrValidation = errors.New("validation error")
	// ErrInternal indicates an unexpected internal failure.
	ErrInternal = errors.New("internal error")
)

// Error provides a structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Resource string // Affected resource (e.g. "song")
	Op       string // Operation that failed (e.g. "muse.submit")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel error for errors.Is() classification.
func (e *Error) Unwrap() error {
	return e.Sentinel
}

// PreconditionFailed creates an error for missing required input.
func PreconditionFailed(resource, reason string) error {
	return &Error{
		Sentinel: ErrPreconditionFailed,
		Message:  reason,
		Resource: resource,
	}
}

// AlreadyInProgress creates an error for a duplicate submission attempt.
func AlreadyInProgress(resource, id string) error {
	return &Error{
		Sentinel: ErrAlreadyInProgress,
		Message:  fmt.Sprintf("%s %s is already being generated", resource, id),
		Resource: resource,
	}
}

// NotFound creates a not found error for a resource.
func NotFound(resource, id string) error {
	return &Error{
		Sentinel: ErrNotFound,
		Message:  fmt.Sprintf("%s %s not found", resource, id),
		Resource: resource,
	}
}

// Validation creates a validation error.
func Validation(message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
	}
}

// Provider wraps a provider-client error under the given sentinel, keeping
// the error kind visible to callers deciding whether to keep polling.
func Provider(sentinel error, op string, cause error) error {
	return &Error{
		Sentinel: sentinel,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
