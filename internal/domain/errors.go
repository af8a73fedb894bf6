package domain

import (
	"context"
	"errors"
	"fmt"
)

// Common domain errors used across the application.
var (
	// ErrValidation is returned when submitted input is malformed.
	// Per-line failures are reported as *ValidationError, which wraps it.
	ErrValidation = errors.New("validation failed")

	// ErrDuplicateTask is returned when a task with the same ID already exists.
	ErrDuplicateTask = errors.New("task already exists")

	// ErrTaskNotFound is returned when a task is unknown or has expired.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTerminalState is returned when a patch tries to move a task out of a
	// terminal status.
	ErrTerminalState = errors.New("task is in a terminal state")

	// ErrRateLimitExceeded marks external API responses that report throttling.
	// It is always carried inside a transient *ExternalAPIError.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrStorage marks infrastructure failures (store unreachable, broker down).
	ErrStorage = errors.New("storage failure")

	// ErrUnknown wraps errors that could not be classified.
	ErrUnknown = errors.New("unknown error")
)

// ErrorCode is the stable classification recorded in a job's error list.
type ErrorCode string

// Error codes recorded in CollectionJob.Errors.
const (
	CodeValidation        ErrorCode = "validation"
	CodeDuplicateTask     ErrorCode = "duplicate_task"
	CodeTaskNotFound      ErrorCode = "task_not_found"
	CodeExternalTransient ErrorCode = "external_api_transient"
	CodeExternalPermanent ErrorCode = "external_api_permanent"
	CodeRateLimited       ErrorCode = "rate_limited"
	CodeStorage           ErrorCode = "storage"
	CodeCancelled         ErrorCode = "cancelled"
	CodeUnknown           ErrorCode = "unknown"
)

// ValidationError describes one malformed input line.
type ValidationError struct {
	Line int    // 1-based line number in the submitted input
	Raw  string // the line as submitted
	Hint string // what was expected
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("line %d: invalid identifier %q: %s", e.Line, e.Raw, e.Hint)
}

// Unwrap lets errors.Is match ErrValidation.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// APIErrorKind separates retryable from non-retryable external failures.
type APIErrorKind string

// External API error kinds.
const (
	Transient APIErrorKind = "transient"
	Permanent APIErrorKind = "permanent"
)

// ExternalAPIError carries enough context about a failed external call to
// analyse it later: the operation, the target identifier and the API's own code.
type ExternalAPIError struct {
	Kind      APIErrorKind
	Operation string // e.g. "groups.getById"
	Target    string // canonical identifier key, empty for batch-level failures
	Code      string // API error code, HTTP status or a local code such as "circuit_open"
	Message   string
	Err       error
}

// Error implements the error interface for ExternalAPIError.
func (e *ExternalAPIError) Error() string {
	msg := fmt.Sprintf("%s external api error in %s", e.Kind, e.Operation)
	if e.Target != "" {
		msg += fmt.Sprintf(" for %s", e.Target)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" (code %s)", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped error to support errors.Is/errors.As.
func (e *ExternalAPIError) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure may succeed on retry.
func (e *ExternalAPIError) Transient() bool {
	return e.Kind == Transient
}

// WithTarget returns a copy of the error scoped to a single identifier.
func (e *ExternalAPIError) WithTarget(target string) *ExternalAPIError {
	cp := *e
	cp.Target = target
	return &cp
}

// StorageError wraps an infrastructure failure with the operation that hit it.
type StorageError struct {
	Operation string
	Err       error
}

// Error implements the error interface for StorageError.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the wrapped error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool {
	return target == ErrStorage
}

// NewStorageError wraps err as an infrastructure failure. Nil stays nil, and
// task lifecycle sentinels pass through untouched so callers can still match them.
func NewStorageError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrDuplicateTask) ||
		errors.Is(err, ErrTerminalState) || errors.Is(err, ErrStorage) {
		return err
	}
	return &StorageError{Operation: operation, Err: err}
}

// IsTransientAPIError reports whether err is a retryable external API failure.
func IsTransientAPIError(err error) bool {
	var apiErr *ExternalAPIError
	return errors.As(err, &apiErr) && apiErr.Transient()
}

// ClassifyError maps any error to the code recorded in a job's error list.
func ClassifyError(err error) ErrorCode {
	var apiErr *ExternalAPIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrDuplicateTask):
		return CodeDuplicateTask
	case errors.Is(err, ErrTaskNotFound):
		return CodeTaskNotFound
	case errors.Is(err, ErrRateLimitExceeded):
		return CodeRateLimited
	case errors.As(err, &apiErr):
		if apiErr.Transient() {
			return CodeExternalTransient
		}
		return CodeExternalPermanent
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.Is(err, ErrStorage):
		return CodeStorage
	default:
		return CodeUnknown
	}
}
