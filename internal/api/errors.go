package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/andr-235/fullstack-parser-sub002/internal/domain"
	"github.com/andr-235/fullstack-parser-sub002/internal/queue"
	"github.com/go-playground/validator/v10"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrDuplicateTask),
		errors.Is(err, domain.ErrTerminalState),
		errors.Is(err, queue.ErrDuplicateJob):
		return http.StatusConflict

	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest

	case errors.Is(err, queue.ErrQueueFull),
		errors.Is(err, domain.ErrRateLimitExceeded):
		return http.StatusTooManyRequests

	case errors.Is(err, queue.ErrQueueClosed),
		errors.Is(err, domain.ErrStorage):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, domain.ErrTaskNotFound):
		return "Collection not found"
	case errors.Is(err, domain.ErrTerminalState):
		return "Collection has already finished"
	case errors.Is(err, domain.ErrDuplicateTask), errors.Is(err, queue.ErrDuplicateJob):
		return "Collection already exists"
	case errors.Is(err, domain.ErrValidation):
		// Submission validation messages carry counts and limits only.
		return strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
	case errors.Is(err, queue.ErrQueueFull):
		return "Too many pending collections, try again later"
	case errors.Is(err, queue.ErrQueueClosed):
		return "Service is shutting down"
	case errors.Is(err, domain.ErrStorage):
		return "Storage is unavailable"
	default:
		return "An unexpected error occurred"
	}
}

// SanitizeValidationError turns validator errors into a short message naming
// the first offending field.
func SanitizeValidationError(err error) string {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		fe := ve[0]
		return fmt.Sprintf("Invalid %s: %s", strings.ToLower(fe.Field()), getValidationTagMessage(fe.Tag()))
	}
	return "Validation error"
}

// getValidationTagMessage maps validation tags to user-friendly error messages
func getValidationTagMessage(tag string) string {
	switch tag {
	case "required":
		return "required field"
	case "min":
		return "too short"
	case "max":
		return "too long"
	case "oneof":
		return "invalid value"
	default:
		return "validation failed"
	}
}
