package graphapi

import (
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Group is the raw groups.getById item.
type Group struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	ScreenName   string `json:"screen_name"`
	IsClosed     int    `json:"is_closed"` // 0 open, 1 closed, 2 private
	Deactivated  string `json:"deactivated,omitempty"`
	Type         string `json:"type"`
	MembersCount int    `json:"members_count"`
	Photo200     string `json:"photo_200,omitempty"`
	Description  string `json:"description,omitempty"`
}

// API error codes the collector reacts to.
const (
	CodeUnknown          = 1
	CodeAuthFailed       = 5
	CodeTooManyRequests  = 6
	CodeFloodControl     = 9
	CodeInternal         = 10
	CodeAccessDenied     = 15
	CodeDeleted          = 18
	CodeRateLimitReached = 29
	CodeInvalidParam     = 100
	CodeInvalidUserID    = 113
	CodeGroupAccess      = 203
)

// Error is a failure reported by the API itself, either in the error
// envelope or as a non-200 HTTP status.
type Error struct {
	Method     string
	HTTPStatus int
	Code       int // API error code; 0 when only an HTTP status is known
	Message    string
}

// Error implements the error interface for Error.
func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: api error %d: %s", e.Method, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: http %d: %s", e.Method, e.HTTPStatus, e.Message)
}

// Transient reports whether the call may succeed if repeated.
func (e *Error) Transient() bool {
	switch e.Code {
	case CodeUnknown, CodeTooManyRequests, CodeFloodControl, CodeInternal, CodeRateLimitReached:
		return true
	case 0:
		return e.HTTPStatus == http.StatusTooManyRequests || e.HTTPStatus >= 500 || e.HTTPStatus == http.StatusOK
	default:
		return false
	}
}

// RateLimited reports whether the API asked the caller to slow down.
func (e *Error) RateLimited() bool {
	switch e.Code {
	case CodeTooManyRequests, CodeFloodControl, CodeRateLimitReached:
		return true
	case 0:
		return e.HTTPStatus == http.StatusTooManyRequests
	default:
		return false
	}
}

// TransportError is a network-level failure: no usable HTTP response arrived.
// Err carries the redacted message; the original error stays reachable
// through Unwrap for timeout checks.
type TransportError struct {
	Method string
	Err    error
	cause  error
}

// Error implements the error interface for TransportError.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Method, e.Err)
}

// Unwrap returns the original error.
func (e *TransportError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return e.Err
}

// Timeout reports whether the failure was a timeout.
func (e *TransportError) Timeout() bool {
	var netErr net.Error
	return errors.As(e.cause, &netErr) && netErr.Timeout()
}
