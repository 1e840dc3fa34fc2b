package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so cloned sentinels still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrRequest            = New("REQUEST_FAILED", http.StatusBadGateway, "request failed")
	ErrServiceUnavailable = New("SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, "inbox service unavailable")
	ErrInvalidTransition  = New("INVALID_TRANSITION", http.StatusConflict, "status transition not allowed")
	ErrMutationInFlight   = New("MUTATION_IN_FLIGHT", http.StatusConflict, "item already has a pending review")
	ErrEmptySelection     = New("EMPTY_SELECTION", http.StatusBadRequest, "no items selected")
	ErrBulkInFlight       = New("BULK_IN_FLIGHT", http.StatusConflict, "bulk action in progress")
	ErrBulkNotOpen        = New("BULK_NOT_OPEN", http.StatusConflict, "no bulk action awaiting confirmation")
	ErrViewClosed         = New("VIEW_CLOSED", http.StatusGone, "review queue closed")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// NewRequestError builds a RequestError keeping the upstream HTTP status.
// A zero status means the request never produced a response.
func NewRequestError(status int, message string, err error) *Error {
	if message == "" {
		message = ErrRequest.Message
	}
	return &Error{Code: ErrRequest.Code, Status: status, Message: message, Err: err}
}

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// IsCode reports whether err is an *Error carrying code.
func IsCode(err error, code string) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Code == code
}

// IsRequestError reports whether err came from a remote call.
func IsRequestError(err error) bool {
	return IsCode(err, ErrRequest.Code) || IsCode(err, ErrServiceUnavailable.Code)
}

// IsValidation reports whether err rejected malformed input.
func IsValidation(err error) bool {
	return IsCode(err, ErrValidation.Code)
}

// Message returns the human-readable message for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
