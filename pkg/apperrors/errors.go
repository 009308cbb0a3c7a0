package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for transport mapping.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindUnauthenticated    Kind = "UNAUTHENTICATED"
	KindForbidden          Kind = "FORBIDDEN"
	KindNotFound           Kind = "NOT_FOUND"
	KindConflict           Kind = "CONFLICT"
	KindPreconditionFailed Kind = "PRECONDITION_FAILED"
	KindInternal           Kind = "INTERNAL"
	KindUnavailable        Kind = "UNAVAILABLE"
)

// Machine codes surfaced to clients alongside the kind.
const (
	CodeTripLocked            = "TRIP_LOCKED"
	CodeTripAlreadyAccepted   = "TRIP_ALREADY_ACCEPTED"
	CodeTripNotAvailable      = "TRIP_NOT_AVAILABLE"
	CodeDriverLocationMissing = "DRIVER_LOCATION_MISSING"
	CodeDriverOffline         = "DRIVER_OFFLINE"
	CodeDriverBusy            = "DRIVER_BUSY"
	CodeAccessDenied          = "ACCESS_DENIED"
	CodeInvalidTransition     = "INVALID_TRANSITION"
	CodeAlreadyRated          = "ALREADY_RATED"
)

// Error is the typed result error returned by every public operation.
type Error struct {
	Kind    Kind                   `json:"error"`
	Code    string                 `json:"code,omitempty"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Err     error                  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the kind to its HTTP-equivalent status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// New creates an error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation creates a VALIDATION error.
func Validation(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

// Unauthenticated creates an UNAUTHENTICATED error.
func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

// Forbidden creates a FORBIDDEN error with the ACCESS_DENIED code.
func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeAccessDenied, Message: message}
}

// NotFound creates a NOT_FOUND error.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Conflict creates a CONFLICT error with a machine code.
func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// Precondition creates a PRECONDITION_FAILED error for illegal state transitions.
func Precondition(message string) *Error {
	return &Error{Kind: KindPreconditionFailed, Code: CodeInvalidTransition, Message: message}
}

// Unavailable creates an UNAVAILABLE error with a machine code.
func Unavailable(code, message string) *Error {
	return &Error{Kind: KindUnavailable, Code: code, Message: message}
}

// Internal wraps an unexpected failure. The cause is logged, never surfaced.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: message, Err: err}
}

// WithData attaches structured payload data for the client.
func (e *Error) WithData(data map[string]interface{}) *Error {
	e.Data = data
	return e
}

// As extracts an *Error from an error chain, or wraps it as INTERNAL.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("unexpected error", err)
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
