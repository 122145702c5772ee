package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies engine errors into the taxonomy surfaced over HTTP.
type Kind string

const (
	KindValidation    Kind = "validation_failure"
	KindAuth          Kind = "auth_failure"
	KindNotFound      Kind = "not_found"
	KindRateLimited   Kind = "rate_limited"
	KindStateConflict Kind = "state_conflict"
	KindWorkerFailure Kind = "worker_failure"
	KindTransient     Kind = "transient"
	KindInternal      Kind = "internal"
)

// Error is a classified engine error. Details carries structured payloads
// (e.g. ordered validation error lists) that handlers return verbatim.
type Error struct {
	Kind    Kind
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates a classified error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithDetails attaches a structured payload to the error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// Validation creates a validation failure carrying the ordered error list.
func Validation(message string, details any) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

// NotFound creates a not-found error for the named resource.
func NotFound(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found: %s", resource, id)}
}

// StateConflict creates a CAS conflict error reporting the observed status.
func StateConflict(nodeID, expected, observed string) *Error {
	return &Error{
		Kind:    KindStateConflict,
		Message: fmt.Sprintf("node %s: expected status %s, observed %s", nodeID, expected, observed),
		Details: map[string]string{"node_id": nodeID, "expected": expected, "observed": observed},
	}
}

// KindOf reports the Kind of err, or KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the public message of a classified error. Unclassified
// errors get a generic message so wrapped internals never reach clients.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// DetailsOf returns the structured payload attached to err, if any.
func DetailsOf(err error) any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// HTTPStatus maps an error kind to its response status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindStateConflict:
		return http.StatusConflict
	case KindWorkerFailure:
		return http.StatusBadGateway
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
