// Package apperr defines the platform error taxonomy shared by every handler.
//
// Domain packages keep their own sentinel errors; handlers translate them
// into an *Error at the boundary so the response envelope always carries a
// stable code the frontend can switch on.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindBadRequest   Kind = "BAD_REQUEST"
	KindConflict     Kind = "CONFLICT"
	KindRateLimited  Kind = "RATE_LIMITED"
	KindConfig       Kind = "CONFIG_ERROR"
	KindUnavailable  Kind = "SERVICE_UNAVAILABLE"
	KindInternal     Kind = "INTERNAL_ERROR"
)

// Error is a classified, user-presentable error.
type Error struct {
	Kind    Kind
	Reason  string // optional machine-readable refinement, e.g. "plan_limit_exceeded"
	Message string
	Err     error // underlying cause, never shown to callers in production
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status mirroring the kind.
func (e *Error) Status() int { return HTTPStatus(e.Kind) }

// WithReason returns a copy carrying a machine-readable reason.
func (e *Error) WithReason(reason string) *Error {
	cp := *e
	cp.Reason = reason
	return &cp
}

// New creates an Error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an Error around a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Unauthorized(message string) *Error { return New(KindUnauthorized, message) }
func Forbidden(message string) *Error    { return New(KindForbidden, message) }
func NotFound(message string) *Error     { return New(KindNotFound, message) }
func Conflict(message string) *Error     { return New(KindConflict, message) }
func Config(message string) *Error       { return New(KindConfig, message) }

// RateLimited is returned by the request throttle.
func RateLimited(message string) *Error { return New(KindRateLimited, message) }

// BadRequest is the usual validation failure.
func BadRequest(message string) *Error { return New(KindBadRequest, message) }

// Unavailable marks a dependency outage the caller may retry.
func Unavailable(message string, err error) *Error {
	return Wrap(KindUnavailable, message, err)
}

// Internal wraps an unexpected failure.
func Internal(err error) *Error {
	return Wrap(KindInternal, "An unexpected error occurred", err)
}

// As extracts an *Error from err, converting anything unclassified to
// KindInternal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// KindOf returns the kind of err (KindInternal when unclassified).
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind to its status code.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindBadRequest:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindConfig, KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
