// Package apperr defines the error taxonomy used across the HTTP surface
// (spec §7) and the uniform error envelope it is rendered into.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies a category of error from the §7 taxonomy.
type Kind string

const (
	KindValidation          Kind = "Validation"
	KindAuthRequired        Kind = "AuthRequired"
	KindAuthFailed          Kind = "AuthFailed"
	KindUnentitled          Kind = "Unentitled"
	KindForbidden           Kind = "Forbidden"
	KindNotFound            Kind = "NotFound"
	KindConflict            Kind = "Conflict"
	KindLimitReached        Kind = "LimitReached"
	KindRateLimited         Kind = "RateLimited"
	KindUpstreamUnreachable Kind = "UpstreamUnreachable"
	KindNotRunning          Kind = "NotRunning"
	KindProviderDown        Kind = "ProviderDown"
	KindEngineError         Kind = "EngineError"
	KindInternal            Kind = "Internal"
)

var statusByKind = map[Kind]int{
	KindValidation:          http.StatusBadRequest,
	KindAuthRequired:        http.StatusUnauthorized,
	KindAuthFailed:          http.StatusUnauthorized,
	KindUnentitled:          http.StatusForbidden,
	KindForbidden:           http.StatusForbidden,
	KindNotFound:            http.StatusNotFound,
	KindConflict:            http.StatusConflict,
	// LimitReached is surfaced as 400 per spec §8's boundary test, not 403
	// — the account isn't forbidden from creating workspaces, it has hit
	// a quota on a request that was otherwise well-formed.
	KindLimitReached:        http.StatusBadRequest,
	KindRateLimited:         http.StatusTooManyRequests,
	KindUpstreamUnreachable: http.StatusBadGateway,
	KindNotRunning:          http.StatusServiceUnavailable,
	KindProviderDown:        http.StatusServiceUnavailable,
	KindEngineError:         http.StatusInternalServerError,
	KindInternal:            http.StatusInternalServerError,
}

// Error is a typed error carrying an HTTP-facing Kind, a human message, and
// optional structured details. Secrets must never be placed in Message or
// Details — this type does not redact, it relies on callers never putting
// secret material there in the first place.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Status returns the HTTP status code for the error's Kind.
func (e *Error) Status() int {
	if s, ok := statusByKind[e.Kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New constructs an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: cause}
}

// WithDetails attaches structured details to the error and returns it.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// As extracts an *Error from err, if present.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
