package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by stores when a workspace-scoped lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrorKind classifies failures at the service boundary.
type ErrorKind string

const (
	KindValidation     ErrorKind = "validation_error"
	KindAuthentication ErrorKind = "unauthorized"
	KindAuthorization  ErrorKind = "forbidden"
	KindNotFound       ErrorKind = "not_found"
	KindConflict       ErrorKind = "conflict"
	KindRateLimited    ErrorKind = "rate_limited"
	KindUpstream       ErrorKind = "upstream_error"
	KindInternal       ErrorKind = "internal_error"
)

// Error is a classified failure. Transport layers map Kind to a status code.
type Error struct {
	Kind       ErrorKind
	Message    string
	Details    any
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a classified error, or KindInternal.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// AsError extracts a classified error, wrapping unclassified ones as internal.
func AsError(err error) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return Internal(err)
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindAuthentication, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindAuthorization, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Message: msg}
}

// RateLimited carries the time until the current window closes.
func RateLimited(retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: "Too many requests", RetryAfter: retryAfter}
}

func Upstream(msg string, err error, details any) *Error {
	return &Error{Kind: KindUpstream, Message: msg, Err: err, Details: details}
}

func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Message: "Internal server error", Err: err}
}
