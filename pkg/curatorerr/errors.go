// Package curatorerr implements the core's polymorphic error channel: a
// tagged error kind plus an optional cause, instead of an inheritance-based
// exception hierarchy. The Coordinator and Sink pass these across the
// journal boundary; callers switch on Kind rather than type-asserting a
// concrete error type.
package curatorerr

import (
	"errors"
	"fmt"
)

// Kind tags the category of failure.
type Kind string

const (
	NotFound               Kind = "NOT_FOUND"
	AlreadyExists          Kind = "ALREADY_EXISTS"
	InvalidStateTransition Kind = "INVALID_STATE_TRANSITION"
	RuleViolation          Kind = "RULE_VIOLATION"
	ReferenceInvalid       Kind = "REFERENCE_INVALID"
	Timeout                Kind = "TIMEOUT"
	StorageUnavailable     Kind = "STORAGE_UNAVAILABLE"
	Conflict               Kind = "CONFLICT"
	Fatal                  Kind = "FATAL"
	Shutdown               Kind = "SHUTDOWN"
)

// Error is the concrete error type carrying a Kind, a human message and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf builds an *Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Is reports whether err (or anything it wraps) is a curatorerr.Error of
// kind k.
func Is(err error, k Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// KindOf returns the Kind of err if it is (or wraps) an *Error, and false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
