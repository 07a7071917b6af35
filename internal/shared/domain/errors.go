package domain

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping. Kinds are stable: they are
// serialized as error_code values on the wire.
type Kind string

const (
	KindInvalidArgument Kind = "invalid_argument"
	KindAuthRequired    Kind = "auth_required"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindRateLimited     Kind = "rate_limited"
	KindInternal        Kind = "internal"
)

// Error is a classified domain error with a stable code.
type Error struct {
	kind Kind
	code string
	msg  string
	err  error
}

// E creates a classified error. code is the stable machine-readable code
// (e.g. "session_exists"); msg is the human-readable message.
func E(kind Kind, code, msg string) *Error {
	return &Error{kind: kind, code: code, msg: msg}
}

// Ef creates a classified error with a formatted message.
func Ef(kind Kind, code, format string, args ...any) *Error {
	return &Error{kind: kind, code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, code string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, code: code, msg: err.Error(), err: err}
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Kind() Kind    { return e.kind }
func (e *Error) Code() string  { return e.code }

// KindOf extracts the Kind from an error chain; unclassified errors are
// Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.kind
	}
	return KindInternal
}

// CodeOf extracts the stable code from an error chain, or "internal".
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) && de.code != "" {
		return de.code
	}
	return "internal"
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Common store errors shared across bounded contexts.
var (
	ErrUnknownAccount = E(KindNotFound, "unknown_account", "account not found")
	ErrInUse          = E(KindConflict, "in_use", "entity is referenced and cannot be deleted")
	ErrSessionExists  = E(KindConflict, "session_exists", "an unfinished onboarding session already exists")
)
