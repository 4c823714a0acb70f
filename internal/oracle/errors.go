package oracle

import (
	"errors"
	"fmt"
)

// Kind classifies a rejected request
type Kind int

const (
	KindBadRequest Kind = iota + 1
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "BadRequest"
	case KindUnauthorized:
		return "Unauthorized"
	case KindForbidden:
		return "Forbidden"
	case KindNotFound:
		return "NotFound"
	case KindConflict:
		return "Conflict"
	}
	return "Unknown"
}

func (k Kind) prefix() string {
	switch k {
	case KindBadRequest:
		return "Bad Request: "
	case KindUnauthorized:
		return "Unauthorized: "
	case KindForbidden:
		return "Forbidden: "
	case KindNotFound:
		return "Not Found: "
	case KindConflict:
		return "Conflict: "
	}
	return ""
}

// Error is a synchronous rejection of a request. It never mutates state.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Kind.prefix() + e.Msg
}

func newError(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func badRequest(format string, args ...interface{}) error {
	return newError(KindBadRequest, format, args...)
}

func unauthorized(format string, args ...interface{}) error {
	return newError(KindUnauthorized, format, args...)
}

func forbidden(format string, args ...interface{}) error {
	return newError(KindForbidden, format, args...)
}

func notFound(format string, args ...interface{}) error {
	return newError(KindNotFound, format, args...)
}

func conflict(format string, args ...interface{}) error {
	return newError(KindConflict, format, args...)
}

// KindOf returns the kind of a domain rejection. ok is false for infrastructure errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}
