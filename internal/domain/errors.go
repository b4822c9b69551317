package domain

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindBadRequest Kind = iota
	KindUnauthorized
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not found"
	case KindConflict:
		return "conflict"
	default:
		return "bad request"
	}
}

// Error is the client-facing failure every operation returns. Err keeps the cause
// for logs; it never reaches the response body.
type Error struct {
	Kind  Kind
	Msg   string
	Field string
	Err   error
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

func BadRequest(msg string, err error) error { return &Error{Kind: KindBadRequest, Msg: msg, Err: err} }
func Unauthorized(msg string) error          { return &Error{Kind: KindUnauthorized, Msg: msg} }
func NotFound(msg string) error              { return &Error{Kind: KindNotFound, Msg: msg} }
func Conflict(msg string) error              { return &Error{Kind: KindConflict, Msg: msg} }

// ConflictField reports a uniqueness collision on field.
func ConflictField(field string) error {
	return &Error{Kind: KindConflict, Field: field, Msg: fmt.Sprintf("user with this %s already exists", field)}
}

// KindOf classifies err; anything that is not a *Error is a BadRequest.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindBadRequest
}

var (
	ErrAlreadyDisabled = Conflict("user is already disabled")
	ErrAlreadyEnabled  = Conflict("user is already enabled")
)
