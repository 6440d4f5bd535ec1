// Package apperr defines the error kinds shared by the billing packages.
//
// Packages declare their own sentinels with New and callers test the class of
// an error with errors.Is against ErrConflict, ErrNotFound, ErrValidation or
// ErrTransient.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
	KindTransient  Kind = "transient"
)

// Error carries a Kind and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

var (
	ErrConflict   = &Error{Kind: KindConflict}
	ErrNotFound   = &Error{Kind: KindNotFound}
	ErrValidation = &Error{Kind: KindValidation}
	ErrTransient  = &Error{Kind: KindTransient}
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against a bare kind sentinel (no message, no cause).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Msg == "" && t.Err == nil {
		return t.Kind == e.Kind
	}
	return t == e
}

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func IsConflict(err error) bool   { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool   { return errors.Is(err, ErrNotFound) }
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
func IsTransient(err error) bool  { return errors.Is(err, ErrTransient) }
