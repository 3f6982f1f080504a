package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrValidation    = errors.New("validation failed")
	ErrDependency    = errors.New("dependency failed")
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrLimitExceeded = errors.New("limit exceeded")
)

// Error tags an underlying error with one of the kinds above and the operation that produced it.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Kind.Error()
	if e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func wrap(kind error, op string, err error) error {
	if err == nil {
		err = kind
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == kind && existing.Op == op {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validation(op string, err error) error    { return wrap(ErrValidation, op, err) }
func Dependency(op string, err error) error    { return wrap(ErrDependency, op, err) }
func Conflict(op string, err error) error      { return wrap(ErrConflict, op, err) }
func NotFound(op string, err error) error      { return wrap(ErrNotFound, op, err) }
func LimitExceeded(op string, err error) error { return wrap(ErrLimitExceeded, op, err) }

func Validationf(op, format string, args ...any) error {
	return Validation(op, fmt.Errorf(format, args...))
}

func NotFoundf(op, format string, args ...any) error {
	return NotFound(op, fmt.Errorf(format, args...))
}

// KindOf returns the kind sentinel carried by err, or nil for untagged errors.
func KindOf(err error) error {
	for _, kind := range []error{ErrValidation, ErrConflict, ErrNotFound, ErrLimitExceeded, ErrDependency} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
