package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can react without inspecting messages.
type Kind uint8

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindAuthorization
	KindTargetResolution
	KindCapability
	KindBadRequest
	KindTransient
	KindUnauthorized
)

var kindNames = map[Kind]string{
	KindInternal:         "internal",
	KindInvalidInput:     "invalid_input",
	KindNotFound:         "not_found",
	KindAuthorization:    "authorization",
	KindTargetResolution: "target_resolution",
	KindCapability:       "capability",
	KindBadRequest:       "bad_request",
	KindTransient:        "transient",
	KindUnauthorized:     "unauthorized",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Common error types
var (
	ErrInvalidInput  = &Error{Kind: KindInvalidInput, Op: "validate"}
	ErrNotFound      = &Error{Kind: KindNotFound, Op: "lookup"}
	ErrUnauthorized  = &Error{Kind: KindUnauthorized, Op: "platform"}
	ErrNoPrivileges  = &Error{Kind: KindCapability, Op: "platform"}
	ErrBadRequest    = &Error{Kind: KindBadRequest, Op: "platform"}
	ErrTransient     = &Error{Kind: KindTransient, Op: "platform"}
	ErrForbidden     = &Error{Kind: KindAuthorization, Op: "authorize"}
	ErrUnknownTarget = &Error{Kind: KindTargetResolution, Op: "resolve target"}
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	case e.Op == "":
		return e.Err.Error()
	default:
		return fmt.Sprintf("%s: %s", e.Op, e.Err.Error())
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrTransient)
// holds for every transient failure regardless of operation.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of the first *Error in the chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}
