// Package apperr defines the error taxonomy surfaced by the booking core.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the caller.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindConflict        Kind = "conflict"
	KindUnauthenticated Kind = "unauthenticated"
	KindAuthFailure     Kind = "auth_failure"
	KindNetwork         Kind = "network"
	KindTimeout         Kind = "timeout"
	KindServer          Kind = "server"
)

// Action is the concrete next step offered to the user.
type Action string

const (
	ActionFixInput     Action = "fix_input"
	ActionRefreshSlots Action = "refresh_slots"
	ActionRelogin      Action = "relogin"
	ActionRetry        Action = "retry"
)

// Error is a classified failure. Status is the HTTP status when the error
// came from a server response, zero otherwise.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NextAction returns what the user should do about the error.
func (e *Error) NextAction() Action {
	switch e.Kind {
	case KindValidation:
		return ActionFixInput
	case KindConflict:
		return ActionRefreshSlots
	case KindUnauthenticated, KindAuthFailure:
		return ActionRelogin
	default:
		return ActionRetry
	}
}

// New creates a classified error with a message.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// FromStatus builds an error from a server response status.
func FromStatus(op string, status int, message string) *Error {
	return &Error{Kind: kindForStatus(status), Op: op, Status: status, Message: message}
}

func kindForStatus(status int) Kind {
	switch status {
	case 400, 422:
		return KindValidation
	case 401, 403:
		return KindAuthFailure
	case 409:
		return KindConflict
	default:
		return KindServer
	}
}

// As extracts an *Error from the chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindServer for unclassified errors.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindServer
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// Classify maps any error onto the taxonomy, leaving classified errors as
// they are.
func Classify(op string, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Wrap(KindServer, op, err)
}
