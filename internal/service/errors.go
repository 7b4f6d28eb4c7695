package service

import (
	"errors"
	"fmt"
)

// ErrorKind classifies supervision failures.
type ErrorKind int

const (
	KindDependencyUnready ErrorKind = iota + 1
	KindSpawnFailed
	KindImmediateExit
	KindUnexpectedExit
	KindSignalFailed
	KindNotFound
	KindDuplicateName
	KindConfigInvalid
)

func (k ErrorKind) String() string {
	switch k {
	case KindDependencyUnready:
		return "dependency unready"
	case KindSpawnFailed:
		return "spawn failed"
	case KindImmediateExit:
		return "exited immediately"
	case KindUnexpectedExit:
		return "process exited unexpectedly"
	case KindSignalFailed:
		return "signal failed"
	case KindNotFound:
		return "service not found"
	case KindDuplicateName:
		return "duplicate service name"
	case KindConfigInvalid:
		return "invalid config"
	default:
		return "error"
	}
}

// Sentinels for errors.Is; they match any *Error of the same kind.
var (
	ErrDependencyUnready = &Error{Kind: KindDependencyUnready}
	ErrSpawnFailed       = &Error{Kind: KindSpawnFailed}
	ErrImmediateExit     = &Error{Kind: KindImmediateExit}
	ErrUnexpectedExit    = &Error{Kind: KindUnexpectedExit}
	ErrSignalFailed      = &Error{Kind: KindSignalFailed}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrDuplicateName     = &Error{Kind: KindDuplicateName}
	ErrConfigInvalid     = &Error{Kind: KindConfigInvalid}
)

// Error is the typed result of a failed supervision operation.
type Error struct {
	Kind    ErrorKind
	Service string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Service != "" {
		msg = e.Service + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && (t.Service == "" || t.Service == e.Service)
}

// KindOf returns the ErrorKind carried by err, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind ErrorKind, name string, err error) *Error {
	return &Error{Kind: kind, Service: name, Err: err}
}

// NotFound builds the error returned by mutating operations on unknown names.
func NotFound(name string) error { return newError(KindNotFound, name, nil) }

// Duplicate builds the registration conflict error.
func Duplicate(name string) error {
	return newError(KindDuplicateName, name, fmt.Errorf("already registered"))
}
