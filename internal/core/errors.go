package core

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures of a generation run.
type ErrorKind int

const (
	// KindConfig is a descriptor defect that could not be recovered locally.
	KindConfig ErrorKind = iota
	// KindState is an API misuse: registering after init, a second session.
	KindState
	// KindMissingTemplate is a destination whose template never appeared.
	KindMissingTemplate
	// KindTemplate is a template that failed to parse or execute.
	KindTemplate
	// KindIO wraps stream and filesystem failures.
	KindIO
	// KindReplace is an exhausted atomic replace.
	KindReplace
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindState:
		return "state"
	case KindMissingTemplate:
		return "missing-template"
	case KindTemplate:
		return "template"
	case KindIO:
		return "io"
	case KindReplace:
		return "replace"
	default:
		return "unknown"
	}
}

var (
	ErrAlreadyInitialized = errors.New("generator already initialized")
	ErrSessionActive      = errors.New("generator already has an active session")
	ErrSessionClosed      = errors.New("session is closed")
)

// Error is the single domain error type surfaced by the generation packages.
type Error struct {
	Kind ErrorKind
	Op   string
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Path != "" {
		msg = fmt.Sprintf("%s %s", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error.
func NewError(kind ErrorKind, op, path string, err error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Err: err}
}

// WrapIO wraps err as a KindIO error unless it already is a domain error.
func WrapIO(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	return NewError(KindIO, op, path, err)
}

// IsKind reports whether err carries a domain error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == kind
}
