// Package errs defines the error-kind taxonomy shared across the regime,
// risk, execution, plugin and attribution packages (§7).
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way callers need to branch on, independent
// of its message text.
type Kind int

const (
	// Unknown is the zero value; never returned deliberately.
	Unknown Kind = iota
	// InvalidArgument marks a caller-supplied value that fails validation
	// (bad config, malformed feature vector, non-positive window, ...).
	InvalidArgument
	// OutOfRange marks a value outside its allowed range, such as an order
	// or portfolio that breaches a risk limit.
	OutOfRange
	// NotFound marks a lookup miss (unknown symbol, unknown plugin type).
	NotFound
	// AlreadyExists marks a duplicate registration (plugin type/name
	// collision).
	AlreadyExists
	// InvalidState marks an operation attempted from the wrong lifecycle
	// state (plugin not Initialized, detector not trained).
	InvalidState
	// IOError marks a failure reading/writing model state or plugin
	// binaries.
	IOError
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "invalid_argument"
	case OutOfRange:
		return "out_of_range"
	case NotFound:
		return "not_found"
	case AlreadyExists:
		return "already_exists"
	case InvalidState:
		return "invalid_state"
	case IOError:
		return "io_error"
	default:
		return "unknown"
	}
}

// Error is a Kind-tagged error carrying an operation name and wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a Kind-tagged error with no wrapped cause.
func New(kind Kind, op, msg string) error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Wrap builds a Kind-tagged error wrapping an underlying cause.
func Wrap(kind Kind, op, msg string, err error) error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// Is reports whether err (or something it wraps) carries the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the Kind from err, returning Unknown if err is not (and
// does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}
