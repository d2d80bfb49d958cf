// Package fault classifies errors by behavioral kind so that dispatch
// layers can decide between retry, dead-letter, and immediate surfacing
// without inspecting error strings.
package fault

import (
	"errors"
	"fmt"
)

// Kind is the behavioral class of a failure
type Kind int

const (
	// KindUnknown marks errors that carry no classification
	KindUnknown Kind = iota
	// KindTransient failures are retried with backoff by the bus
	KindTransient
	// KindInvalidInput failures surface immediately to the caller
	KindInvalidInput
	// KindInvalidTransition marks a rejected state-machine action
	KindInvalidTransition
	// KindIntegrity marks checksum mismatches and invariant violations
	KindIntegrity
	// KindNotFound marks missing resources
	KindNotFound
	// KindConflict marks duplicate-detected outcomes
	KindConflict
)

// String returns the kind name used in logs and events
func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindIntegrity:
		return "integrity"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "unknown"
	}
}

// Error is a kind-tagged error
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap exposes the wrapped cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates a classified error with a formatted message
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies an existing error
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the classification of err, or KindUnknown
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// IsTransient reports whether err should be retried
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsNotFound reports whether err marks a missing resource
func IsNotFound(err error) bool {
	return KindOf(err) == KindNotFound
}

// IsConflict reports whether err marks a duplicate conflict
func IsConflict(err error) bool {
	return KindOf(err) == KindConflict
}
