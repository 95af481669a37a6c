// Package apperr defines the error-kind taxonomy shared across adapters,
// the confirmation pipeline, and the engine's per-user error handling.
package apperr

import "fmt"

// Kind classifies an error so callers can decide retry/halt behavior
// without string-matching messages.
type Kind string

const (
	Transport           Kind = "transport"
	RateLimit           Kind = "rate_limit"
	Auth                Kind = "auth"
	InsufficientBalance Kind = "insufficient_balance"
	Validation          Kind = "validation"
	Conflict            Kind = "conflict"
	Reconcile           Kind = "reconcile"
	Fatal               Kind = "fatal"
)

// Retryable reports whether the loop layer should retry the operation
// that produced this kind, as opposed to surfacing/halting.
func (k Kind) Retryable() bool {
	switch k {
	case Transport, RateLimit:
		return true
	default:
		return false
	}
}

// Halts reports whether this kind should stop the affected user's engine
// scope rather than just being logged and skipped for one market.
func (k Kind) Halts() bool {
	switch k {
	case Auth, Fatal:
		return true
	default:
		return false
	}
}

// Error is a kind-tagged wrapped error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and an operation label.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err (or anything it wraps) carries the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
