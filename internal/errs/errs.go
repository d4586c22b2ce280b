// Package errs defines the tagged error taxonomy shared across the MES
// core (spec §7). Every mutating operation returns one of these kinds so
// that HTTP handlers and SSE streamers can map failures to the right
// wire-level behavior without string matching.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind tags an Error with one of the taxonomy entries from §7.
type Kind string

const (
	NotFound           Kind = "NotFound"
	Conflict           Kind = "Conflict"
	InvariantViolation Kind = "InvariantViolation"
	FrozenByState      Kind = "FrozenByState"
	External           Kind = "External"
	BudgetExceeded     Kind = "BudgetExceeded"
)

// Error is the concrete error type returned by core operations.
type Error struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps a Kind to the status code callers should surface.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case NotFound:
		return http.StatusNotFound
	case Conflict, FrozenByState:
		return http.StatusConflict
	case InvariantViolation:
		return http.StatusUnprocessableEntity
	case External:
		return http.StatusBadGateway
	case BudgetExceeded:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newf(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, Message: fmt.Sprintf(format, args...)}
}

func NewNotFound(format string, args ...interface{}) *Error {
	return newf(NotFound, format, args...)
}

func NewConflict(format string, args ...interface{}) *Error {
	return newf(Conflict, format, args...)
}

func NewInvariantViolation(format string, args ...interface{}) *Error {
	return newf(InvariantViolation, format, args...)
}

func NewFrozenByState(format string, args ...interface{}) *Error {
	return newf(FrozenByState, format, args...)
}

func NewBudgetExceeded(format string, args ...interface{}) *Error {
	return newf(BudgetExceeded, format, args...)
}

// WrapExternal tags a transient dependency failure (DB, object store,
// telemetry collector) as retryable by synchronous callers.
func WrapExternal(cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: External, Message: fmt.Sprintf(format, args...), Err: cause}
}

// As is a thin convenience wrapper over errors.As for the common case of
// pulling out a *Error to read its Kind from a handler.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Is reports whether err carries the given Kind anywhere in its chain.
func Is(err error, k Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == k
}
