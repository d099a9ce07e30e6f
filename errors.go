// Package mordor provides a fiber-based cooperative concurrency engine:
// stackful coroutines with symmetric/asymmetric yielding, a multi-threaded
// fiber scheduler with thread affinity, a timer manager, and parallel
// fan-out combinators built on top.
package mordor

import (
	"errors"
	"fmt"
	"runtime/debug"
)

// InvariantError reports a violated precondition of the fiber/scheduler
// state machine — for example calling Call on a fiber that isn't in
// StateHold, or Yield with no outer fiber recorded. These are always
// programmer errors in the calling code, never recoverable data.
type InvariantError struct {
	Cause   error
	Message string
}

func (e *InvariantError) Error() string {
	if e.Message == "" {
		return "invariant violation"
	}
	return e.Message
}

func (e *InvariantError) Unwrap() error {
	return e.Cause
}

// PanicError wraps a value recovered from a panic inside a fiber's entry
// procedure or a timer callback, along with the stack at the point of
// recovery. It is stored on the Fiber (or logged by ProcessTimers) so
// the resuming side can observe what went wrong.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is itself an
// error, enabling errors.Is/errors.As through the recovered cause.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

// AggregateError collects more than one failure from a parallel fan-out
// (ParallelDoCollectAll) when the caller has opted to collect every
// failure rather than just the first one to complete.
type AggregateError struct {
	Errors []error
}

func (e *AggregateError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%d errors occurred, first: %v", len(e.Errors), e.Errors[0])
}

// Unwrap exposes every collected error for errors.Is/errors.As (Go 1.20+
// multi-error unwrapping).
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// Is reports whether target is also an *AggregateError. Matching target
// against the wrapped errors is done by errors.Is itself, through Unwrap.
func (e *AggregateError) Is(target error) bool {
	var aggTarget *AggregateError
	return errors.As(target, &aggTarget)
}

// WrapError wraps cause with a contextual message, preserving the chain
// for errors.Is/errors.As.
func WrapError(message string, cause error) error {
	return fmt.Errorf("%s: %w", message, cause)
}

var (
	// ErrSchedulerStopped is returned by Dispatch once a Scheduler has
	// fully stopped.
	ErrSchedulerStopped = errors.New("mordor: scheduler stopped")
	// ErrNoOuterFiber is the cause wrapped by an InvariantError when Yield
	// is called on a fiber with no recorded outer.
	ErrNoOuterFiber = errors.New("mordor: fiber has no outer to yield to")
)
