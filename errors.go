package promise

import (
	"errors"
	"fmt"
)

// ErrGoexit is used to reject a promise when a promisified goroutine exits
// via runtime.Goexit without settling.
var ErrGoexit = errors.New("promise: goroutine exited via runtime.Goexit")

// PanicError wraps a panic value recovered from user code: a reaction
// callback, a foreign thenable's registration capability, or a promisified
// function. It is delivered as the rejection reason of the affected
// downstream promise.
type PanicError struct {
	Value any
}

func (e PanicError) Error() string {
	return fmt.Sprintf("promise: recovered panic: %v", e.Value)
}

// Unwrap returns the underlying error if the panic value is an error type.
// This enables use with [errors.Is] and [errors.As] for error matching
// through the cause chain. If the panic Value is not an error (e.g., a
// string), returns nil.
func (e PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}

// TypeError indicates a value was not of the kind the resolution procedure
// expected. The only case produced by this package is the self-resolution
// guard: settling a promise with itself as the payload.
type TypeError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TypeError) Error() string {
	if e.Message == "" {
		return "type error"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TypeError) Unwrap() error {
	return e.Cause
}

// TimeoutError is the rejection reason produced by [Runtime.Timeout].
type TimeoutError struct {
	Cause   error
	Message string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Message == "" {
		return "operation timed out"
	}
	return e.Message
}

// Unwrap returns the underlying cause for use with [errors.Is] and [errors.As].
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// AggregateError is the rejection reason produced by [Runtime.Any] when all
// member promises reject. Errors preserves the order of the input members.
type AggregateError struct {
	Message string
	// Errors contains the rejection reasons from all failed members.
	Errors []error
}

// Error implements the error interface.
func (e *AggregateError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "all promises were rejected"
}

// Unwrap returns the errors slice for multi-error unwrapping, enabling
// [errors.Is] and [errors.As] to check against all contained errors.
func (e *AggregateError) Unwrap() []error {
	return e.Errors
}

// Is reports whether target is itself an AggregateError, regardless of
// contents. Matching against contained errors goes through Unwrap.
func (e *AggregateError) Is(target error) bool {
	var aggTarget *AggregateError
	return errors.As(target, &aggTarget)
}

// ErrorWrapper adapts a non-error rejection reason to the error interface,
// for inclusion in an [AggregateError].
type ErrorWrapper struct {
	// Value is the original non-error rejection reason.
	Value Result
}

// Error implements the error interface.
func (e *ErrorWrapper) Error() string {
	return fmt.Sprintf("%v", e.Value)
}
