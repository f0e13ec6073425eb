package promise

import (
	"context"
	"sync"
	"time"
)

// The package-level API below delegates to a lazily-created process-default
// [Runtime]. It exists for programs that want promises without managing a
// runtime; anything needing a custom scheduler, logger, or rejection
// handler should create its own runtime with [New].
//
// The default runtime's task queue lives for the remainder of the process.

var (
	defaultOnce    sync.Once
	defaultRuntime *Runtime
)

// Default returns the process-default [Runtime], creating it on first use.
func Default() *Runtime {
	defaultOnce.Do(func() {
		rt, err := New()
		if err != nil {
			// New without options cannot fail; keep the invariant visible.
			panic(err)
		}
		defaultRuntime = rt
	})
	return defaultRuntime
}

// NewPromise creates a pending promise on the default runtime.
// See [Runtime.NewPromise].
func NewPromise() (*Promise, ResolveFunc, RejectFunc) {
	return Default().NewPromise()
}

// WithResolvers creates a pending promise bundled with its settlement
// triggers on the default runtime. See [Runtime.WithResolvers].
func WithResolvers() *PromiseWithResolvers {
	return Default().WithResolvers()
}

// Resolve returns a promise resolved with value on the default runtime.
// See [Runtime.Resolve].
func Resolve(value Result) *Promise {
	return Default().Resolve(value)
}

// Reject returns a promise rejected with reason on the default runtime.
// See [Runtime.Reject].
func Reject(reason Result) *Promise {
	return Default().Reject(reason)
}

// All aggregates members on the default runtime. See [Runtime.All].
func All(members []any) *Promise {
	return Default().All(members)
}

// AllSettled aggregates members on the default runtime.
// See [Runtime.AllSettled].
func AllSettled(members []any) *Promise {
	return Default().AllSettled(members)
}

// Race races members on the default runtime. See [Runtime.Race].
func Race(members []any) *Promise {
	return Default().Race(members)
}

// Any aggregates members on the default runtime. See [Runtime.Any].
func Any(members []any) *Promise {
	return Default().Any(members)
}

// Delay returns a promise fulfilled with value after d, on the default
// runtime. See [Runtime.Delay].
func Delay(d time.Duration, value Result) *Promise {
	return Default().Delay(d, value)
}

// Timeout returns a promise rejected after d, on the default runtime.
// See [Runtime.Timeout].
func Timeout(d time.Duration) *Promise {
	return Default().Timeout(d)
}

// Promisify runs fn on a new goroutine via the default runtime.
// See [Runtime.Promisify].
func Promisify(ctx context.Context, fn func(ctx context.Context) (Result, error)) *Promise {
	return Default().Promisify(ctx, fn)
}
