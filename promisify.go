package promise

import "context"

// Promisify executes fn in a new goroutine and returns a promise
// representing its result: fulfilled with fn's Result on a nil error,
// rejected with the error otherwise.
//
// It ensures:
//   - Panic recovery: a panic inside fn rejects the promise with a
//     [PanicError] rather than crashing the process.
//   - Goexit handling: if the goroutine exits via runtime.Goexit (e.g.
//     t.FailNow inside a test helper), the promise is rejected with
//     [ErrGoexit] rather than hanging forever.
//   - Context check: a context already done when the goroutine starts
//     rejects the promise with ctx.Err() without invoking fn.
//
// The context is passed to fn for its own use; settlement itself is not
// cancellable — cancelling ctx after fn has begun only has whatever effect
// fn gives it.
func (rt *Runtime) Promisify(ctx context.Context, fn func(ctx context.Context) (Result, error)) *Promise {
	p := rt.newPromise()

	go func() {
		// Completion flag to distinguish normal return from Goexit
		completed := false

		select {
		case <-ctx.Done():
			completed = true
			p.reject(ctx.Err())
			return
		default:
		}

		defer func() {
			if r := recover(); r != nil {
				p.reject(PanicError{Value: r})
			} else if !completed {
				// Function ended but not via normal return -> Goexit (or panic(nil))
				p.reject(ErrGoexit)
			}
		}()

		res, err := fn(ctx)

		if err != nil {
			p.reject(err)
		} else {
			p.resolve(res)
		}
		completed = true
	}()

	return p
}
