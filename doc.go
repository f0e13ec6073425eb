// Package promise provides a Promise/A+-style deferred-value primitive for
// Go: a container that starts empty, is settled exactly once with either a
// success value or a failure reason, and dispatches registered reactions on
// a later turn of execution, never synchronously.
//
// # Architecture
//
// A [Runtime] owns the shared machinery: the [Scheduler] used to dispatch
// reactions (by default a [TaskQueue], a FIFO drained by one worker
// goroutine) plus logging and unhandled-rejection tracking. Promises are
// created through the runtime ([Runtime.NewPromise],
// [Runtime.WithResolvers], [Runtime.Resolve], [Runtime.Reject],
// [Runtime.Promisify]) and composed with [Promise.Then], [Promise.Catch],
// and [Promise.Finally], each returning a fresh derived promise.
//
// Aggregation combinators build one promise over a collection of members:
// [Runtime.All] (fail-fast), [Runtime.AllSettled] (wait for every member,
// reporting either all values or all failure reasons), [Runtime.Race]
// (first settlement wins), and [Runtime.Any] (first fulfillment wins).
// Package-level equivalents operate on a process-default runtime.
//
// # Execution Model
//
// Concurrency is interleaving of deferred callbacks on the scheduler, not
// parallelism: reactions for a runtime execute serially, in registration
// order per promise, each on its own task. A registration call always
// returns before any of its callbacks run, even when the promise was
// already settled. Settlement triggers are safe to call from any goroutine;
// only the first call wins, and repeats are silently ignored.
//
// Each settlement carries exactly one value. Resolving with another
// promise, or with any value implementing [Thenable], defers settlement to
// that value's own outcome.
//
// There is no intrinsic cancellation: a promise only reflects completion.
// Bound a wait by racing against [Runtime.Timeout].
//
// # Error Handling
//
// Panics in reaction callbacks, foreign thenables, and promisified
// functions are recovered and converted into rejections (see [PanicError]);
// they never escape onto the scheduler. Rejections that reach a promise
// with no rejection reaction can be reported via [WithUnhandledRejection]
// and logged, rate-limited, via [WithLogger].
//
// # Usage
//
//	rt, err := promise.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close()
//
//	p, resolve, reject := rt.NewPromise()
//	go func() {
//	    v, err := doWork()
//	    if err != nil {
//	        reject(err)
//	    } else {
//	        resolve(v)
//	    }
//	}()
//
//	done := p.
//	    Then(func(v promise.Result) promise.Result {
//	        return transform(v)
//	    }, nil).
//	    Catch(func(r promise.Result) promise.Result {
//	        return fallback
//	    }).
//	    ToChannel()
//	result := <-done
package promise
