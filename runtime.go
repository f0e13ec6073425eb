// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package promise

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	catrate "github.com/joeycumines/go-catrate"
	"github.com/joeycumines/logiface"
)

// defaultUnhandledRates is the default per-category rate limit for
// unhandled-rejection log output.
var defaultUnhandledRates = map[time.Duration]int{time.Minute: 10}

// Runtime owns the machinery shared by a set of promises: the [Scheduler]
// that dispatches reactions, the logger, and unhandled-rejection tracking.
//
// All promises created through a Runtime dispatch their reactions on that
// runtime's scheduler. Promises from different runtimes may still be
// chained; each reaction runs on the scheduler of the promise it was
// registered on.
//
// Runtime is safe for concurrent use.
type Runtime struct {
	sched       Scheduler
	ownedQueue  *TaskQueue
	logger      *logiface.Logger[logiface.Event]
	onUnhandled RejectionHandler
	limiter     *catrate.Limiter

	rejections map[uint64]*rejectionInfo
	handled    map[uint64]struct{}

	nextID atomic.Uint64

	rejectionsMu sync.Mutex

	debugMode bool
}

// New creates a Runtime. With no options it creates and owns a [TaskQueue];
// [Runtime.Close] then shuts the queue down. A scheduler supplied via
// [WithScheduler] is left untouched by Close.
func New(opts ...Option) (*Runtime, error) {
	cfg, err := resolveRuntimeOptions(opts)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		sched:       cfg.sched,
		logger:      cfg.logger,
		onUnhandled: cfg.onUnhandled,
		debugMode:   cfg.debugMode,
		rejections:  make(map[uint64]*rejectionInfo),
		handled:     make(map[uint64]struct{}),
	}

	if rt.sched == nil {
		rt.ownedQueue = NewTaskQueue()
		rt.sched = rt.ownedQueue
	}

	if rt.logger != nil {
		rates := cfg.rates
		if rates == nil {
			rates = defaultUnhandledRates
		}
		rt.limiter = catrate.NewLimiter(rates)
	}

	return rt, nil
}

// Close releases the runtime's owned resources. If the runtime created its
// own [TaskQueue], Close drains and stops it; reactions already scheduled
// run to completion first. Settlement attempted after Close still commits,
// with reactions executing inline as a fallback.
func (rt *Runtime) Close() error {
	if rt.ownedQueue != nil {
		return rt.ownedQueue.Close()
	}
	return nil
}

// newPromise creates a pending promise bound to this runtime.
func (rt *Runtime) newPromise() *Promise {
	p := &Promise{
		id: rt.nextID.Add(1),
		rt: rt,
	}
	p.state.Store(int32(Pending))

	if rt.debugMode {
		// Capture up to 32 stack frames, skip 2 (this function and runtime.Callers)
		pcs := make([]uintptr, 32)
		n := runtime.Callers(2, pcs)
		if n > 0 {
			p.creationStack = pcs[:n]
		}
	}

	return p
}

// NewPromise creates a pending promise along with its two settlement
// triggers.
//
// Only the first call to either trigger has an effect; subsequent calls are
// silently ignored. Both functions can be called from any goroutine.
//
//	p, resolve, reject := rt.NewPromise()
//	go func() {
//	    result, err := doWork()
//	    if err != nil {
//	        reject(err)
//	    } else {
//	        resolve(result)
//	    }
//	}()
func (rt *Runtime) NewPromise() (*Promise, ResolveFunc, RejectFunc) {
	p := rt.newPromise()

	// The triggers share a one-shot claim: the first call wins outright,
	// including when it resolves with a pending promise or thenable whose
	// adoption commits later.
	resolve := func(value Result) {
		if p.claimed.CompareAndSwap(false, true) {
			p.resolve(value)
		}
	}
	reject := func(reason Result) {
		if p.claimed.CompareAndSwap(false, true) {
			p.reject(reason)
		}
	}

	return p, resolve, reject
}

// PromiseWithResolvers bundles a pending promise with its settlement
// triggers, for scenarios where the constructor-callback pattern is
// awkward: settling from outside the creating scope, adapting
// callback-based APIs, or request/response correlation maps.
type PromiseWithResolvers struct {
	// Promise is the pending promise.
	Promise *Promise

	// Resolve fulfills Promise with a value. First call wins.
	Resolve ResolveFunc

	// Reject rejects Promise with a reason. First call wins.
	Reject RejectFunc
}

// WithResolvers creates a pending promise bundled with its settlement
// triggers. Equivalent to [Runtime.NewPromise] with a struct result.
func (rt *Runtime) WithResolvers() *PromiseWithResolvers {
	p, resolve, reject := rt.NewPromise()
	return &PromiseWithResolvers{
		Promise: p,
		Resolve: resolve,
		Reject:  reject,
	}
}

// Resolve returns a promise resolved with value. The resolution procedure
// applies: a *Promise from this runtime is returned as-is, another promise
// or [Thenable] is adopted, and any other value produces a promise
// fulfilled with it.
func (rt *Runtime) Resolve(value Result) *Promise {
	if pr, ok := value.(*Promise); ok && pr.rt == rt {
		return pr
	}
	p := rt.newPromise()
	p.resolve(value)
	return p
}

// Reject returns a promise rejected with reason.
func (rt *Runtime) Reject(reason Result) *Promise {
	p := rt.newPromise()
	p.reject(reason)
	return p
}

// Delay returns a promise fulfilled with value after d has elapsed.
func (rt *Runtime) Delay(d time.Duration, value Result) *Promise {
	p := rt.newPromise()
	time.AfterFunc(d, func() {
		p.resolve(value)
	})
	return p
}

// Timeout returns a promise rejected with a [*TimeoutError] after d has
// elapsed. Racing it against another promise via [Runtime.Race] is the
// supported way to bound a wait; the core has no intrinsic cancellation.
func (rt *Runtime) Timeout(d time.Duration) *Promise {
	p := rt.newPromise()
	time.AfterFunc(d, func() {
		p.reject(&TimeoutError{Message: fmt.Sprintf("promise: timed out after %s", d)})
	})
	return p
}

// logTransition emits a settlement trace line. Purely observational: it
// never alters scheduling or settlement outcomes.
func (rt *Runtime) logTransition(p *Promise, s State) {
	if b := rt.logger.Trace(); b.Enabled() {
		b.Uint64("promise", p.id).
			Stringer("transition", s).
			Log("promise settled")
	}
}
