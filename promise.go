package promise

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Result represents the value of a settled promise. It can be any type.
// For fulfilled promises, this holds the success value. For rejected
// promises, this typically holds an error or rejection reason.
//
// A settlement carries exactly one value. APIs that produce multiple
// results should settle with a slice or struct.
type Result = any

// State represents the lifecycle state of a [Promise]. A promise starts
// [Pending] and transitions at most once, to either [Fulfilled] or
// [Rejected]. State transitions are irreversible.
type State int32

const (
	// Pending indicates the promise has not yet been settled.
	Pending State = iota

	// Fulfilled indicates the promise completed successfully with a value.
	Fulfilled

	// Rejected indicates the promise failed with a reason.
	Rejected
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Fulfilled:
		return "fulfilled"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Promise is a deferred-value primitive: a container that starts empty and
// is eventually settled exactly once, with either a success value or a
// failure reason.
//
// Promises are created through a [Runtime] (see [Runtime.NewPromise],
// [Runtime.WithResolvers], [Runtime.Resolve], [Runtime.Reject]) or the
// package-level equivalents backed by the process-default runtime. The zero
// value is not usable.
//
// Reactions registered via [Promise.Then], [Promise.Catch], and
// [Promise.Finally] are always dispatched on the runtime's [Scheduler],
// never synchronously: a registration call is guaranteed to return before
// any of its callbacks run, regardless of whether the promise was already
// settled at registration time.
//
// Promise is safe for concurrent use. Settlement functions may be called
// from any goroutine; reactions execute serially on the scheduler.
type Promise struct {
	// result holds pending overflow handlers (type-punned as []handler)
	// before settlement, and the settlement payload after.
	result Result
	rt     *Runtime
	// h0 is the first handler (embedded to avoid slice allocation).
	// Most promises have only one handler.
	h0 handler
	// channels stores channels handed out by ToChannel while pending.
	channels []chan Result
	// creationStack is only populated when the runtime has debug mode
	// enabled. See [Promise.CreationStackTrace].
	creationStack []uintptr

	state atomic.Int32
	// claimed is consumed by the first settlement trigger call. Adoption of
	// a payload counts as that first call, so the eventual forwarded commit
	// wins over triggers fired while the adoption is still in flight.
	claimed atomic.Bool
	h0Used  bool
	id      uint64

	mu sync.Mutex
}

// handler is one registered reaction: a pair of optional callbacks plus the
// derived promise that receives their outcome. A handler is dispatched
// exactly once per settlement.
type handler struct {
	onFulfilled func(Result) Result
	onRejected  func(Result) Result
	target      *Promise
}

// ResolveFunc fulfills a promise with a value. Only the first call to
// either trigger has any effect, even when that call handed settlement to a
// payload that has not settled yet. Can be called from any goroutine.
type ResolveFunc func(Result)

// RejectFunc rejects a promise with a reason. Only the first call to
// either trigger has any effect, even when that call handed settlement to a
// payload that has not settled yet. Can be called from any goroutine.
type RejectFunc func(Result)

// State returns the current [State] of this promise.
// Thread-safe and can be called from any goroutine.
func (p *Promise) State() State {
	return State(p.state.Load())
}

// Value returns the fulfillment value if the promise is fulfilled.
// Returns nil if the promise is pending or rejected.
// Note: a fulfilled promise can legitimately have a nil value.
func (p *Promise) Value() Result {
	if p.state.Load() == int32(Fulfilled) {
		return p.result
	}
	return nil
}

// Reason returns the rejection reason if the promise is rejected.
// Returns nil if the promise is pending or fulfilled.
func (p *Promise) Reason() Result {
	if p.state.Load() == int32(Rejected) {
		return p.result
	}
	return nil
}

// CreationStackTrace returns a formatted stack trace of where this promise
// was created, one line per frame as "package.function (file:line)".
//
// Returns an empty string unless the runtime was constructed with
// [WithDebugMode]. Useful for answering "where did this promise come from?"
// when chasing unhandled rejections.
func (p *Promise) CreationStackTrace() string {
	return formatCreationStack(p.creationStack)
}

// formatCreationStack formats a slice of program counters as a stack trace.
func formatCreationStack(pcs []uintptr) string {
	if len(pcs) == 0 {
		return ""
	}

	frames := runtime.CallersFrames(pcs)
	var result string
	for {
		frame, more := frames.Next()
		if frame.Function != "" {
			if result != "" {
				result += "\n"
			}
			result += fmt.Sprintf("%s (%s:%d)", frame.Function, frame.File, frame.Line)
		}
		if !more {
			break
		}
	}
	return result
}

// addHandler attaches a handler to the promise. If the promise is already
// settled, the handler is scheduled immediately; if pending, it is stored
// for dispatch at settlement.
//
// Uses an optimistic lock-free check for the common already-settled case.
func (p *Promise) addHandler(h handler) {
	currentState := p.state.Load()
	if currentState != int32(Pending) {
		p.scheduleHandler(h, currentState, p.result)
		return
	}

	p.mu.Lock()
	// Re-check state under lock to avoid racing a concurrent settlement
	currentState = p.state.Load()
	if currentState != int32(Pending) {
		p.mu.Unlock()
		p.scheduleHandler(h, currentState, p.result)
		return
	}

	if !p.h0Used {
		p.h0 = h
		p.h0Used = true
	} else {
		// Additional handlers live in p.result type-punned as []handler.
		var handlers []handler
		if p.result == nil {
			handlers = make([]handler, 0, 2)
		} else {
			handlers = p.result.([]handler)
		}
		handlers = append(handlers, h)
		p.result = handlers
	}
	p.mu.Unlock()
}

// scheduleHandler enqueues one handler dispatch on the runtime's scheduler.
// If the scheduler refuses the task (closed queue), the handler executes
// inline as a fallback so the downstream promise still settles.
func (p *Promise) scheduleHandler(h handler, state int32, result Result) {
	if err := p.rt.sched.Schedule(func() {
		p.executeHandler(h, state, result)
	}); err != nil {
		p.executeHandler(h, state, result)
	}
}

// executeHandler runs a single handler with the given state and result.
// Handles absent callbacks (pass-through), panic recovery, and result
// propagation into the handler's target promise.
func (p *Promise) executeHandler(h handler, state int32, result Result) {
	var fn func(Result) Result

	if state == int32(Fulfilled) {
		fn = h.onFulfilled
	} else {
		fn = h.onRejected
	}

	// No callback of the matching kind: propagate kind and value unchanged.
	if fn == nil {
		if h.target == nil {
			return
		}
		if state == int32(Fulfilled) {
			h.target.resolve(result)
		} else {
			h.target.reject(result)
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			if h.target != nil {
				h.target.reject(PanicError{Value: r})
			}
		}
	}()

	res := fn(result)
	if h.target != nil {
		h.target.resolve(res)
	}
}

// resolve runs the resolution procedure on value and, unless the procedure
// takes over (value is this promise, another promise, or a foreign
// thenable), commits fulfillment. First settlement wins; later calls are
// silently ignored.
func (p *Promise) resolve(value Result) {
	// Optimistic check, mirroring addHandler: a settled state is final, and
	// skipping the lock keeps re-entrant calls from inline-executed
	// reactions (closed-queue fallback) from deadlocking.
	if p.state.Load() != int32(Pending) {
		return
	}

	// A promise must never be settled with itself as the payload.
	if pr, ok := value.(*Promise); ok && pr == p {
		p.reject(&TypeError{Message: fmt.Sprintf("promise: chaining cycle detected for promise #%d", p.id)})
		return
	}

	// Adopt the state of another promise: this promise settles with
	// whatever outcome the other one eventually produces.
	if pr, ok := value.(*Promise); ok {
		pr.addHandler(handler{target: p})
		return
	}

	// Foreign thenable: defer settlement to its registration capability.
	if t, ok := value.(Thenable); ok {
		p.adoptThenable(t)
		return
	}

	p.mu.Lock()
	if p.state.Load() != int32(Pending) {
		p.mu.Unlock()
		return
	}

	h0 := p.h0
	useH0 := p.h0Used
	var handlers []handler

	// Extract overflow handlers before they get overwritten with the value
	if useH0 && p.result != nil {
		handlers = p.result.([]handler)
	}

	channels := p.channels
	p.channels = nil

	p.h0 = handler{}
	p.h0Used = false
	p.result = value
	p.state.Store(int32(Fulfilled))

	// Schedule handlers inside the lock to guarantee dispatch order is
	// consistent with concurrent addHandler calls.
	if useH0 {
		p.scheduleHandler(h0, int32(Fulfilled), value)
	}
	for _, h := range handlers {
		p.scheduleHandler(h, int32(Fulfilled), value)
	}

	for _, ch := range channels {
		select {
		case ch <- value:
		default:
		}
	}
	for _, ch := range channels {
		close(ch)
	}
	p.mu.Unlock()

	p.rt.logTransition(p, Fulfilled)
	p.rt.forgetRejection(p)
}

// reject transitions the promise to rejected if it is still pending.
// First settlement wins; later calls are silently ignored.
func (p *Promise) reject(reason Result) {
	// Optimistic check, as in resolve.
	if p.state.Load() != int32(Pending) {
		return
	}

	p.mu.Lock()
	if p.state.Load() != int32(Pending) {
		p.mu.Unlock()
		return
	}

	h0 := p.h0
	useH0 := p.h0Used
	var handlers []handler

	if useH0 && p.result != nil {
		handlers = p.result.([]handler)
	}

	channels := p.channels
	p.channels = nil

	p.result = reason

	// Record the rejection for unhandled tracking before the state commit:
	// anything that observes the settled state can then rely on the record
	// being present. Any handler extracted above counts as handling.
	track := p.rt.noteRejection(p, reason, useH0 || len(handlers) > 0)

	p.state.Store(int32(Rejected))

	// Schedule handlers inside the lock, same as resolve.
	if useH0 {
		p.scheduleHandler(h0, int32(Rejected), reason)
	}
	for _, h := range handlers {
		p.scheduleHandler(h, int32(Rejected), reason)
	}

	p.h0 = handler{}
	p.h0Used = false

	for _, ch := range channels {
		select {
		case ch <- reason:
		default:
		}
	}
	for _, ch := range channels {
		close(ch)
	}
	p.mu.Unlock()

	p.rt.logTransition(p, Rejected)

	if track {
		p.rt.scheduleRejectionCheck(p.id)
	}
}

// Then registers reactions to this promise's settlement and returns a new
// derived promise that settles with the outcome of whichever callback runs.
//
// Either callback may be nil, in which case the matching outcome passes
// through to the derived promise unchanged. If a callback returns a value,
// the derived promise resolves with it (a returned *Promise or [Thenable]
// chains); if it panics, the derived promise rejects with a [PanicError].
//
// Callbacks always execute via the runtime's scheduler, never inline.
func (p *Promise) Then(onFulfilled, onRejected func(Result) Result) *Promise {
	child := p.rt.newPromise()

	p.addHandler(handler{
		onFulfilled: onFulfilled,
		onRejected:  onRejected,
		target:      child,
	})

	// Registration happens before any scheduled dispatch runs, so marking
	// here cannot race a report for this promise's own rejection.
	if onRejected != nil {
		p.rt.markRejectionHandled(p)
	}

	return child
}

// Catch registers a rejection reaction. Equivalent to Then(nil, onRejected).
func (p *Promise) Catch(onRejected func(Result) Result) *Promise {
	return p.Then(nil, onRejected)
}

// Finally registers a reaction that runs regardless of how the promise
// settles. The callback receives no arguments and its return is ignored;
// the derived promise settles with the same outcome as the receiver.
//
// If onFinally panics, the panic value is discarded and the original
// settlement still propagates: cleanup panics do not swallow the result.
func (p *Promise) Finally(onFinally func()) *Promise {
	child := p.rt.newPromise()

	if onFinally == nil {
		onFinally = func() {}
	}

	runFinally := func(res Result, isRej bool) {
		defer func() {
			if r := recover(); r != nil {
				_ = r // cleanup panic discarded; original settlement wins
				if isRej {
					child.reject(res)
				} else {
					child.resolve(res)
				}
			}
		}()
		onFinally()
		if isRej {
			child.reject(res)
		} else {
			child.resolve(res)
		}
	}

	p.addHandler(handler{
		onFulfilled: func(v Result) Result {
			runFinally(v, false)
			return nil
		},
		onRejected: func(r Result) Result {
			runFinally(r, true)
			return nil
		},
		// child is settled by runFinally, not by result propagation
		target: nil,
	})

	p.rt.markRejectionHandled(p)

	return child
}

// ToChannel returns a channel that receives the settlement payload (value
// or reason) and is then closed. The channel is buffered with capacity 1;
// if the promise is already settled, the channel is pre-filled.
//
// This is the bridge from promise-land back to ordinary Go: callers that
// need to block for an outcome receive from the returned channel.
func (p *Promise) ToChannel() <-chan Result {
	ch := make(chan Result, 1)

	if p.state.Load() != int32(Pending) {
		ch <- p.result
		close(ch)
		return ch
	}

	p.mu.Lock()
	if p.state.Load() != int32(Pending) {
		p.mu.Unlock()
		ch <- p.result
		close(ch)
		return ch
	}
	p.channels = append(p.channels, ch)
	p.mu.Unlock()

	return ch
}
