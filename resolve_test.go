package promise

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Resolution procedure tests: self-adoption, adoption of other promises,
// and adoption of foreign thenables, including misbehaving ones.

// Settling a promise with itself yields a rejection with a TypeError —
// never a hang, never unbounded recursion.
func TestResolve_SelfAdoptionGuard(t *testing.T) {
	rt := newTestRuntime(t)

	p, resolve, _ := rt.NewPromise()
	resolve(p)
	got := waitSettled(t, p)

	if p.State() != Rejected {
		t.Fatalf("expected Rejected, got %v", p.State())
	}
	var typeErr *TypeError
	if !errors.As(got.(error), &typeErr) {
		t.Fatalf("expected *TypeError, got %T (%v)", got, got)
	}
}

// Resolving with another promise adopts that promise's eventual outcome.
func TestResolve_AdoptsPromise(t *testing.T) {
	t.Run("fulfillment", func(t *testing.T) {
		rt := newTestRuntime(t)

		inner, resolveInner, _ := rt.NewPromise()
		outer, resolveOuter, _ := rt.NewPromise()

		resolveOuter(inner)
		if s := outer.State(); s != Pending {
			t.Fatalf("outer should stay pending until inner settles, got %v", s)
		}

		resolveInner(42)
		if got := waitSettled(t, outer); got != 42 {
			t.Fatalf("expected adopted value 42, got %v", got)
		}
		if outer.State() != Fulfilled {
			t.Fatalf("expected Fulfilled, got %v", outer.State())
		}
	})

	t.Run("rejection", func(t *testing.T) {
		rt := newTestRuntime(t)

		boom := errors.New("inner boom")
		inner, _, rejectInner := rt.NewPromise()
		outer, resolveOuter, _ := rt.NewPromise()

		resolveOuter(inner)
		rejectInner(boom)

		if got := waitSettled(t, outer); got != boom {
			t.Fatalf("expected adopted reason, got %v", got)
		}
		if outer.State() != Rejected {
			t.Fatalf("expected Rejected, got %v", outer.State())
		}
	})
}

// A reaction returning a promise chains: the derived promise waits for it.
func TestResolve_ReturnedPromiseChains(t *testing.T) {
	rt := newTestRuntime(t)

	inner, resolveInner, _ := rt.NewPromise()
	p, resolve, _ := rt.NewPromise()

	child := p.Then(func(v Result) Result {
		return inner
	}, nil)

	resolve(nil)
	drain(t, rt)
	if s := child.State(); s != Pending {
		t.Fatalf("child should wait for the returned promise, got %v", s)
	}

	resolveInner("chained")
	if got := waitSettled(t, child); got != "chained" {
		t.Fatalf("expected 'chained', got %v", got)
	}
}

// asyncThenable calls back with its value on a separate goroutine.
type asyncThenable struct {
	value Result
	delay time.Duration
}

func (x *asyncThenable) Then(resolve func(Result), reject func(Result)) {
	go func() {
		time.Sleep(x.delay)
		resolve(x.value)
	}()
}

// syncThenable calls resolve synchronously, from inside Then.
type syncThenable struct {
	value Result
}

func (x *syncThenable) Then(resolve func(Result), reject func(Result)) {
	resolve(x.value)
}

// noisyThenable invokes both callbacks, repeatedly.
type noisyThenable struct {
	resolves []Result
	rejects  []Result
}

func (x *noisyThenable) Then(resolve func(Result), reject func(Result)) {
	for _, v := range x.resolves {
		resolve(v)
	}
	for _, r := range x.rejects {
		reject(r)
	}
}

// panickyThenable panics out of Then, optionally after calling back first.
type panickyThenable struct {
	resolveFirst Result
	callFirst    bool
}

func (x *panickyThenable) Then(resolve func(Result), reject func(Result)) {
	if x.callFirst {
		resolve(x.resolveFirst)
	}
	panic("broken thenable")
}

// silentThenable never calls back.
type silentThenable struct{}

func (x *silentThenable) Then(resolve func(Result), reject func(Result)) {}

func TestResolve_AdoptsAsyncThenable(t *testing.T) {
	rt := newTestRuntime(t)

	p, resolve, _ := rt.NewPromise()
	resolve(&asyncThenable{value: 42, delay: 10 * time.Millisecond})

	if got := waitSettled(t, p); got != 42 {
		t.Fatalf("expected 42, got %v", got)
	}
	if p.State() != Fulfilled {
		t.Fatalf("expected Fulfilled, got %v", p.State())
	}
}

func TestResolve_AdoptsSyncThenable(t *testing.T) {
	rt := newTestRuntime(t)

	p, resolve, _ := rt.NewPromise()
	resolve(&syncThenable{value: "sync"})

	if got := waitSettled(t, p); got != "sync" {
		t.Fatalf("expected 'sync', got %v", got)
	}
}

// A misbehaving thenable that calls back repeatedly, with both kinds: only
// the first invocation is honored.
func TestResolve_MisbehavingThenableFirstCallWins(t *testing.T) {
	rt := newTestRuntime(t)

	p, resolve, _ := rt.NewPromise()
	resolve(&noisyThenable{
		resolves: []Result{"first", "second", "third"},
		rejects:  []Result{"too late"},
	})

	if got := waitSettled(t, p); got != "first" {
		t.Fatalf("expected 'first', got %v", got)
	}
	if p.State() != Fulfilled {
		t.Fatalf("expected Fulfilled, got %v", p.State())
	}
}

// A thenable whose Then panics before any callback fires rejects the
// promise with the panic value.
func TestResolve_ThenablePanicRejects(t *testing.T) {
	rt := newTestRuntime(t)

	p, resolve, _ := rt.NewPromise()
	resolve(&panickyThenable{})

	got := waitSettled(t, p)
	if p.State() != Rejected {
		t.Fatalf("expected Rejected, got %v", p.State())
	}
	pe, ok := got.(PanicError)
	if !ok {
		t.Fatalf("expected PanicError, got %T", got)
	}
	if pe.Value != "broken thenable" {
		t.Fatalf("unexpected panic value: %v", pe.Value)
	}
}

// A thenable that calls back and then panics: the callback already fired,
// so the panic is ignored.
func TestResolve_ThenablePanicAfterCallbackIgnored(t *testing.T) {
	rt := newTestRuntime(t)

	p, resolve, _ := rt.NewPromise()
	resolve(&panickyThenable{callFirst: true, resolveFirst: "won"})

	if got := waitSettled(t, p); got != "won" {
		t.Fatalf("expected 'won', got %v", got)
	}
	if p.State() != Fulfilled {
		t.Fatalf("expected Fulfilled, got %v", p.State())
	}
}

// A thenable that never calls back leaves the promise pending.
func TestResolve_SilentThenableStaysPending(t *testing.T) {
	rt := newTestRuntime(t)

	p, resolve, _ := rt.NewPromise()
	resolve(&silentThenable{})
	drain(t, rt)

	if s := p.State(); s != Pending {
		t.Fatalf("expected Pending, got %v", s)
	}
}

// A thenable forwarding another thenable: adoption recurses with a fresh
// one-shot latch per attempt.
func TestResolve_NestedThenables(t *testing.T) {
	rt := newTestRuntime(t)

	inner := &asyncThenable{value: "deep", delay: time.Millisecond}
	outer := &syncThenable{value: inner}

	p, resolve, _ := rt.NewPromise()
	resolve(outer)

	if got := waitSettled(t, p); got != "deep" {
		t.Fatalf("expected 'deep', got %v", got)
	}
}

// A long chain of synchronously-forwarding thenables must not overflow the
// stack: each adoption attempt runs on its own scheduler task.
func TestResolve_DeepThenableChainStackBounded(t *testing.T) {
	rt := newTestRuntime(t)

	const depth = 10_000
	var build func(n int) Result
	build = func(n int) Result {
		if n == 0 {
			return "bottom"
		}
		return &syncThenable{value: &lazyThenable{next: func() Result { return build(n - 1) }}}
	}

	p, resolve, _ := rt.NewPromise()
	resolve(build(depth))

	if got := waitSettled(t, p); got != "bottom" {
		t.Fatalf("expected 'bottom', got %v", got)
	}
}

// lazyThenable defers construction of the forwarded value until invoked.
type lazyThenable struct {
	next func() Result
}

func (x *lazyThenable) Then(resolve func(Result), reject func(Result)) {
	resolve(x.next())
}

// The latch is shared per adoption attempt, not global: two promises
// adopting the same thenable instance settle independently.
func TestResolve_SharedThenableIndependentAdoptions(t *testing.T) {
	rt := newTestRuntime(t)

	var calls atomic.Int32
	th := &countingThenable{calls: &calls}

	a, resolveA, _ := rt.NewPromise()
	b, resolveB, _ := rt.NewPromise()
	resolveA(th)
	resolveB(th)

	if got := waitSettled(t, a); got != int32(1) && got != int32(2) {
		t.Fatalf("unexpected value for a: %v", got)
	}
	if got := waitSettled(t, b); got != int32(1) && got != int32(2) {
		t.Fatalf("unexpected value for b: %v", got)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("expected 2 adoption attempts, got %d", n)
	}
}

type countingThenable struct {
	calls *atomic.Int32
}

func (x *countingThenable) Then(resolve func(Result), reject func(Result)) {
	resolve(x.calls.Add(1))
}

// manualThenable hands its callbacks to the test for later invocation.
type manualThenable struct {
	mu      sync.Mutex
	resolve func(Result)
}

func (x *manualThenable) Then(resolve func(Result), reject func(Result)) {
	x.mu.Lock()
	x.resolve = resolve
	x.mu.Unlock()
}

func (x *manualThenable) fire(v Result) {
	x.mu.Lock()
	resolve := x.resolve
	x.mu.Unlock()
	resolve(v)
}

// The first settlement call claims the promise outright: resolving with a
// still-pending thenable (or promise) hands settlement to the adoption, and
// competing trigger calls made in the meantime must not commit.
func TestResolve_AdoptionInFlightBlocksLaterTriggers(t *testing.T) {
	t.Run("competing reject", func(t *testing.T) {
		rt := newTestRuntime(t)

		th := &manualThenable{}
		p, resolve, reject := rt.NewPromise()

		resolve(th)
		drain(t, rt) // adoption has invoked the thenable; still unsettled

		reject("usurper")
		drain(t, rt)
		if s := p.State(); s != Pending {
			t.Fatalf("promise settled by a second trigger call: %v", s)
		}

		th.fire("rightful")
		if got := waitSettled(t, p); got != "rightful" {
			t.Fatalf("expected the adopted value, got %v", got)
		}
		if p.State() != Fulfilled {
			t.Fatalf("expected Fulfilled, got %v", p.State())
		}
	})

	t.Run("competing resolve", func(t *testing.T) {
		rt := newTestRuntime(t)

		th := &manualThenable{}
		p, resolve, _ := rt.NewPromise()

		resolve(th)
		drain(t, rt)

		resolve("usurper")
		drain(t, rt)
		if s := p.State(); s != Pending {
			t.Fatalf("promise settled by a second trigger call: %v", s)
		}

		th.fire("rightful")
		if got := waitSettled(t, p); got != "rightful" {
			t.Fatalf("expected the adopted value, got %v", got)
		}
	})

	t.Run("pending promise payload", func(t *testing.T) {
		rt := newTestRuntime(t)

		inner, resolveInner, _ := rt.NewPromise()
		outer, resolveOuter, rejectOuter := rt.NewPromise()

		resolveOuter(inner)
		rejectOuter("usurper")
		drain(t, rt)
		if s := outer.State(); s != Pending {
			t.Fatalf("promise settled by a second trigger call: %v", s)
		}

		resolveInner("rightful")
		if got := waitSettled(t, outer); got != "rightful" {
			t.Fatalf("expected the adopted value, got %v", got)
		}
	})
}
