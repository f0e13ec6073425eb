package promise

import "sync/atomic"

// Thenable is the reaction-registration capability probed for by the
// resolution procedure. Any value implementing it — regardless of how it is
// implemented — can settle a promise: resolving a promise with a Thenable
// defers that promise's settlement until the thenable calls one of the two
// supplied functions, and forwards the outcome.
//
// Implementations may invoke the callbacks synchronously, asynchronously,
// from any goroutine, more than once, or never. Exactly one invocation is
// honored per adoption; the rest are ignored. A panic out of Then is
// converted into a rejection (wrapped in [PanicError]) when neither
// callback has fired yet.
//
// *Promise deliberately does not implement Thenable; promises adopt each
// other through a cheaper internal path.
type Thenable interface {
	// Then registers the two settlement forwarders. resolve and reject are
	// never nil.
	Then(resolve func(Result), reject func(Result))
}

// adoptThenable defers p's settlement to the thenable's own outcome.
//
// Each adoption attempt owns its own latched pair of forwarding closures;
// the latch makes the pair one-shot, guarding against misbehaving thenables
// that call back repeatedly or call both callbacks. The forwarded value is
// itself subject to the resolution procedure, so chains of thenables adopt
// one another; invoking each capability on a fresh scheduler task keeps the
// call stack bounded no matter how deep the chain runs.
func (p *Promise) adoptThenable(t Thenable) {
	if err := p.rt.sched.Schedule(func() {
		p.invokeThenable(t)
	}); err != nil {
		p.invokeThenable(t)
	}
}

func (p *Promise) invokeThenable(t Thenable) {
	var done atomic.Bool

	resolve := func(v Result) {
		if done.CompareAndSwap(false, true) {
			p.resolve(v)
		}
	}
	reject := func(r Result) {
		if done.CompareAndSwap(false, true) {
			p.reject(r)
		}
	}

	defer func() {
		// A panic out of the registration capability only matters if no
		// forwarded outcome was honored first.
		if r := recover(); r != nil {
			if done.CompareAndSwap(false, true) {
				p.reject(PanicError{Value: r})
			}
		}
	}()

	t.Then(resolve, reject)
}
