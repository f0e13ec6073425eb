package promise

import "fmt"

// RejectionHandler is invoked when an unhandled promise rejection is
// detected. The reason parameter contains the rejection reason; when the
// runtime is in debug mode and a creation stack was captured, the reason is
// wrapped in [*UnhandledRejectionDebugInfo].
type RejectionHandler func(reason Result)

// rejectionInfo holds a rejected promise awaiting its unhandled check.
type rejectionInfo struct {
	reason        Result
	creationStack []uintptr
	promiseID     uint64
}

// trackingEnabled reports whether rejection bookkeeping has any sink.
// Without a callback or logger there is nothing to report, so tracking is
// skipped entirely and the maps stay empty.
func (rt *Runtime) trackingEnabled() bool {
	return rt.onUnhandled != nil || rt.logger != nil
}

// noteRejection records a freshly rejected promise for its later unhandled
// check. hadHandlers is true when the promise had any reaction registered
// at rejection time; such a rejection was consumed or forwarded downstream
// and is never reported here (the downstream promise runs its own tracking
// if the rejection passes through).
//
// Called by reject while p.mu is held, before the state commit: once the
// promise reads as settled, the record is guaranteed to be in place, so a
// concurrent markRejectionHandled always finds and cancels it — there is no
// window between the state commit and the record. Returns true when the
// caller should schedule the check.
func (rt *Runtime) noteRejection(p *Promise, reason Result, hadHandlers bool) bool {
	if !rt.trackingEnabled() {
		return false
	}

	rt.rejectionsMu.Lock()
	defer rt.rejectionsMu.Unlock()
	if _, ok := rt.handled[p.id]; ok || hadHandlers {
		delete(rt.handled, p.id)
		return false
	}
	rt.rejections[p.id] = &rejectionInfo{
		reason:        reason,
		creationStack: p.creationStack,
		promiseID:     p.id,
	}
	return true
}

// scheduleRejectionCheck defers the unhandled check by two scheduler hops,
// so reactions registered during the current drain — including by
// already-queued dispatch tasks — count as handling the rejection. A
// rejection handler attached later than that may still race the report;
// attach handlers before or promptly after settlement triggers fire.
func (rt *Runtime) scheduleRejectionCheck(id uint64) {
	if err := rt.sched.Schedule(func() {
		if err := rt.sched.Schedule(func() {
			rt.checkRejection(id)
		}); err != nil {
			rt.checkRejection(id)
		}
	}); err != nil {
		rt.checkRejection(id)
	}
}

// markRejectionHandled records that a rejection reaction was attached to p,
// cancelling any pending report for it.
//
// Against a concurrent reject this either runs entirely before the
// rejection is recorded (the handled mark is then consumed by
// noteRejection, which requires p.mu for the pending branch) or after the
// state commit (the record already exists and is deleted here, no lock
// needed). Lock order is always p.mu then rejectionsMu.
func (rt *Runtime) markRejectionHandled(p *Promise) {
	if !rt.trackingEnabled() {
		return
	}

	// Settled is final and the record precedes the state commit: cancel
	// without p.mu. This also keeps reactions executed inline under p.mu
	// (closed-queue fallback) free to attach handlers to p.
	if p.State() != Pending {
		rt.rejectionsMu.Lock()
		delete(rt.rejections, p.id)
		delete(rt.handled, p.id)
		rt.rejectionsMu.Unlock()
		return
	}

	p.mu.Lock()
	rt.rejectionsMu.Lock()
	if p.State() != Pending {
		delete(rt.rejections, p.id)
		delete(rt.handled, p.id)
	} else {
		rt.handled[p.id] = struct{}{}
	}
	rt.rejectionsMu.Unlock()
	p.mu.Unlock()
}

// forgetRejection drops all tracking state for p. Called on fulfillment:
// a fulfilled promise can never produce a rejection to report.
func (rt *Runtime) forgetRejection(p *Promise) {
	if !rt.trackingEnabled() {
		return
	}

	rt.rejectionsMu.Lock()
	delete(rt.rejections, p.id)
	delete(rt.handled, p.id)
	rt.rejectionsMu.Unlock()
}

// checkRejection reports the rejection if it is still unhandled.
func (rt *Runtime) checkRejection(id uint64) {
	rt.rejectionsMu.Lock()
	info, ok := rt.rejections[id]
	if ok {
		delete(rt.rejections, id)
	}
	rt.rejectionsMu.Unlock()

	if !ok {
		return // handled in the meantime
	}
	rt.reportUnhandled(info)
}

// reportUnhandled delivers one unhandled-rejection report: the configured
// callback always fires; the warning log line is rate-limited per reason
// type.
func (rt *Runtime) reportUnhandled(info *rejectionInfo) {
	if cb := rt.onUnhandled; cb != nil {
		if len(info.creationStack) > 0 {
			cb(&UnhandledRejectionDebugInfo{
				Reason:             info.reason,
				CreationStackTrace: formatCreationStack(info.creationStack),
			})
		} else {
			cb(info.reason)
		}
	}

	if b := rt.logger.Warning(); b.Enabled() {
		if rt.limiter != nil {
			if _, ok := rt.limiter.Allow(fmt.Sprintf("%T", info.reason)); !ok {
				b.Release()
				return
			}
		}
		b.Uint64("promise", info.promiseID)
		if err, ok := info.reason.(error); ok {
			b.Err(err)
		} else {
			b.Interface("reason", info.reason)
		}
		if len(info.creationStack) > 0 {
			b.Str("created_at", formatCreationStack(info.creationStack))
		}
		b.Log("unhandled promise rejection")
	}
}

// UnhandledRejectionDebugInfo wraps an unhandled rejection reason together
// with the stack trace of the promise's creation site. It is passed to
// [RejectionHandler] only when the runtime was constructed with
// [WithDebugMode]; otherwise the handler receives the raw reason.
//
//	rt, _ := promise.New(
//	    promise.WithDebugMode(true),
//	    promise.WithUnhandledRejection(func(r promise.Result) {
//	        if debug, ok := r.(*promise.UnhandledRejectionDebugInfo); ok {
//	            log.Printf("unhandled rejection: %v\ncreated at:\n%s",
//	                debug.Reason, debug.CreationStackTrace)
//	        }
//	    }),
//	)
type UnhandledRejectionDebugInfo struct {
	// Reason is the original rejection value from the failed promise.
	Reason Result

	// CreationStackTrace is a formatted stack trace showing where the
	// promise was created, one "package.function (file:line)" per line.
	CreationStackTrace string
}

// Error implements the error interface so UnhandledRejectionDebugInfo can
// be used as an error value when the underlying Reason is also an error.
func (u *UnhandledRejectionDebugInfo) Error() string {
	if err, ok := u.Reason.(error); ok {
		return err.Error()
	}
	return fmt.Sprintf("%v", u.Reason)
}

// Unwrap returns the underlying error if Reason is an error type, enabling
// [errors.Is] and [errors.As] through the wrapper.
func (u *UnhandledRejectionDebugInfo) Unwrap() error {
	if err, ok := u.Reason.(error); ok {
		return err
	}
	return nil
}
