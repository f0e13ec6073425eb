package promise

import (
	"sync"
	"sync/atomic"
)

// Combinators accept []any rather than []*Promise: members may be promises,
// foreign [Thenable] values, or plain values. Promise and thenable members
// are monitored; a plain value fills its result slot immediately and does
// not count toward completion.

// monitor returns a promise tracking member, or nil when member is a plain
// value.
func (rt *Runtime) monitor(member any) *Promise {
	switch v := member.(type) {
	case *Promise:
		return v
	case Thenable:
		p := rt.newPromise()
		p.adoptThenable(v)
		return p
	default:
		return nil
	}
}

// All returns a promise that fulfills when every monitored member fulfills,
// with a slice of values in input order, and rejects as soon as any member
// rejects, with that first reason. Later settlements of other members are
// ignored. Slots of members that never produce a value stay nil.
//
// An empty input fulfills with an empty slice; reactions on the result
// still dispatch via the scheduler, never inline.
func (rt *Runtime) All(members []any) *Promise {
	result, resolve, reject := rt.NewPromise()

	values := make([]Result, len(members))
	monitored := make([]*Promise, len(members))
	var count int32
	for i, member := range members {
		if p := rt.monitor(member); p != nil {
			monitored[i] = p
			count++
		} else {
			values[i] = member
		}
	}

	if count == 0 {
		resolve(values)
		return result
	}

	var mu sync.Mutex
	var remaining atomic.Int32
	remaining.Store(count)
	var rejected atomic.Bool

	for i, p := range monitored {
		if p == nil {
			continue
		}
		idx := i
		p.Then(
			func(v Result) Result {
				mu.Lock()
				values[idx] = v
				mu.Unlock()

				if remaining.Add(-1) == 0 && !rejected.Load() {
					resolve(values)
				}
				return nil
			},
			func(r Result) Result {
				// First rejection wins; the rest are ignored.
				if rejected.CompareAndSwap(false, true) {
					reject(r)
				}
				return nil
			},
		)
	}

	return result
}

// AllSettled returns a promise that settles only once every monitored
// member has settled. If no member rejected, it fulfills with all values in
// input order (plain members contribute their slot as with [Runtime.All]).
// If any member rejected, it rejects with a []Result of every rejection
// reason, in arrival order — not input order.
//
// An empty input fulfills with an empty slice.
func (rt *Runtime) AllSettled(members []any) *Promise {
	result, resolve, reject := rt.NewPromise()

	values := make([]Result, len(members))
	monitored := make([]*Promise, len(members))
	var count int32
	for i, member := range members {
		if p := rt.monitor(member); p != nil {
			monitored[i] = p
			count++
		} else {
			values[i] = member
		}
	}

	if count == 0 {
		resolve(values)
		return result
	}

	var mu sync.Mutex
	var failures []Result
	var remaining atomic.Int32
	remaining.Store(count)

	settle := func() {
		if remaining.Add(-1) != 0 {
			return
		}
		mu.Lock()
		reasons := failures
		mu.Unlock()
		if len(reasons) > 0 {
			reject(reasons)
		} else {
			resolve(values)
		}
	}

	for i, p := range monitored {
		if p == nil {
			continue
		}
		idx := i
		p.Then(
			func(v Result) Result {
				mu.Lock()
				values[idx] = v
				mu.Unlock()
				settle()
				return nil
			},
			func(r Result) Result {
				mu.Lock()
				failures = append(failures, r)
				mu.Unlock()
				settle()
				return nil
			},
		)
	}

	return result
}

// Race returns a promise that settles with the outcome of the first member
// to settle; all later settlements are ignored. A plain value member wins
// immediately. An empty input never settles.
//
// Racing work against [Runtime.Timeout] is the supported timeout pattern.
func (rt *Runtime) Race(members []any) *Promise {
	result, resolve, reject := rt.NewPromise()

	var settled atomic.Bool

	for _, member := range members {
		p := rt.monitor(member)
		if p == nil {
			if settled.CompareAndSwap(false, true) {
				resolve(member)
			}
			break
		}
		p.Then(
			func(v Result) Result {
				if settled.CompareAndSwap(false, true) {
					resolve(v)
				}
				return nil
			},
			func(r Result) Result {
				if settled.CompareAndSwap(false, true) {
					reject(r)
				}
				return nil
			},
		)
	}

	return result
}

// Any returns a promise that fulfills with the value of the first member to
// fulfill (a plain value member fulfills it immediately), and rejects with
// an [*AggregateError] only once every member has rejected. Reasons in the
// aggregate preserve input order. An empty input rejects immediately.
func (rt *Runtime) Any(members []any) *Promise {
	result, resolve, reject := rt.NewPromise()

	monitored := make([]*Promise, len(members))
	var count int32
	for i, member := range members {
		if p := rt.monitor(member); p != nil {
			monitored[i] = p
			count++
			continue
		}
		// Plain value: first fulfillment wins outright.
		resolve(member)
		return result
	}

	if count == 0 {
		reject(&AggregateError{Message: "promise: no members provided"})
		return result
	}

	var mu sync.Mutex
	rejections := make([]Result, len(members))
	var rejectedCount atomic.Int32
	var resolved atomic.Bool

	for i, p := range monitored {
		if p == nil {
			continue
		}
		idx := i
		p.Then(
			func(v Result) Result {
				if resolved.CompareAndSwap(false, true) {
					resolve(v)
				}
				return nil
			},
			func(r Result) Result {
				mu.Lock()
				rejections[idx] = r
				mu.Unlock()

				if rejectedCount.Add(1) == count && !resolved.Load() {
					errs := make([]error, 0, count)
					for _, r := range rejections {
						if err, ok := r.(error); ok {
							errs = append(errs, err)
						} else {
							errs = append(errs, &ErrorWrapper{Value: r})
						}
					}
					reject(&AggregateError{
						Message: "promise: all members were rejected",
						Errors:  errs,
					})
				}
				return nil
			},
		)
	}

	return result
}
