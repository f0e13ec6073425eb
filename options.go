// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package promise

import (
	"time"

	"github.com/joeycumines/logiface"
)

// runtimeOptions holds configuration options for Runtime creation.
type runtimeOptions struct {
	sched       Scheduler
	logger      *logiface.Logger[logiface.Event]
	onUnhandled RejectionHandler
	rates       map[time.Duration]int
	debugMode   bool
}

// Option configures a [Runtime] instance.
type Option interface {
	applyRuntime(*runtimeOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyRuntimeFunc func(*runtimeOptions) error
}

func (o *optionImpl) applyRuntime(opts *runtimeOptions) error {
	return o.applyRuntimeFunc(opts)
}

// WithScheduler sets the [Scheduler] used to dispatch reactions. By default
// the runtime creates and owns a [TaskQueue], closed by [Runtime.Close];
// a scheduler supplied here is owned by the caller.
func WithScheduler(sched Scheduler) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.sched = sched
		return nil
	}}
}

// WithLogger sets the logger used for settlement traces and
// unhandled-rejection warnings. A nil logger (the default) disables all
// logging; logging never alters scheduling or settlement outcomes.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithUnhandledRejection configures a handler invoked when a rejected
// promise still has no rejection reaction after the scheduler has had a
// chance to run reactions registered around the rejection.
func WithUnhandledRejection(handler RejectionHandler) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.onUnhandled = handler
		return nil
	}}
}

// WithUnhandledRejectionRates sets the per-category rate limit applied to
// unhandled-rejection log output (category is the reason's dynamic type).
// The default allows 10 lines per category per minute. Rate limiting only
// affects the log output, never the [WithUnhandledRejection] callback.
func WithUnhandledRejectionRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.rates = rates
		return nil
	}}
}

// WithDebugMode enables capture of a creation stack trace on every promise,
// retrievable via [Promise.CreationStackTrace] and included in
// unhandled-rejection reports. Adds allocation per promise; intended for
// debugging, not production.
func WithDebugMode(enabled bool) Option {
	return &optionImpl{func(opts *runtimeOptions) error {
		opts.debugMode = enabled
		return nil
	}}
}

// resolveRuntimeOptions applies Option instances to runtimeOptions.
func resolveRuntimeOptions(opts []Option) (*runtimeOptions, error) {
	cfg := &runtimeOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyRuntime(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
