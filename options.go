// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package mainloop

import (
	"errors"
	"time"

	"github.com/joeycumines/logiface"
)

// contextOptions holds configuration options for MainContext creation.
type contextOptions struct {
	logger                *logiface.Logger[logiface.Event]
	name                  string
	slowDispatchThreshold time.Duration
	metricsEnabled        bool
}

// --- Context Options ---

// ContextOption configures a MainContext instance.
type ContextOption interface {
	applyContext(*contextOptions) error
}

// contextOptionImpl implements ContextOption.
type contextOptionImpl struct {
	applyContextFunc func(*contextOptions) error
}

func (c *contextOptionImpl) applyContext(opts *contextOptions) error {
	return c.applyContextFunc(opts)
}

// WithLogger sets the logger used by the context, overriding the package
// logger configured with SetLogger. Passing nil keeps the package logger.
func WithLogger(logger *logiface.Logger[logiface.Event]) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithName labels the context in log output.
func WithName(name string) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.name = name
		return nil
	}}
}

// WithMetrics enables runtime metrics collection on the context.
// When enabled, metrics can be accessed via MainContext.Metrics().
// Dispatch latency is recorded after every callback.
func WithMetrics(enabled bool) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		opts.metricsEnabled = enabled
		return nil
	}}
}

// WithSlowDispatchThreshold logs a (rate limited) warning whenever a single
// source callback runs longer than d. Zero disables the check.
func WithSlowDispatchThreshold(d time.Duration) ContextOption {
	return &contextOptionImpl{func(opts *contextOptions) error {
		if d < 0 {
			return errors.New("mainloop: slow dispatch threshold must not be negative")
		}
		opts.slowDispatchThreshold = d
		return nil
	}}
}

// resolveContextOptions applies ContextOption instances to contextOptions.
func resolveContextOptions(opts []ContextOption) (*contextOptions, error) {
	cfg := &contextOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyContext(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
