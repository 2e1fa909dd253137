// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package lifecycle provides helpers for defining actions to execute relative to a runtimes execution.
package lifecycle

import (
	"context"
	"errors"
	"time"
)

// Hook represents functionality that needs to be performed
// at a specific "time" relative to the execution of a runtime.
type Hook interface {
	Run(context.Context) error
}

// HookFunc is a func variant of the [Hook] interface.
type HookFunc func(context.Context) error

// Run implements the [Hook] interface.
func (f HookFunc) Run(ctx context.Context) error {
	return f(ctx)
}

type multiHook []Hook

func (mh multiHook) Run(ctx context.Context) error {
	errs := make([]error, 0, len(mh))
	for _, h := range mh {
		err := h.Run(ctx)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	return errors.Join(errs...)
}

// MultiHook returns a [Hook] that's the logical concatenation
// of the provided [Hook]s. They're applied sequentially.
func MultiHook(hooks ...Hook) Hook {
	return multiHook(hooks)
}

// Shutdowner is implemented by anything which must be flushed and
// released after a runtime exits, e.g. a trace provider.
type Shutdowner interface {
	Shutdown(context.Context) error
}

// ShutdownHook returns a [Hook] which calls s.Shutdown. The context
// given to Shutdown is detached from cancellation of the hook context
// and bounded by timeout instead, if timeout is positive.
func ShutdownHook(s Shutdowner, timeout time.Duration) Hook {
	return HookFunc(func(ctx context.Context) error {
		ctx = context.WithoutCancel(ctx)
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		return s.Shutdown(ctx)
	})
}
