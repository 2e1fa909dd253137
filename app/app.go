// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package app provides helpers for composing and running the xruntime servers.
package app

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/z5labs/xruntime/internal/try"
	"github.com/z5labs/xruntime/lifecycle"

	"golang.org/x/sync/errgroup"
)

// Runtime represents a long running unit of work, e.g. a HTTP or gRPC server.
type Runtime interface {
	Run(context.Context) error
}

// RuntimeFunc is a func variant of the [Runtime] interface.
type RuntimeFunc func(context.Context) error

// Run implements the [Runtime] interface.
func (f RuntimeFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// PanicError is returned by [Recover] when the panic value is not an error.
type PanicError = try.PanicError

// MultiRuntime runs every [Runtime] concurrently. The first failure
// cancels the context given to the others.
func MultiRuntime(rs ...Runtime) Runtime {
	return RuntimeFunc(func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		for _, r := range rs {
			r := r
			g.Go(func() error {
				return r.Run(gctx)
			})
		}
		return g.Wait()
	})
}

// Recover will wrap the given [Runtime] with panic recovery.
// A recovered panic is returned as a [PanicError] which unwraps
// to the panic value if it implements [error].
func Recover(rt Runtime) Runtime {
	return RuntimeFunc(func(ctx context.Context) (err error) {
		defer try.Recover(&err)

		return rt.Run(ctx)
	})
}

// WithSignalNotifications wraps a given [Runtime] in an implementation
// that cancels the [context.Context] that's passed to rt.Run if an [os.Signal]
// is received by the running process.
func WithSignalNotifications(rt Runtime, signals ...os.Signal) Runtime {
	return RuntimeFunc(func(ctx context.Context) error {
		sigCtx, cancel := signal.NotifyContext(ctx, signals...)
		defer cancel()

		return rt.Run(sigCtx)
	})
}

// Lifecycle
type Lifecycle struct {
	// PostRun is always executed regardless if the underlying [Runtime]
	// returns an error or panics.
	PostRun lifecycle.Hook
}

// WithLifecycleHooks wraps a given [Runtime] in an implementation
// that runs [lifecycle.Hook]s around the execution of rt.Run.
func WithLifecycleHooks(rt Runtime, lc Lifecycle) Runtime {
	return RuntimeFunc(func(ctx context.Context) (err error) {
		defer runPostRunHook(ctx, lc.PostRun, &err)

		return rt.Run(ctx)
	})
}

func runPostRunHook(ctx context.Context, hook lifecycle.Hook, err *error) {
	if hook == nil {
		return
	}

	hookErr := hook.Run(ctx)

	// errors.Join will not return an error if both
	// *err and hookErr are nil.
	*err = errors.Join(*err, hookErr)
}
