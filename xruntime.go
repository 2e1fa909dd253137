// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package xruntime

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/z5labs/xruntime/header"
)

// BaseKey is the header key used when no suffix is configured.
const BaseKey = "X-Runtime"

// Env is the request environment passed, untouched, to a [Handler].
type Env map[string]any

// Response is what a [Handler] produces.
type Response struct {
	Status int
	Header header.Header
	Body   io.Reader
}

// Handler represents the downstream unit of a middleware chain.
type Handler interface {
	Handle(context.Context, Env) (Response, error)
}

// HandlerFunc is a func implementation of the [Handler] interface.
type HandlerFunc func(context.Context, Env) (Response, error)

// Handle implements the [Handler] interface.
func (f HandlerFunc) Handle(ctx context.Context, env Env) (Response, error) {
	return f(ctx, env)
}

// Clock is a source of timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reads the wall clock. Timestamps carry a monotonic
// reading so differences between them are unaffected by clock steps.
var SystemClock Clock = systemClock{}

// Key returns the header key for the given suffix.
func Key(suffix string) string {
	if suffix == "" {
		return BaseKey
	}
	return BaseKey + "-" + suffix
}

// Elapsed returns end - start, or zero if end is before start.
func Elapsed(start, end time.Time) time.Duration {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

// Format renders d as decimal seconds with microsecond precision.
func Format(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 6, 64)
}

// Option configures a [Runtime].
type Option func(*Runtime)

// Suffix appends "-" and s to the header key. An empty s
// leaves the key as [BaseKey].
func Suffix(s string) Option {
	return func(rt *Runtime) {
		rt.key = Key(s)
	}
}

// WithClock replaces [SystemClock] as the timestamp source.
func WithClock(c Clock) Option {
	return func(rt *Runtime) {
		rt.clock = c
	}
}

// Runtime is a [Handler] which times its downstream [Handler] and
// reports the elapsed seconds in a response header.
type Runtime struct {
	next  Handler
	key   string
	clock Clock
}

// New wraps next with a [Runtime].
func New(next Handler, opts ...Option) *Runtime {
	rt := &Runtime{
		next:  next,
		key:   BaseKey,
		clock: SystemClock,
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// Key returns the header key this Runtime writes.
func (rt *Runtime) Key() string {
	return rt.key
}

// Handle implements the [Handler] interface.
//
// Errors returned by the downstream handler are returned as is and
// no header is set. A header already holding a value under [Runtime.Key]
// is never overwritten.
func (rt *Runtime) Handle(ctx context.Context, env Env) (Response, error) {
	start := rt.clock.Now()
	resp, err := rt.next.Handle(ctx, env)
	end := rt.clock.Now()
	if err != nil {
		return resp, err
	}

	if resp.Header == nil {
		resp.Header = &header.Fields{}
	}
	if h, ok := resp.Header.(header.HTTP); ok && h == nil {
		resp.Header = header.HTTP{}
	}
	if header.IsSet(resp.Header, rt.key) {
		return resp, nil
	}
	resp.Header.Set(rt.key, Format(Elapsed(start, end)))
	return resp, nil
}
