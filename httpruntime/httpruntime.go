// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package httpruntime reports handler runtimes for net/http servers.
//
// A net/http handler flushes its response headers as soon as it writes
// a status code or any part of the body, so the runtime header is
// stamped at that moment, or when the wrapped handler returns if it never
// wrote anything. The measured span is therefore the time from entering
// the middleware until the response headers leave.
package httpruntime

import (
	"io"
	"net/http"
	"time"

	"github.com/z5labs/xruntime"
	"github.com/z5labs/xruntime/header"

	"github.com/felixge/httpsnoop"
)

type options struct {
	key   string
	clock xruntime.Clock
}

// Option configures the runtime middleware.
type Option func(*options)

// Suffix appends "-" and s to the header key.
func Suffix(s string) Option {
	return func(o *options) {
		o.key = xruntime.Key(s)
	}
}

// WithClock overrides [xruntime.SystemClock].
func WithClock(c xruntime.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

func newOptions(opts ...Option) options {
	o := options{
		key:   xruntime.BaseKey,
		clock: xruntime.SystemClock,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Handler is an [http.Handler] which reports how long its wrapped
// [http.Handler] took to produce response headers.
type Handler struct {
	next  http.Handler
	key   string
	clock xruntime.Clock
}

// NewHandler wraps h with runtime reporting.
func NewHandler(h http.Handler, opts ...Option) *Handler {
	o := newOptions(opts...)
	return &Handler{
		next:  h,
		key:   o.key,
		clock: o.clock,
	}
}

// Middleware returns a func which wraps its argument with [NewHandler].
func Middleware(opts ...Option) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return NewHandler(h, opts...)
	}
}

// Key returns the header key this Handler writes.
func (h *Handler) Key() string {
	return h.key
}

// ServeHTTP implements the [http.Handler] interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s := &stamper{
		w:     w,
		key:   h.key,
		clock: h.clock,
		start: h.clock.Now(),
	}

	h.next.ServeHTTP(s.wrap(), r)

	s.stamp()
}

// stamper is the per request state of a Handler.
type stamper struct {
	w       http.ResponseWriter
	key     string
	clock   xruntime.Clock
	start   time.Time
	stamped bool
}

func (s *stamper) stamp() {
	if s.stamped {
		return
	}
	s.stamped = true

	end := s.clock.Now()
	hdr := header.HTTP(s.w.Header())
	if header.IsSet(hdr, s.key) {
		return
	}
	hdr.Set(s.key, xruntime.Format(xruntime.Elapsed(s.start, end)))
}

func (s *stamper) wrap() http.ResponseWriter {
	return httpsnoop.Wrap(s.w, httpsnoop.Hooks{
		WriteHeader: func(next httpsnoop.WriteHeaderFunc) httpsnoop.WriteHeaderFunc {
			return func(code int) {
				if !informational(code) {
					s.stamp()
				}
				next(code)
			}
		},
		Write: func(next httpsnoop.WriteFunc) httpsnoop.WriteFunc {
			return func(b []byte) (int, error) {
				s.stamp()
				return next(b)
			}
		},
		ReadFrom: func(next httpsnoop.ReadFromFunc) httpsnoop.ReadFromFunc {
			return func(src io.Reader) (int64, error) {
				s.stamp()
				return next(src)
			}
		},
		Flush: func(next httpsnoop.FlushFunc) httpsnoop.FlushFunc {
			return func() {
				s.stamp()
				next()
			}
		},
	})
}

// informational reports whether code is sent ahead of the final
// response, leaving the final headers still writable.
func informational(code int) bool {
	return code >= 100 && code <= 199 && code != http.StatusSwitchingProtocols
}
