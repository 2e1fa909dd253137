// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package grpcruntime reports handler runtimes as gRPC header metadata.
//
// The metadata key is the lower cased runtime header key, "x-runtime"
// or "x-runtime-<suffix>". Metadata set by the handler under the same key
// is never overwritten. Headers which the handler sends itself, or which
// are sent along with the first streamed message, carry the runtime
// measured up to that moment.
package grpcruntime

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/z5labs/xruntime"
	"github.com/z5labs/xruntime/pkg/noop"
	"github.com/z5labs/xruntime/pkg/slogfield"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type options struct {
	key   string
	clock xruntime.Clock
	log   *slog.Logger
}

// Option configures the interceptors.
type Option func(*options)

// Key returns the metadata key for the given suffix.
func Key(suffix string) string {
	return strings.ToLower(xruntime.Key(suffix))
}

// Suffix appends "-" and the lower cased s to the metadata key.
func Suffix(s string) Option {
	return func(o *options) {
		o.key = Key(s)
	}
}

// WithClock overrides [xruntime.SystemClock].
func WithClock(c xruntime.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// LogHandler configures where failures to report a runtime are logged.
func LogHandler(h slog.Handler) Option {
	return func(o *options) {
		o.log = slog.New(h)
	}
}

func newOptions(opts ...Option) options {
	o := options{
		key:   Key(""),
		clock: xruntime.SystemClock,
		log:   slog.New(noop.LogHandler{}),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// tracker records what happened to the response headers of a single call.
type tracker struct {
	key   string
	clock xruntime.Clock
	log   *slog.Logger
	start time.Time

	mu   sync.Mutex
	seen bool
	done bool
}

func (o options) track() *tracker {
	return &tracker{
		key:   o.key,
		clock: o.clock,
		log:   o.log,
		start: o.clock.Now(),
	}
}

func (t *tracker) observe(md metadata.MD) {
	if len(md.Get(t.key)) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = true
}

// stamp returns md with the runtime added, unless the key was already
// seen or the headers were already stamped or sent.
func (t *tracker) stamp(md metadata.MD) metadata.MD {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done || t.seen {
		t.done = true
		return md
	}
	t.done = true

	out := md.Copy()
	out.Set(t.key, xruntime.Format(xruntime.Elapsed(t.start, t.clock.Now())))
	return out
}

func (t *tracker) finish(ctx context.Context, setHeader func(metadata.MD) error) {
	md := t.stamp(nil)
	if len(md) == 0 {
		return
	}
	err := setHeader(md)
	if err != nil {
		t.log.DebugContext(ctx, "failed to set runtime metadata", slogfield.String("key", t.key), slogfield.Error(err))
	}
}

type transportStream struct {
	grpc.ServerTransportStream
	t *tracker
}

func (s *transportStream) SetHeader(md metadata.MD) error {
	s.t.observe(md)
	return s.ServerTransportStream.SetHeader(md)
}

func (s *transportStream) SendHeader(md metadata.MD) error {
	s.t.observe(md)
	return s.ServerTransportStream.SendHeader(s.t.stamp(md))
}

// UnaryServerInterceptor reports the runtime of unary handlers.
// A handler error is returned as is and no metadata is added.
func UnaryServerInterceptor(opts ...Option) grpc.UnaryServerInterceptor {
	o := newOptions(opts...)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		t := o.track()

		stream := grpc.ServerTransportStreamFromContext(ctx)
		if stream == nil {
			return handler(ctx, req)
		}

		ts := &transportStream{ServerTransportStream: stream, t: t}
		resp, err := handler(grpc.NewContextWithServerTransportStream(ctx, ts), req)
		if err != nil {
			return resp, err
		}

		t.finish(ctx, stream.SetHeader)
		return resp, nil
	}
}

type serverStream struct {
	grpc.ServerStream
	ctx context.Context
	t   *tracker
}

func (s *serverStream) Context() context.Context {
	return s.ctx
}

func (s *serverStream) SetHeader(md metadata.MD) error {
	s.t.observe(md)
	return s.ServerStream.SetHeader(md)
}

func (s *serverStream) SendHeader(md metadata.MD) error {
	s.t.observe(md)
	return s.ServerStream.SendHeader(s.t.stamp(md))
}

func (s *serverStream) SendMsg(m any) error {
	s.t.finish(s.ctx, s.ServerStream.SetHeader)
	return s.ServerStream.SendMsg(m)
}

// StreamServerInterceptor reports the runtime of streaming handlers.
// The runtime is measured until the first message or explicit header
// send, or until the handler returns if it sends neither.
func StreamServerInterceptor(opts ...Option) grpc.StreamServerInterceptor {
	o := newOptions(opts...)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		t := o.track()

		ctx := ss.Context()
		if stream := grpc.ServerTransportStreamFromContext(ctx); stream != nil {
			ctx = grpc.NewContextWithServerTransportStream(ctx, &transportStream{ServerTransportStream: stream, t: t})
		}

		err := handler(srv, &serverStream{ServerStream: ss, ctx: ctx, t: t})
		if err != nil {
			return err
		}

		t.finish(ctx, ss.SetHeader)
		return nil
	}
}
