// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package http provides a HTTP server which implements the app.Runtime
// interface and reports the runtime of every request it serves.
package http

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/z5labs/xruntime/http/httphealth"
	"github.com/z5labs/xruntime/http/httpvalidate"
	"github.com/z5labs/xruntime/httpruntime"
	"github.com/z5labs/xruntime/pkg/health"
	"github.com/z5labs/xruntime/pkg/noop"
	"github.com/z5labs/xruntime/pkg/slogfield"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

type runtimeOptions struct {
	port           uint
	mux            *http.ServeMux
	logHandler     slog.Handler
	readiness      *health.Readiness
	liveness       *health.Liveness
	tlsConfig      *tls.Config
	http2Only      bool
	runtimeHeader  bool
	runtimeOptions []httpruntime.Option
}

// RuntimeOption
type RuntimeOption func(*runtimeOptions)

// ListenOnPort will configure the HTTP server to listen on the given port.
//
// Default port is 8080.
func ListenOnPort(port uint) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.port = port
	}
}

// LogHandler
func LogHandler(h slog.Handler) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.logHandler = h
	}
}

// Handle registers a http.Handler for the given path pattern.
func Handle(pattern string, h http.Handler) RuntimeOption {
	return func(ro *runtimeOptions) {
		registerEndpoint(ro.mux, pattern, h)
	}
}

// HandleFunc registers a http.HandlerFunc for the given path pattern.
func HandleFunc(pattern string, f func(http.ResponseWriter, *http.Request)) RuntimeOption {
	return func(ro *runtimeOptions) {
		registerEndpoint(ro.mux, pattern, http.HandlerFunc(f))
	}
}

// Readiness
func Readiness(r *health.Readiness) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.readiness = r
	}
}

// Liveness
func Liveness(l *health.Liveness) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.liveness = l
	}
}

// TLSConfig
func TLSConfig(cfg *tls.Config) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.tlsConfig = cfg
	}
}

// Http2Only rejects HTTP/1.x requests with 505.
func Http2Only() RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.http2Only = true
	}
}

// RuntimeHeader configures the server wide runtime header, which is
// X-Runtime by default. It may be given more than once.
func RuntimeHeader(opts ...httpruntime.Option) RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.runtimeHeader = true
		ro.runtimeOptions = append(ro.runtimeOptions, opts...)
	}
}

// WithoutRuntimeHeader disables the server wide runtime header.
func WithoutRuntimeHeader() RuntimeOption {
	return func(ro *runtimeOptions) {
		ro.runtimeHeader = false
		ro.runtimeOptions = nil
	}
}

// Runtime
type Runtime struct {
	port   uint
	listen func(string, string) (net.Listener, error)

	log *slog.Logger

	tlsConfig *tls.Config
	http2Only bool
	h         http.Handler

	started   *health.Started
	liveness  *health.Liveness
	readiness *health.Readiness
}

// NewRuntime
func NewRuntime(opts ...RuntimeOption) *Runtime {
	ros := &runtimeOptions{
		port:          8080,
		mux:           http.NewServeMux(),
		logHandler:    noop.LogHandler{},
		readiness:     &health.Readiness{},
		liveness:      &health.Liveness{},
		runtimeHeader: true,
	}
	for _, opt := range opts {
		opt(ros)
	}

	rt := &Runtime{
		port:      ros.port,
		listen:    net.Listen,
		log:       slog.New(ros.logHandler),
		tlsConfig: ros.tlsConfig,
		http2Only: ros.http2Only,
		started:   &health.Started{},
		liveness:  ros.liveness,
		readiness: ros.readiness,
	}

	registerEndpoint(ros.mux, "/health/startup", httphealth.NewHandler(rt.started))
	registerEndpoint(ros.mux, "/health/liveness", httphealth.NewHandler(rt.liveness))
	registerEndpoint(ros.mux, "/health/readiness", httphealth.NewHandler(rt.readiness))

	var h http.Handler = ros.mux
	if ros.http2Only {
		h = httpvalidate.Request(h, httpvalidate.MinProto(2, 0))
	}
	if ros.runtimeHeader {
		h = httpruntime.NewHandler(h, ros.runtimeOptions...)
	}
	rt.h = h

	return rt
}

// Run implements app.Runtime interface.
func (rt *Runtime) Run(ctx context.Context) error {
	ls, err := rt.listen("tcp", fmt.Sprintf(":%d", rt.port))
	if err != nil {
		rt.log.Error("failed to listen for connections", slogfield.Uint("port", rt.port), slogfield.Error(err))
		return err
	}
	if rt.tlsConfig != nil {
		rt.tlsConfig.NextProtos = append([]string{"h2"}, rt.tlsConfig.NextProtos...)
		if rt.http2Only {
			rt.tlsConfig.NextProtos = []string{"h2"}
		}
		ls = tls.NewListener(ls, rt.tlsConfig)
	}

	s := &http.Server{
		Handler: otelhttp.NewHandler(
			rt.h,
			"server",
			otelhttp.WithMessageEvents(otelhttp.ReadEvents, otelhttp.WriteEvents),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		rt.readiness.NotReady()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		defer rt.log.Info("shut down service")

		rt.log.Info("shutting down service")
		return s.Shutdown(ctx)
	})
	g.Go(func() error {
		rt.started.Started()
		rt.liveness.Alive()
		rt.readiness.Ready()
		rt.log.Info("started service", slogfield.String("addr", ls.Addr().String()))
		return s.Serve(ls)
	})

	err = g.Wait()
	if err == nil || err == http.ErrServerClosed {
		return nil
	}
	rt.log.Error("service encountered unexpected error", slogfield.Error(err))
	return err
}

func registerEndpoint(mux *http.ServeMux, path string, h http.Handler) {
	mux.Handle(
		path,
		otelhttp.WithRouteTag(path, h),
	)
}
