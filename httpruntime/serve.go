// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package httpruntime

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/z5labs/xruntime"
	"github.com/z5labs/xruntime/header"
	"github.com/z5labs/xruntime/internal/try"
	"github.com/z5labs/xruntime/pkg/noop"
	"github.com/z5labs/xruntime/pkg/slogfield"
)

// Keys of the [xruntime.Env] built by [EnvFromRequest].
const (
	EnvRequestMethod  = "REQUEST_METHOD"
	EnvPathInfo       = "PATH_INFO"
	EnvQueryString    = "QUERY_STRING"
	EnvServerProtocol = "SERVER_PROTOCOL"
	EnvRemoteAddr     = "REMOTE_ADDR"

	// EnvRequestKey holds the originating *http.Request.
	EnvRequestKey = "httpruntime.request"
)

// EnvFromRequest builds the [xruntime.Env] for r. Request headers are
// included as HTTP_<NAME> keys with dashes replaced by underscores and
// multiple values joined by ",".
func EnvFromRequest(r *http.Request) xruntime.Env {
	env := xruntime.Env{
		EnvRequestMethod:  r.Method,
		EnvPathInfo:       r.URL.Path,
		EnvQueryString:    r.URL.RawQuery,
		EnvServerProtocol: r.Proto,
		EnvRemoteAddr:     r.RemoteAddr,
		EnvRequestKey:     r,
	}
	for name, values := range r.Header {
		key := "HTTP_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		env[key] = strings.Join(values, ",")
	}
	return env
}

type serveOptions struct {
	logHandler slog.Handler
}

// ServeOption configures [Serve].
type ServeOption func(*serveOptions)

// LogHandler sets the slog.Handler used to report handler and
// body copy failures.
func LogHandler(h slog.Handler) ServeOption {
	return func(so *serveOptions) {
		so.logHandler = h
	}
}

type server struct {
	h   xruntime.Handler
	log *slog.Logger
}

// Serve adapts an [xruntime.Handler] to an [http.Handler].
//
// The response header container must implement [header.Walker] for its
// contents to be copied. A zero status is sent as 200. If the handler
// returns an error a 500 is sent with no body.
func Serve(h xruntime.Handler, opts ...ServeOption) http.Handler {
	so := &serveOptions{
		logHandler: noop.LogHandler{},
	}
	for _, opt := range opts {
		opt(so)
	}
	return server{
		h:   h,
		log: slog.New(so.logHandler),
	}
}

// ServeHTTP implements the [http.Handler] interface.
func (s server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp, err := s.h.Handle(ctx, EnvFromRequest(r))
	if err != nil {
		s.log.ErrorContext(ctx, "handler returned an error", slogfield.String("path", r.URL.Path), slogfield.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if wk, ok := resp.Header.(header.Walker); ok {
		dst := w.Header()
		wk.Walk(func(name string, values []string) {
			for _, v := range values {
				dst.Add(name, v)
			}
		})
	} else if resp.Header != nil {
		s.log.WarnContext(ctx, "response headers can not be enumerated and were dropped", slogfield.String("path", r.URL.Path))
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if resp.Body == nil {
		return
	}
	err = copyBody(w, resp.Body)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to write response body", slogfield.String("path", r.URL.Path), slogfield.Error(err))
	}
}

func copyBody(w io.Writer, body io.Reader) (err error) {
	defer try.Close(&err, body)

	_, err = io.Copy(w, body)
	return err
}
