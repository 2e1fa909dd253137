// Copyright (c) 2024 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/z5labs/xruntime"
	"github.com/z5labs/xruntime/app"
	xgrpc "github.com/z5labs/xruntime/grpc"
	"github.com/z5labs/xruntime/grpcruntime"
	"github.com/z5labs/xruntime/header"
	xhttp "github.com/z5labs/xruntime/http"
	"github.com/z5labs/xruntime/http/httpvalidate"
	"github.com/z5labs/xruntime/httpruntime"
	"github.com/z5labs/xruntime/lifecycle"
	"github.com/z5labs/xruntime/pkg/otelconfig"
	"github.com/z5labs/xruntime/pkg/slogfield"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
)

func newServeCmd(v *viper.Viper, cfg *Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and gRPC servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			logHandler := newLogHandler(cfg.Logging, cmd.ErrOrStderr())
			log := slog.New(logHandler)

			tp, err := otelconfig.Init(cmd.Context(), cfg.OTel)
			if err != nil {
				log.Error("failed to initialize tracing", slogfield.Error(err))
				return err
			}
			otel.SetTracerProvider(tp)

			rt := app.WithLifecycleHooks(
				newServeRuntime(*cfg, logHandler),
				app.Lifecycle{
					PostRun: lifecycle.ShutdownHook(tp, 5*time.Second),
				},
			)
			rt = app.Recover(rt)
			rt = app.WithSignalNotifications(rt, os.Interrupt, syscall.SIGTERM)
			return rt.Run(cmd.Context())
		},
	}
	cmd.Flags().Uint("http-port", 0, "port the HTTP server listens on")
	cmd.Flags().Uint("grpc-port", 0, "port the gRPC server listens on")
	cmd.Flags().Duration("delay", 0, "how long / takes to respond")
	bindFlag(v, cmd, "http.port", "http-port")
	bindFlag(v, cmd, "grpc.port", "grpc-port")
	bindFlag(v, cmd, "http.delay", "delay")
	return cmd
}

func newServeRuntime(cfg Config, logHandler slog.Handler) app.Runtime {
	httpRt := xhttp.NewRuntime(
		xhttp.ListenOnPort(cfg.HTTP.Port),
		xhttp.LogHandler(logHandler),
		xhttp.RuntimeHeader(httpruntime.Suffix(cfg.HTTP.Suffix)),
		xhttp.Handle("/", httpruntime.Serve(
			xruntime.New(helloHandler(cfg.HTTP.Delay), xruntime.Suffix("App")),
			httpruntime.LogHandler(logHandler),
		)),
		xhttp.Handle("/sleep", httpvalidate.Request(
			httpruntime.NewHandler(http.HandlerFunc(sleepHandler), httpruntime.Suffix("Sleep")),
			httpvalidate.ForMethods(http.MethodGet),
			httpvalidate.MinimumParams("d"),
		)),
	)

	grpcRt := xgrpc.NewRuntime(
		xgrpc.ListenOnPort(cfg.GRPC.Port),
		xgrpc.LogHandler(logHandler),
		xgrpc.RuntimeMetadata(grpcruntime.Suffix(cfg.GRPC.Suffix)),
	)

	return app.MultiRuntime(httpRt, grpcRt)
}

// helloHandler greets the caller after waiting for delay.
func helloHandler(delay time.Duration) xruntime.Handler {
	return xruntime.HandlerFunc(func(ctx context.Context, env xruntime.Env) (xruntime.Response, error) {
		err := wait(ctx, delay)
		if err != nil {
			return xruntime.Response{}, err
		}

		name := "World"
		if query, ok := env[httpruntime.EnvQueryString].(string); ok {
			params, _ := url.ParseQuery(query)
			if n := params.Get("name"); n != "" {
				name = n
			}
		}

		return xruntime.Response{
			Status: http.StatusOK,
			Header: &header.Fields{{Name: "Content-Type", Value: "text/plain"}},
			Body:   strings.NewReader(fmt.Sprintf("Hello, %s!", name)),
		}, nil
	})
}

func sleepHandler(w http.ResponseWriter, r *http.Request) {
	d, err := time.ParseDuration(r.URL.Query().Get("d"))
	if err != nil || d < 0 {
		http.Error(w, "d must be a non-negative duration", http.StatusBadRequest)
		return
	}

	err = wait(r.Context(), d)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
