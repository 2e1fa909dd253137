// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otelconfig

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// OTLPConfig
type OTLPConfig struct {
	// gRPC target string which is passed to grpc.Dial()
	Target string `mapstructure:"target"`

	// DialTimeout bounds the initial connection to Target. Defaults to 1s.
	DialTimeout time.Duration `mapstructure:"dialTimeout"`
}

var errMissingTarget = errors.New("otlp exporter requires a target")

func initOTLP(ctx context.Context, cfg Config) (Provider, error) {
	if cfg.OTLP.Target == "" {
		return nil, errMissingTarget
	}

	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	timeout := cfg.OTLP.DialTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		cfg.OTLP.Target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, errors.Join(err, conn.Close())
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(traceExporter),
	)
	return tp, nil
}
