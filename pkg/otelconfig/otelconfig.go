// Copyright (c) 2023 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otelconfig builds an OpenTelemetry tracer provider from config.
package otelconfig

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Supported values of Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterGCP    = "gcp"
)

// Config selects and configures a span exporter.
type Config struct {
	ServiceName string `mapstructure:"serviceName"`
	Exporter    string `mapstructure:"exporter"`

	OTLP OTLPConfig        `mapstructure:"otlp"`
	GCP  GoogleCloudConfig `mapstructure:"gcp"`

	// Out is where the stdout exporter writes. Defaults to os.Stdout.
	Out io.Writer `mapstructure:"-"`
}

// Provider is a trace.TracerProvider which must be shut down to flush
// any buffered spans.
type Provider interface {
	trace.TracerProvider

	Shutdown(context.Context) error
}

// UnknownExporterError is returned by Init for an unsupported Config.Exporter.
type UnknownExporterError struct {
	Exporter string
}

// Error implements the [builtin.error] interface.
func (e UnknownExporterError) Error() string {
	return fmt.Sprintf("unknown trace exporter: %q", e.Exporter)
}

// Init returns the Provider described by cfg. An empty exporter is
// treated as ExporterNone.
func Init(ctx context.Context, cfg Config) (Provider, error) {
	switch cfg.Exporter {
	case "", ExporterNone:
		return noopProvider{TracerProvider: noop.NewTracerProvider()}, nil
	case ExporterStdout:
		return initStdout(ctx, cfg)
	case ExporterOTLP:
		return initOTLP(ctx, cfg)
	case ExporterGCP:
		return initGoogleCloud(ctx, cfg)
	default:
		return nil, UnknownExporterError{Exporter: cfg.Exporter}
	}
}

type noopProvider struct {
	trace.TracerProvider
}

func (noopProvider) Shutdown(context.Context) error { return nil }

func serviceResource(ctx context.Context, cfg Config, opts ...resource.Option) (*resource.Resource, error) {
	opts = append(
		opts,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	return resource.New(ctx, opts...)
}

func initStdout(ctx context.Context, cfg Config) (Provider, error) {
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(out),
	)
	if err != nil {
		return nil, err
	}

	res, err := serviceResource(ctx, cfg)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	return tp, nil
}
