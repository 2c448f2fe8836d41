// Package otel wires optional OTLP tracing for the polling run and the
// reporting server. Tracing is off unless an endpoint is configured.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"stockwatch/internal/version"
)

// Shutdown flushes and stops the trace provider.
type Shutdown func(context.Context) error

// Init installs a global OTLP/HTTP trace provider when endpoint is non-empty.
// With no endpoint it installs nothing and returns a no-op Shutdown, so
// callers never branch on whether tracing is enabled.
func Init(ctx context.Context, endpoint string) (Shutdown, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(version.Name),
			semconv.ServiceVersion(version.Version),
		)),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}
