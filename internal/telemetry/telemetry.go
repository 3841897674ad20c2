// Package telemetry wires the relaydb engine's otel.Tracer/otel.Meter calls
// (scattered across internal/collection, internal/graph and
// internal/scheduler) to a real SDK instead of the default global no-op
// providers. Nothing in the engine imports this package: every instrument
// is created against the global provider, so callers that want real output
// call Init before touching the engine, and everyone else gets silent no-op
// instruments for free.
package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Shutdown flushes and stops the providers installed by Init.
type Shutdown func(context.Context) error

// Init installs stdout-exporting tracer and meter providers as the global
// otel providers, pretty-printing spans and metrics to w. It returns a
// Shutdown that restores silence; callers typically defer it from main.
func Init(w io.Writer) (Shutdown, error) {
	spanExporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(spanExporter))
	otel.SetTracerProvider(tp)

	metricExporter, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			return err
		}
		return mp.Shutdown(ctx)
	}, nil
}
