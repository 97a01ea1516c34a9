package blobcache

import (
	"context"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// NewStdoutTelemetry builds a TracerProvider and MeterProvider that print
// spans and metrics to stdout — no collector required. Spans are exported
// in batches and metrics on the periodic reader's interval; both are
// flushed by ShutdownStdoutTelemetry. Intended for local debugging of the opqueue's
// batching/retry behavior (via WithTracerProvider/WithMeterProvider),
// never for production use: every span export blocks on a stdout write.
func NewStdoutTelemetry() (trace.TracerProvider, metric.MeterProvider, error) {
	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExporter))

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(
		sdkmetric.NewPeriodicReader(metricExporter),
	))

	return tp, mp, nil
}

// ShutdownStdoutTelemetry flushes and releases the providers returned by
// NewStdoutTelemetry. Safe to call with providers from any source that
// implement Shutdown(context.Context) error; others are a no-op.
func ShutdownStdoutTelemetry(ctx context.Context, tp trace.TracerProvider, mp metric.MeterProvider) error {
	if s, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
		if err := s.Shutdown(ctx); err != nil {
			return err
		}
	}
	if s, ok := mp.(interface{ Shutdown(context.Context) error }); ok {
		return s.Shutdown(ctx)
	}
	return nil
}
