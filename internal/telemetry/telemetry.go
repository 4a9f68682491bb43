// Package telemetry wires OpenTelemetry tracing (A4) for the
// build-and-deploy pipeline: a Tracer for request/build spans exported
// over OTLP gRPC, and a Meter for counters kept apart from Prometheus's
// pull-based /metrics endpoint (internal/metrics). The Meter comes from
// the global MeterProvider; this package installs no metric exporter.
package telemetry

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

var (
	// Tracer produces spans for build and deploy operations.
	Tracer trace.Tracer

	// Meter produces the counters/histograms below.
	Meter metric.Meter

	BuildsStarted    metric.Int64Counter
	BuildsCompleted  metric.Int64Counter
	BuildsFailed     metric.Int64Counter
	QueueWaitTime    metric.Float64Histogram
	BuildDuration    metric.Float64Histogram
	DeployDuration   metric.Float64Histogram
)

// InitTelemetry sets up the trace provider and OTLP gRPC exporter,
// registers the global tracer provider, and returns a shutdown func to
// flush and close the exporter on process exit.
func InitTelemetry(ctx context.Context, serviceName, otelEndpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, err
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otelEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	Tracer = otel.Tracer(serviceName)
	Meter = otel.Meter(serviceName)

	if err := initMetrics(); err != nil {
		return nil, err
	}

	log.Printf("telemetry: initialized, exporting to %s", otelEndpoint)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

func initMetrics() error {
	var err error

	BuildsStarted, err = Meter.Int64Counter(
		"portway.builds.started",
		metric.WithDescription("Number of builds started"),
	)
	if err != nil {
		return err
	}

	BuildsCompleted, err = Meter.Int64Counter(
		"portway.builds.completed",
		metric.WithDescription("Number of builds that reached BuildSuccessful"),
	)
	if err != nil {
		return err
	}

	BuildsFailed, err = Meter.Int64Counter(
		"portway.builds.failed",
		metric.WithDescription("Number of builds that reached BuildFailed"),
	)
	if err != nil {
		return err
	}

	QueueWaitTime, err = Meter.Float64Histogram(
		"portway.queue.wait_time",
		metric.WithDescription("Time a build request spent pending before dispatch"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	BuildDuration, err = Meter.Float64Histogram(
		"portway.build.duration",
		metric.WithDescription("Buildpack build duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	DeployDuration, err = Meter.Float64Histogram(
		"portway.deploy.duration",
		metric.WithDescription("Container/network/volume/domain deploy sequence duration"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

// StartSpan is a thin convenience wrapper so call sites don't need to
// import go.opentelemetry.io/otel/trace directly just to start a span.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
