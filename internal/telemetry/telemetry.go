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
	// Global tracer for the application
	Tracer trace.Tracer

	// Global meter for custom metrics
	Meter metric.Meter

	// Custom metrics
	HeartbeatsReceived metric.Int64Counter
	ClaimsActive       metric.Int64UpDownCounter
	IssuesSynced       metric.Int64Counter
	EventsPublished    metric.Int64Counter
	SyncLatency        metric.Float64Histogram
)

// InitTelemetry initializes OpenTelemetry tracing and metrics
func InitTelemetry(ctx context.Context, serviceName, otelEndpoint string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion("1.0.0"),
			attribute.String("environment", "development"),
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

	log.Printf("[Telemetry] Initialized with endpoint %s", otelEndpoint)

	return func(ctx context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return traceProvider.Shutdown(shutdownCtx)
	}, nil
}

// initMetrics creates all custom metrics
func initMetrics() error {
	var err error

	HeartbeatsReceived, err = Meter.Int64Counter(
		"beadhub.heartbeats.received",
		metric.WithDescription("Number of workspace heartbeats received"),
	)
	if err != nil {
		return err
	}

	ClaimsActive, err = Meter.Int64UpDownCounter(
		"beadhub.claims.active",
		metric.WithDescription("Number of active bead claims"),
	)
	if err != nil {
		return err
	}

	IssuesSynced, err = Meter.Int64Counter(
		"beadhub.issues.synced",
		metric.WithDescription("Number of issues written during sync"),
	)
	if err != nil {
		return err
	}

	EventsPublished, err = Meter.Int64Counter(
		"beadhub.events.published",
		metric.WithDescription("Number of events published to pub/sub"),
	)
	if err != nil {
		return err
	}

	SyncLatency, err = Meter.Float64Histogram(
		"beadhub.sync.latency",
		metric.WithDescription("Issue sync latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

// The recorders below are nil-safe so callers can record
// unconditionally; before InitTelemetry runs they are no-ops.

// RecordHeartbeat counts one workspace heartbeat.
func RecordHeartbeat(ctx context.Context) {
	if HeartbeatsReceived != nil {
		HeartbeatsReceived.Add(ctx, 1)
	}
}

// AddActiveClaims moves the active-claim gauge by delta.
func AddActiveClaims(ctx context.Context, delta int64) {
	if ClaimsActive != nil {
		ClaimsActive.Add(ctx, delta)
	}
}

// RecordIssuesSynced counts issues written by one sync batch.
func RecordIssuesSynced(ctx context.Context, count int64) {
	if IssuesSynced != nil && count > 0 {
		IssuesSynced.Add(ctx, count)
	}
}

// RecordEventPublished counts one event published to pub/sub.
func RecordEventPublished(ctx context.Context) {
	if EventsPublished != nil {
		EventsPublished.Add(ctx, 1)
	}
}

// RecordSyncLatency records one sync batch duration in milliseconds.
func RecordSyncLatency(ctx context.Context, ms float64) {
	if SyncLatency != nil {
		SyncLatency.Record(ctx, ms)
	}
}
