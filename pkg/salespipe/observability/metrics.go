package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records salespipe metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordJobExecution records a completed job with its duration and error status.
	RecordJobExecution(ctx context.Context, jobKind string, duration time.Duration, err error)

	// RecordRows records ingested rows, split by validity.
	RecordRows(ctx context.Context, valid bool, count int64)

	// RecordEventPublished records an event publication on the bus.
	RecordEventPublished(ctx context.Context, eventType string)

	// RecordMaterialization records a KPI materialization for one (store, date) scope.
	RecordMaterialization(ctx context.Context, aggregates int64, duration time.Duration)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	jobExecutions    metric.Int64Counter
	jobLatency       metric.Float64Histogram
	jobErrors        metric.Int64Counter
	rowsIngested     metric.Int64Counter
	eventsPublished  metric.Int64Counter
	materializations metric.Int64Counter
	materializeMs    metric.Float64Histogram
}

// newOtelMetrics creates the instrument set on the global meter provider.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("salespipe")

	jobExecutions, err := meter.Int64Counter("salespipe.job.executions",
		metric.WithDescription("Number of job executions"),
	)
	if err != nil {
		return nil, err
	}

	jobLatency, err := meter.Float64Histogram("salespipe.job.latency_ms",
		metric.WithDescription("Job execution latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	jobErrors, err := meter.Int64Counter("salespipe.job.errors",
		metric.WithDescription("Number of failed job executions"),
	)
	if err != nil {
		return nil, err
	}

	rowsIngested, err := meter.Int64Counter("salespipe.ingest.rows",
		metric.WithDescription("Number of ingested rows, by validity"),
	)
	if err != nil {
		return nil, err
	}

	eventsPublished, err := meter.Int64Counter("salespipe.events.published",
		metric.WithDescription("Number of events published on the bus"),
	)
	if err != nil {
		return nil, err
	}

	materializations, err := meter.Int64Counter("salespipe.kpi.materializations",
		metric.WithDescription("Number of KPI materializations"),
	)
	if err != nil {
		return nil, err
	}

	materializeMs, err := meter.Float64Histogram("salespipe.kpi.latency_ms",
		metric.WithDescription("KPI materialization latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		jobExecutions:    jobExecutions,
		jobLatency:       jobLatency,
		jobErrors:        jobErrors,
		rowsIngested:     rowsIngested,
		eventsPublished:  eventsPublished,
		materializations: materializations,
		materializeMs:    materializeMs,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := newOtelMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordJobExecution records a completed job.
func (m *otelMetrics) RecordJobExecution(ctx context.Context, jobKind string, duration time.Duration, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("job_kind", jobKind),
	}

	m.jobExecutions.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.jobLatency.Record(ctx, float64(duration.Milliseconds()), metric.WithAttributes(attrs...))

	if err != nil {
		m.jobErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// RecordRows records ingested rows.
func (m *otelMetrics) RecordRows(ctx context.Context, valid bool, count int64) {
	m.rowsIngested.Add(ctx, count, metric.WithAttributes(
		attribute.Bool("valid", valid),
	))
}

// RecordEventPublished records an event publication.
func (m *otelMetrics) RecordEventPublished(ctx context.Context, eventType string) {
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", eventType),
	))
}

// RecordMaterialization records a KPI materialization.
func (m *otelMetrics) RecordMaterialization(ctx context.Context, aggregates int64, duration time.Duration) {
	m.materializations.Add(ctx, aggregates)
	m.materializeMs.Record(ctx, float64(duration.Milliseconds()))
}
