package salespipe

import (
	"log/slog"

	errs "github.com/randalmurphal/salespipe/pkg/salespipe/errors"
	"github.com/randalmurphal/salespipe/pkg/salespipe/event"
	"github.com/randalmurphal/salespipe/pkg/salespipe/observability"
)

const (
	// DefaultWorkers is the execution slot count when none is configured.
	DefaultWorkers = 4

	// DefaultQueueCapacity bounds how many jobs may sit in Queued.
	DefaultQueueCapacity = 64
)

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of execution slots.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithQueueCapacity sets how many submitted jobs may wait for a slot.
func WithQueueCapacity(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.queueCap = n
		}
	}
}

// WithBus sets the event bus the engine publishes lifecycle events to.
func WithBus(bus event.Publisher) Option {
	return func(e *Engine) {
		e.bus = bus
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.MetricsRecorder) Option {
	return func(e *Engine) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithSpans sets the span manager for job tracing.
func WithSpans(spans observability.SpanManager) Option {
	return func(e *Engine) {
		if spans != nil {
			e.spans = spans
		}
	}
}

// WithRetry sets the default retry policy for transient failures.
// Individual jobs may override it on their Spec.
func WithRetry(retry errs.RetryConfig) Option {
	return func(e *Engine) {
		e.retry = retry
	}
}
