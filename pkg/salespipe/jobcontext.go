package salespipe

import (
	"context"
	"log/slog"
)

// JobContext is the execution context injected into a job body. It
// carries the cancellation signal, the job's payload, and the progress
// channel back to the engine. The engine never polls the body; progress
// flows only through SetProgress.
type JobContext struct {
	context.Context

	engine  *Engine
	entry   *jobEntry
	payload any
	attempt int
	logger  *slog.Logger
}

// JobID returns the job identifier.
func (jc *JobContext) JobID() string {
	return jc.entry.id
}

// Kind returns the job kind.
func (jc *JobContext) Kind() JobKind {
	return jc.entry.kind
}

// Payload returns the payload the job was submitted with.
func (jc *JobContext) Payload() any {
	return jc.payload
}

// Attempt returns the current attempt number, starting at 1.
func (jc *JobContext) Attempt() int {
	return jc.attempt
}

// Logger returns a logger pre-enriched with the job's identity.
func (jc *JobContext) Logger() *slog.Logger {
	return jc.logger
}

// SetProgress records the body's progress on the job entity and
// republishes it as a status event.
func (jc *JobContext) SetProgress(p Progress) {
	jc.entry.setProgress(p)
	jc.engine.publishProgress(jc.Context, jc.entry, p)
}

// StartStage opens a tracing span for a named phase of the job body,
// as a child of the job span. The returned func ends the span,
// recording the error when non-nil.
func (jc *JobContext) StartStage(stage string) (context.Context, func(error)) {
	ctx, span := jc.engine.spans.StartStageSpan(jc.Context, stage)
	return ctx, func(err error) {
		jc.engine.spans.EndSpanWithError(span, err)
	}
}
