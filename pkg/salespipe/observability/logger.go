// Package observability provides structured logging, metrics, and tracing
// for salespipe: slog helpers for job and import lifecycles, OpenTelemetry
// metrics, and OpenTelemetry spans.
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds job context to a logger.
// Returns a new logger with job_id, job_kind, and attempt fields.
func EnrichLogger(logger *slog.Logger, jobID, jobKind string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("job_id", jobID),
		slog.String("job_kind", jobKind),
		slog.Int("attempt", attempt),
	)
}

// LogJobQueued logs job submission.
func LogJobQueued(logger *slog.Logger, jobID, jobKind string) {
	if logger == nil {
		return
	}
	logger.Info("job queued",
		slog.String("job_id", jobID),
		slog.String("job_kind", jobKind),
	)
}

// LogJobStart logs the start of a job attempt.
func LogJobStart(logger *slog.Logger, jobID, jobKind string, attempt int) {
	if logger == nil {
		return
	}
	logger.Info("job starting",
		slog.String("job_id", jobID),
		slog.String("job_kind", jobKind),
		slog.Int("attempt", attempt),
	)
}

// LogJobComplete logs successful job completion.
func LogJobComplete(logger *slog.Logger, jobID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("job completed",
		slog.String("job_id", jobID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogJobRetry logs a retry of a transient failure.
func LogJobRetry(logger *slog.Logger, jobID string, attempt int, backoff time.Duration, err error) {
	if logger == nil {
		return
	}
	logger.Warn("job attempt failed, retrying",
		slog.String("job_id", jobID),
		slog.Int("attempt", attempt),
		slog.Duration("backoff", backoff),
		slog.String("error", err.Error()),
	)
}

// LogJobFailed logs terminal job failure.
func LogJobFailed(logger *slog.Logger, jobID string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("job failed",
		slog.String("job_id", jobID),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogJobCancelled logs cooperative job cancellation.
func LogJobCancelled(logger *slog.Logger, jobID string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("job cancelled",
		slog.String("job_id", jobID),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogImportRow logs a row-level validation failure.
// Debug level: a large corrupt export can produce thousands of these.
func LogImportRow(logger *slog.Logger, batchID string, line int, cause string) {
	if logger == nil {
		return
	}
	logger.Debug("row rejected",
		slog.String("batch_id", batchID),
		slog.Int("line", line),
		slog.String("cause", cause),
	)
}

// LogImportComplete logs the final counters of an ingestion run.
func LogImportComplete(logger *slog.Logger, batchID string, rowsRead, rowsValid, rowsInvalid int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("import completed",
		slog.String("batch_id", batchID),
		slog.Int("rows_read", rowsRead),
		slog.Int("rows_valid", rowsValid),
		slog.Int("rows_invalid", rowsInvalid),
		slog.Float64("duration_ms", durationMs),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
