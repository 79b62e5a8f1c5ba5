package salespipe

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/randalmurphal/salespipe/pkg/salespipe/analytics"
	errs "github.com/randalmurphal/salespipe/pkg/salespipe/errors"
	"github.com/randalmurphal/salespipe/pkg/salespipe/ingest"
)

// ImportPayload is the payload for KindImport jobs.
//
// The source is referenced through Open rather than a raw reader so that
// a transient failure can be retried from the beginning: each attempt
// opens a fresh stream.
type ImportPayload struct {
	// Source names the export for logs, events, and error messages.
	Source string

	// Open returns a fresh reader over the export.
	Open func(ctx context.Context) (io.ReadCloser, error)

	// Config is the parse configuration for this export format.
	Config ingest.Config
}

// OpenFile returns an Open func reading from a filesystem path.
func OpenFile(path string) func(ctx context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, &errs.SourceError{Source: path, Err: err}
		}
		return f, nil
	}
}

// ImportHandler builds the job body for KindImport. Register it with the
// engine:
//
//	engine.Register(salespipe.KindImport, salespipe.ImportHandler(pipeline))
//
// The body streams the export through the pipeline, republishes row
// counters as job progress, and returns the finalized *ingest.Batch as
// the job result. Cancellation observed by the pipeline surfaces as a
// Cancelled job with the partial batch already persisted.
func ImportHandler(pipeline *ingest.Pipeline) Handler {
	return func(jc *JobContext) (any, error) {
		payload, ok := jc.Payload().(ImportPayload)
		if !ok {
			return nil, errs.Permanent(
				fmt.Errorf("import job expects ImportPayload, got %T", jc.Payload()),
				"read job payload")
		}
		if payload.Open == nil {
			return nil, errs.Permanent(
				fmt.Errorf("import payload has no source opener"),
				"read job payload")
		}

		cfg := payload.Config
		userProgress := cfg.OnProgress
		cfg.OnProgress = func(p ingest.Progress) {
			jc.SetProgress(Progress{
				RowsRead:    p.RowsRead,
				RowsValid:   p.RowsValid,
				RowsInvalid: p.RowsInvalid,
			})
			if userProgress != nil {
				userProgress(p)
			}
		}

		src, err := payload.Open(jc)
		if err != nil {
			return nil, err
		}
		defer src.Close()

		ctx, endStage := jc.StartStage("ingest")
		batch, err := pipeline.Run(ctx, payload.Source, src, cfg)
		endStage(err)
		if err != nil {
			return nil, err
		}

		// The pipeline treats cancellation as a clean finalize; the job
		// still has to land in Cancelled, not Done.
		if jc.Err() != nil {
			return nil, jc.Err()
		}

		jc.SetProgress(Progress{
			Percent:     100,
			RowsRead:    batch.RowsRead,
			RowsValid:   batch.RowsValid,
			RowsInvalid: batch.RowsInvalid,
		})
		return batch, nil
	}
}

// RecomputePayload is the payload for KindRecompute jobs. Records may be
// given directly or loaded from a previously saved batch via BatchID.
type RecomputePayload struct {
	StoreID int64
	Date    analytics.Date
	Records []ingest.Record
	BatchID string
}

// RecomputeResult is the job result of a recompute job.
type RecomputeResult struct {
	Aggregates []analytics.Aggregate
	Alerts     []analytics.AlertCandidate
}

// BatchGetter loads saved batches for recompute jobs. Both store
// backends implement it.
type BatchGetter interface {
	GetBatch(ctx context.Context, id string) (*ingest.Batch, error)
}

// RecomputeHandler builds the job body for KindRecompute. The body is a
// full recompute of one (store, date) scope: the materializer's
// idempotent upsert makes re-running it safe at any time. batches may be
// nil when payloads always carry records inline.
func RecomputeHandler(m *analytics.Materializer, batches BatchGetter) Handler {
	return func(jc *JobContext) (any, error) {
		payload, ok := jc.Payload().(RecomputePayload)
		if !ok {
			return nil, errs.Permanent(
				fmt.Errorf("recompute job expects RecomputePayload, got %T", jc.Payload()),
				"read job payload")
		}

		records := payload.Records
		if payload.BatchID != "" {
			if batches == nil {
				return nil, errs.Permanent(
					fmt.Errorf("recompute payload references batch %s but no batch store is wired", payload.BatchID),
					"read job payload")
			}
			batch, err := batches.GetBatch(jc, payload.BatchID)
			if err != nil {
				return nil, fmt.Errorf("load batch %s: %w", payload.BatchID, err)
			}
			records = batch.Records
		}

		// Checkpoint at the batch boundary, before any write.
		if err := jc.Err(); err != nil {
			return nil, err
		}

		ctx, endStage := jc.StartStage("materialize")
		aggregates, alerts, err := m.Materialize(ctx, payload.StoreID, payload.Date, records)
		endStage(err)
		if err != nil {
			return nil, err
		}

		jc.SetProgress(Progress{Percent: 100})
		return RecomputeResult{Aggregates: aggregates, Alerts: alerts}, nil
	}
}
