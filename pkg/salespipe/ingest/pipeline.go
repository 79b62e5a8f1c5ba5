package ingest

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	errs "github.com/randalmurphal/salespipe/pkg/salespipe/errors"
	"github.com/randalmurphal/salespipe/pkg/salespipe/event"
	"github.com/randalmurphal/salespipe/pkg/salespipe/observability"
)

const eventSource = "ingest"

// Pipeline streams CSV exports into validated batches.
// A Pipeline is stateless between runs and safe for concurrent use.
type Pipeline struct {
	bus     event.Publisher
	store   RecordStore
	logger  *slog.Logger
	metrics observability.MetricsRecorder
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithBus sets the event publisher for import lifecycle events.
func WithBus(bus event.Publisher) PipelineOption {
	return func(p *Pipeline) {
		p.bus = bus
	}
}

// WithRecordStore sets the store that finalized batches are saved to.
func WithRecordStore(store RecordStore) PipelineOption {
	return func(p *Pipeline) {
		p.store = store
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.MetricsRecorder) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = metrics
	}
}

// NewPipeline creates a pipeline. All options are optional: with none,
// the pipeline parses and validates but publishes and persists nothing.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run ingests one export from r and returns the finalized batch.
//
// The header is validated once against the column mapping; a missing
// required column aborts the run with a SchemaError. After that, row
// failures are recorded on the batch and never abort the run. Run checks
// ctx between rows: on cancellation it finalizes the batch with the
// counters accumulated so far and returns it with a nil error.
func (p *Pipeline) Run(ctx context.Context, source string, r io.Reader, cfg Config) (*Batch, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	batch := &Batch{
		ID:        uuid.New().String(),
		Source:    source,
		StartedAt: time.Now(),
	}

	cr := csv.NewReader(bufio.NewReader(r))
	cr.Comma = cfg.Delimiter
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	colIdx, err := p.readHeader(cr, cfg, source)
	if err != nil {
		return nil, err
	}

	p.publish(ctx, event.New(EventImportStarted, eventSource, ImportStarted{
		BatchID: batch.ID,
		Source:  source,
	}, event.WithCorrelationID(batch.ID)))

	lastProgress := time.Now()
	cancelled := false

	for {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line := batch.RowsRead + 1
		if err != nil {
			var parseErr *csv.ParseError
			if !errors.As(err, &parseErr) {
				// The source itself became unreadable mid-stream.
				p.finalize(ctx, batch, cancelled)
				return batch, &errs.SourceError{Source: source, Err: err}
			}
			batch.RowsRead++
			p.rejectRow(batch, line, fmt.Sprintf("malformed row: %v", parseErr.Err))
			continue
		}

		batch.RowsRead++
		rec, err := parseRow(row, colIdx, cfg)
		if err != nil {
			p.rejectRow(batch, line, err.Error())
		} else {
			batch.RowsValid++
			batch.Records = append(batch.Records, rec)
		}

		if batch.RowsRead%cfg.ProgressRows == 0 || time.Since(lastProgress) >= cfg.ProgressInterval {
			p.progress(ctx, batch, cfg)
			lastProgress = time.Now()
		}
	}

	if err := p.finalize(ctx, batch, cancelled); err != nil {
		return batch, err
	}
	return batch, nil
}

// readHeader reads the header row and resolves each mapped field to its
// column index. Every required field must resolve.
func (p *Pipeline) readHeader(cr *csv.Reader, cfg Config, source string) (map[Field]int, error) {
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &errs.SchemaError{Column: cfg.columnFor(requiredFields[0]), Source: source}
	}
	if err != nil {
		return nil, &errs.SourceError{Source: source, Err: err}
	}

	colIdx := make(map[Field]int, len(requiredFields))
	for i, name := range header {
		if field, ok := cfg.Columns[strings.ToLower(strings.TrimSpace(name))]; ok {
			colIdx[field] = i
		}
	}
	for _, field := range requiredFields {
		if _, ok := colIdx[field]; !ok {
			return nil, &errs.SchemaError{Column: cfg.columnFor(field), Source: source}
		}
	}
	return colIdx, nil
}

func (p *Pipeline) rejectRow(batch *Batch, line int, message string) {
	batch.RowsInvalid++
	batch.Errors = append(batch.Errors, RowError{Line: line, Message: message})
	observability.LogImportRow(p.logger, batch.ID, line, message)
}

func (p *Pipeline) progress(ctx context.Context, batch *Batch, cfg Config) {
	snapshot := Progress{
		BatchID:     batch.ID,
		RowsRead:    batch.RowsRead,
		RowsValid:   batch.RowsValid,
		RowsInvalid: batch.RowsInvalid,
	}
	if cfg.OnProgress != nil {
		cfg.OnProgress(snapshot)
	}
	p.publish(ctx, event.New(EventImportProgress, eventSource, ImportProgress{
		BatchID:     batch.ID,
		RowsRead:    batch.RowsRead,
		RowsValid:   batch.RowsValid,
		RowsInvalid: batch.RowsInvalid,
	}, event.WithCorrelationID(batch.ID)))
}

// finalize seals the batch, persists it, and publishes the completion
// event. Cancelled runs keep whatever they accumulated.
func (p *Pipeline) finalize(ctx context.Context, batch *Batch, cancelled bool) error {
	batch.FinishedAt = time.Now()

	p.metrics.RecordRows(ctx, true, int64(batch.RowsValid))
	p.metrics.RecordRows(ctx, false, int64(batch.RowsInvalid))
	observability.LogImportComplete(p.logger, batch.ID,
		batch.RowsRead, batch.RowsValid, batch.RowsInvalid,
		float64(batch.FinishedAt.Sub(batch.StartedAt).Milliseconds()))

	if p.store != nil {
		// Save under a fresh context so a cancelled run still persists
		// its partial batch.
		saveCtx := context.WithoutCancel(ctx)
		if err := p.store.SaveBatch(saveCtx, batch); err != nil {
			return errs.Transient(err, "save batch")
		}
	}

	p.publish(ctx, event.New(EventImportCompleted, eventSource, ImportCompleted{
		BatchID:     batch.ID,
		Source:      batch.Source,
		RowsRead:    batch.RowsRead,
		RowsValid:   batch.RowsValid,
		RowsInvalid: batch.RowsInvalid,
		Cancelled:   cancelled,
	}, event.WithCorrelationID(batch.ID)))

	return nil
}

func (p *Pipeline) publish(ctx context.Context, evt event.Event) {
	if p.bus == nil {
		return
	}
	// Lifecycle events must go out even when the run context is cancelled.
	if err := p.bus.Publish(context.WithoutCancel(ctx), evt); err != nil {
		p.logger.Warn("publish import event",
			slog.String("event_type", evt.Type()),
			slog.String("error", err.Error()))
	}
}

// parseRow converts one CSV row into a Record.
func parseRow(row []string, colIdx map[Field]int, cfg Config) (Record, error) {
	get := func(field Field) (string, error) {
		idx := colIdx[field]
		if idx >= len(row) {
			return "", &errs.ValidationError{Field: string(field), Message: "column missing from row"}
		}
		return strings.TrimSpace(row[idx]), nil
	}

	var rec Record

	v, err := get(FieldStore)
	if err != nil {
		return rec, err
	}
	rec.StoreID, err = strconv.ParseInt(v, 10, 64)
	if err != nil {
		return rec, &errs.ValidationError{Field: string(FieldStore), Message: fmt.Sprintf("invalid store id %q", v)}
	}

	v, err = get(FieldTimestamp)
	if err != nil {
		return rec, err
	}
	rec.Timestamp, err = time.Parse(cfg.DateFormat, v)
	if err != nil {
		return rec, &errs.ValidationError{Field: string(FieldTimestamp), Message: fmt.Sprintf("invalid timestamp %q", v)}
	}

	v, err = get(FieldProduct)
	if err != nil {
		return rec, err
	}
	if v == "" {
		return rec, &errs.ValidationError{Field: string(FieldProduct), Message: "product id is empty"}
	}
	rec.ProductID = v

	v, err = get(FieldQuantity)
	if err != nil {
		return rec, err
	}
	rec.Quantity, err = strconv.ParseInt(v, 10, 64)
	if err != nil {
		return rec, &errs.ValidationError{Field: string(FieldQuantity), Message: fmt.Sprintf("invalid quantity %q", v)}
	}

	v, err = get(FieldPrice)
	if err != nil {
		return rec, err
	}
	rec.UnitPrice, err = strconv.ParseFloat(v, 64)
	if err != nil || rec.UnitPrice < 0 {
		return rec, &errs.ValidationError{Field: string(FieldPrice), Message: fmt.Sprintf("invalid unit price %q", v)}
	}

	v, err = get(FieldTransaction)
	if err != nil {
		return rec, err
	}
	if v == "" {
		return rec, &errs.ValidationError{Field: string(FieldTransaction), Message: "transaction id is empty"}
	}
	rec.TransactionID = v

	return rec, nil
}
