package ingest

import (
	"context"
	"time"
)

// Record is one validated sale line from an export.
type Record struct {
	StoreID       int64     `json:"store_id"`
	Timestamp     time.Time `json:"timestamp"`
	ProductID     string    `json:"product_id"`
	Quantity      int64     `json:"quantity"`
	UnitPrice     float64   `json:"unit_price"`
	TransactionID string    `json:"transaction_id"`
}

// Revenue is the line total for the record.
func (r Record) Revenue() float64 {
	return float64(r.Quantity) * r.UnitPrice
}

// RowError records a row that failed validation. Line numbers count data
// rows starting at 1; the header row is not counted.
type RowError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// Batch is the result of one import run. Once Run returns, the batch is
// final: counters, errors, and records are never mutated afterwards.
type Batch struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	RowsRead    int        `json:"rows_read"`
	RowsValid   int        `json:"rows_valid"`
	RowsInvalid int        `json:"rows_invalid"`
	Errors      []RowError `json:"errors,omitempty"`
	Records     []Record   `json:"-"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  time.Time  `json:"finished_at"`
}

// RecordStore persists finalized batches. Implementations live in the
// store package.
type RecordStore interface {
	SaveBatch(ctx context.Context, batch *Batch) error
}
