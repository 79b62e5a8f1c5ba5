// Package ingest converts raw point-of-sale exports into validated,
// typed records.
//
// The pipeline streams its source row by row in bounded memory, tolerates
// row-level corruption (a bad row becomes a RowError, not a failed run),
// and publishes throttled progress events on the bus. The one fatal case
// is a missing required column: a mapping mismatch would invalidate every
// row, so the run aborts before any row is parsed.
package ingest

import (
	"fmt"
	"strings"
	"time"

	errs "github.com/randalmurphal/salespipe/pkg/salespipe/errors"
)

// Field identifies a normalized record field that a source column maps to.
type Field string

const (
	FieldStore       Field = "store"
	FieldTimestamp   Field = "timestamp"
	FieldProduct     Field = "product"
	FieldQuantity    Field = "quantity"
	FieldPrice       Field = "price"
	FieldTransaction Field = "transaction"
)

// requiredFields must all be covered by the column mapping.
var requiredFields = []Field{
	FieldStore,
	FieldTimestamp,
	FieldProduct,
	FieldQuantity,
	FieldPrice,
	FieldTransaction,
}

// Config describes how to parse one export format.
type Config struct {
	// Delimiter separates columns. Default: ','
	Delimiter rune

	// DateFormat is the time.Parse layout for the timestamp column.
	// Default: "2006-01-02 15:04:05"
	DateFormat string

	// Columns maps source column names (case-insensitive) to record fields.
	// Every required field must appear as a mapping target.
	Columns map[string]Field

	// ProgressRows emits a progress event every N rows read.
	// Default: 1000
	ProgressRows int

	// ProgressInterval additionally emits a progress event when this much
	// time has passed since the last one. Default: 2s
	ProgressInterval time.Duration

	// OnProgress is invoked at the same throttle as progress events.
	// The job engine uses it to surface progress on the job entity.
	OnProgress func(p Progress)
}

// Progress is a point-in-time counter snapshot of a running import.
type Progress struct {
	BatchID     string
	RowsRead    int
	RowsValid   int
	RowsInvalid int
}

// withDefaults returns a copy with zero values replaced by defaults and
// column names normalized for case-insensitive lookup.
func (c Config) withDefaults() Config {
	if c.Delimiter == 0 {
		c.Delimiter = ','
	}
	if c.DateFormat == "" {
		c.DateFormat = "2006-01-02 15:04:05"
	}
	if c.ProgressRows <= 0 {
		c.ProgressRows = 1000
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 2 * time.Second
	}

	normalized := make(map[string]Field, len(c.Columns))
	for name, field := range c.Columns {
		normalized[strings.ToLower(strings.TrimSpace(name))] = field
	}
	c.Columns = normalized

	return c
}

// Validate checks that the mapping covers every required field.
// A bad mapping is a permanent configuration error, not a retryable one.
func (c Config) Validate() error {
	covered := make(map[Field]bool, len(c.Columns))
	for _, field := range c.Columns {
		covered[field] = true
	}
	for _, field := range requiredFields {
		if !covered[field] {
			return errs.Permanent(
				fmt.Errorf("column mapping has no source column for field %q", field),
				"validate ingest config",
			)
		}
	}
	return nil
}

// columnFor returns the configured source column name for a field.
func (c Config) columnFor(field Field) string {
	for name, f := range c.Columns {
		if f == field {
			return name
		}
	}
	return string(field)
}
