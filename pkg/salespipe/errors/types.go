package errors

import "fmt"

// SchemaError indicates the source header is missing a required column.
// It is fatal to the whole import run: a column-mapping mismatch would
// invalidate every subsequent row, so no rows are processed.
type SchemaError struct {
	Column string
	Source string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("schema error in %s: required column %q not found", e.Source, e.Column)
	}
	return fmt.Sprintf("schema error: required column %q not found", e.Column)
}

// ValidationError indicates a single row failed parsing or validation.
// The pipeline records it as a RowError and moves on; it only surfaces
// as an error value inside the row parser.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// SourceError indicates the import source could not be read.
// Opening a source is retryable: exports are often still being written
// when the first attempt runs.
type SourceError struct {
	Source string
	Err    error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s unreadable: %v", e.Source, e.Err)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error {
	return e.Err
}
