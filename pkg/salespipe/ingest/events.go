package ingest

// Event types published by the pipeline. Payloads marshal cleanly to JSON
// so bus listeners can consume them without importing this package.
const (
	EventImportStarted   = "import.started"
	EventImportProgress  = "import.progress"
	EventImportCompleted = "import.completed"
)

// ImportStarted is published once, before the first row is read.
type ImportStarted struct {
	BatchID string `json:"batch_id"`
	Source  string `json:"source"`
}

// ImportProgress is published at the configured row/interval throttle.
type ImportProgress struct {
	BatchID     string `json:"batch_id"`
	RowsRead    int    `json:"rows_read"`
	RowsValid   int    `json:"rows_valid"`
	RowsInvalid int    `json:"rows_invalid"`
}

// ImportCompleted is published after the batch is finalized, including
// runs cut short by cancellation.
type ImportCompleted struct {
	BatchID     string `json:"batch_id"`
	Source      string `json:"source"`
	RowsRead    int    `json:"rows_read"`
	RowsValid   int    `json:"rows_valid"`
	RowsInvalid int    `json:"rows_invalid"`
	Cancelled   bool   `json:"cancelled,omitempty"`
}
