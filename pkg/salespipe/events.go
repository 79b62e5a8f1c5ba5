package salespipe

// Event types published by the engine.
const (
	// EventJobStatusChanged is published on every lifecycle transition
	// and on body-reported progress updates.
	EventJobStatusChanged = "job.status_changed"
)

// JobStatusChanged is the payload of job.status_changed events.
type JobStatusChanged struct {
	JobID    string    `json:"job_id"`
	Kind     JobKind   `json:"kind"`
	From     JobStatus `json:"from,omitempty"`
	To       JobStatus `json:"to"`
	Attempt  int       `json:"attempt"`
	Progress Progress  `json:"progress"`
	Error    string    `json:"error,omitempty"`
}
