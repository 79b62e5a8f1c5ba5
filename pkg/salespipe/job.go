package salespipe

import (
	"time"

	errs "github.com/randalmurphal/salespipe/pkg/salespipe/errors"
)

// JobKind names a registered job handler.
type JobKind string

// Built-in job kinds. Callers may register their own.
const (
	KindImport    JobKind = "import"
	KindRecompute JobKind = "recompute"
)

// JobStatus is one state of the job lifecycle.
//
// Transitions are monotonic: Queued -> Running -> {Done, Failed, Cancelled},
// plus Queued -> Cancelled for jobs cancelled before a worker picks them
// up. No transition leaves a terminal state.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusDone      JobStatus = "done"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further transition can leave the status.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusCancelled
}

// Progress is the job body's self-reported position.
type Progress struct {
	Percent     int `json:"percent"`
	RowsRead    int `json:"rows_read,omitempty"`
	RowsValid   int `json:"rows_valid,omitempty"`
	RowsInvalid int `json:"rows_invalid,omitempty"`
}

// Job is a snapshot of one job's state. Snapshots are copies: mutating
// one never affects the engine's authoritative record.
type Job struct {
	ID         string    `json:"id"`
	Kind       JobKind   `json:"kind"`
	Status     JobStatus `json:"status"`
	Progress   Progress  `json:"progress"`
	Attempt    int       `json:"attempt"`
	CreatedAt  time.Time `json:"created_at"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	FinishedAt time.Time `json:"finished_at,omitzero"`

	// Err is the terminating error for failed jobs. Cancelled jobs carry
	// no error.
	Err error `json:"-"`

	// Result is the handler's return value for done jobs.
	Result any `json:"-"`
}

// Spec describes a job to submit.
type Spec struct {
	Kind    JobKind
	Payload any

	// Retry overrides the engine's retry policy for this job.
	Retry *errs.RetryConfig
}

// Handler is a job body. It runs to completion on one worker, observing
// cancellation only at its own checkpoints via jc.Context. The returned
// value becomes Job.Result on success.
type Handler func(jc *JobContext) (any, error)

// Handle refers to a submitted job.
type Handle struct {
	id     string
	engine *Engine
}

// ID returns the job identifier.
func (h *Handle) ID() string {
	return h.id
}

// Status returns the job's current status.
func (h *Handle) Status() (JobStatus, error) {
	return h.engine.Status(h.id)
}

// Job returns a snapshot of the job.
func (h *Handle) Job() (Job, error) {
	return h.engine.Job(h.id)
}

// Cancel requests cooperative cancellation.
func (h *Handle) Cancel() bool {
	return h.engine.Cancel(h.id)
}

// Await blocks until the job reaches a terminal state or the timeout
// elapses. A timeout only stops waiting; the job keeps running.
func (h *Handle) Await(timeout time.Duration) (Job, error) {
	return h.engine.Await(h.id, timeout)
}
