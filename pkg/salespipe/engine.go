package salespipe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	errs "github.com/randalmurphal/salespipe/pkg/salespipe/errors"
	"github.com/randalmurphal/salespipe/pkg/salespipe/event"
	"github.com/randalmurphal/salespipe/pkg/salespipe/observability"
	"github.com/randalmurphal/salespipe/pkg/salespipe/registry"
)

const eventSource = "engine"

// Engine owns execution capacity and the authoritative lifecycle of
// every submitted job. A fixed pool of workers pulls queued jobs in FIFO
// order; each job body runs to completion (or a cancellation checkpoint)
// on one worker. Only the engine mutates a job's state.
type Engine struct {
	handlers *registry.Registry[JobKind, Handler]
	bus      event.Publisher
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	retry    errs.RetryConfig
	workers  int
	queueCap int

	queue chan *jobEntry

	jobsMu sync.RWMutex
	jobs   map[string]*jobEntry

	// queueMu guards queue sends against the close in Shutdown.
	queueMu sync.RWMutex
	started atomic.Bool
	closed  atomic.Bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// jobEntry is the engine's authoritative record for one job. The public
// Job type is always a copied snapshot of entry.job.
type jobEntry struct {
	id      string
	kind    JobKind
	payload any
	retry   errs.RetryConfig
	done    chan struct{}

	// ready is closed once Submit has published the Queued transition,
	// so a fast worker cannot publish Running ahead of it.
	ready chan struct{}

	mu              sync.Mutex
	job             Job
	cancel          context.CancelFunc
	cancelRequested bool
	cancelCh        chan struct{}
	cancelOnce      sync.Once
}

func (en *jobEntry) snapshot() Job {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.job
}

func (en *jobEntry) setProgress(p Progress) {
	en.mu.Lock()
	defer en.mu.Unlock()
	en.job.Progress = p
}

// requestCancel flips the cooperative cancellation signal exactly once.
func (en *jobEntry) requestCancel() {
	en.cancelOnce.Do(func() {
		close(en.cancelCh)
	})
}

// New creates an engine. Call Start before submitting jobs.
func New(opts ...Option) *Engine {
	e := &Engine{
		handlers: registry.New[JobKind, Handler](),
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		retry:    errs.DefaultRetry,
		workers:  DefaultWorkers,
		queueCap: DefaultQueueCapacity,
		jobs:     make(map[string]*jobEntry),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register binds a handler to a job kind, replacing any previous one.
// Registration after Start is allowed.
func (e *Engine) Register(kind JobKind, handler Handler) {
	e.handlers.Register(kind, handler)
}

// Start launches the worker pool. Starting twice is a no-op.
func (e *Engine) Start() {
	if !e.started.CompareAndSwap(false, true) {
		return
	}

	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	e.queue = make(chan *jobEntry, e.queueCap)

	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}

	e.logger.Info("engine started",
		slog.Int("workers", e.workers),
		slog.Int("queue_capacity", e.queueCap))
}

// Submit queues a job and returns its handle. The job stays Queued until
// a worker slot frees; when the queue is at capacity Submit fails fast
// with ErrQueueFull rather than blocking the caller.
func (e *Engine) Submit(ctx context.Context, spec Spec) (*Handle, error) {
	if !e.started.Load() {
		return nil, ErrNotStarted
	}
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}
	if !e.handlers.Has(spec.Kind) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, spec.Kind)
	}

	retry := e.retry
	if spec.Retry != nil {
		retry = *spec.Retry
	}

	entry := &jobEntry{
		id:       uuid.New().String(),
		kind:     spec.Kind,
		payload:  spec.Payload,
		retry:    retry,
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
		cancelCh: make(chan struct{}),
		job: Job{
			Kind:      spec.Kind,
			Status:    StatusQueued,
			CreatedAt: time.Now(),
		},
	}
	entry.job.ID = entry.id

	e.jobsMu.Lock()
	e.jobs[entry.id] = entry
	e.jobsMu.Unlock()

	e.queueMu.RLock()
	if e.closed.Load() {
		e.queueMu.RUnlock()
		e.dropEntry(entry.id)
		return nil, ErrEngineClosed
	}
	select {
	case e.queue <- entry:
		e.queueMu.RUnlock()
	default:
		e.queueMu.RUnlock()
		e.dropEntry(entry.id)
		return nil, ErrQueueFull
	}

	observability.LogJobQueued(e.logger, entry.id, string(entry.kind))
	e.publishTransition(ctx, entry, "", StatusQueued, 0, nil)
	close(entry.ready)

	return &Handle{id: entry.id, engine: e}, nil
}

func (e *Engine) dropEntry(id string) {
	e.jobsMu.Lock()
	delete(e.jobs, id)
	e.jobsMu.Unlock()
}

// Cancel requests cooperative cancellation. It returns true when the
// request was accepted: the job exists and had not already reached a
// terminal state. Queued jobs become Cancelled immediately; running jobs
// become Cancelled once their body observes the signal at a checkpoint.
func (e *Engine) Cancel(id string) bool {
	entry := e.entry(id)
	if entry == nil {
		return false
	}

	entry.mu.Lock()
	if entry.job.Status.Terminal() {
		entry.mu.Unlock()
		return false
	}
	entry.cancelRequested = true
	wasQueued := entry.job.Status == StatusQueued
	cancel := entry.cancel
	entry.mu.Unlock()

	entry.requestCancel()
	if cancel != nil {
		cancel()
	}
	if wasQueued {
		e.finish(context.Background(), entry, StatusCancelled, nil, nil)
	}
	return true
}

// Status returns the job's current status.
func (e *Engine) Status(id string) (JobStatus, error) {
	entry := e.entry(id)
	if entry == nil {
		return "", ErrJobNotFound
	}
	return entry.snapshot().Status, nil
}

// Job returns a snapshot of the job.
func (e *Engine) Job(id string) (Job, error) {
	entry := e.entry(id)
	if entry == nil {
		return Job{}, ErrJobNotFound
	}
	return entry.snapshot(), nil
}

// Await blocks until the job reaches a terminal state or the timeout
// elapses. A timeout of zero or less waits indefinitely. On timeout the
// current snapshot is returned with ErrAwaitTimeout; the job itself
// keeps running.
func (e *Engine) Await(id string, timeout time.Duration) (Job, error) {
	entry := e.entry(id)
	if entry == nil {
		return Job{}, ErrJobNotFound
	}

	if timeout <= 0 {
		<-entry.done
		return entry.snapshot(), nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-entry.done:
		return entry.snapshot(), nil
	case <-timer.C:
		return entry.snapshot(), ErrAwaitTimeout
	}
}

// Shutdown stops accepting jobs, finalizes still-queued jobs as
// Cancelled, and waits for running jobs to drain. If ctx expires first,
// running jobs receive a cancellation signal and ctx's error is
// returned.
func (e *Engine) Shutdown(ctx context.Context) error {
	if !e.started.Load() {
		return nil
	}
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.queueMu.Lock()
	close(e.queue)
	e.queueMu.Unlock()

	e.logger.Info("engine shutting down")

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		e.cancel()
		e.logger.Info("engine stopped")
		return nil
	case <-ctx.Done():
		e.cancel()
		e.logger.Warn("shutdown deadline reached, cancelling running jobs")
		return ctx.Err()
	}
}

func (e *Engine) entry(id string) *jobEntry {
	e.jobsMu.RLock()
	defer e.jobsMu.RUnlock()
	return e.jobs[id]
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for entry := range e.queue {
		e.execute(entry)
	}
}

// execute drives one job through its attempt loop. It transitions the
// entry to Running exactly once, retries transient failures with
// backoff, and finalizes the entry in exactly one terminal state.
func (e *Engine) execute(entry *jobEntry) {
	<-entry.ready

	// Jobs still queued at shutdown are finalized, not run.
	if e.closed.Load() {
		e.finish(context.Background(), entry, StatusCancelled, nil, nil)
		return
	}

	handler, ok := e.handlers.Get(entry.kind)
	if !ok {
		// The handler was deregistered between Submit and pickup.
		e.finish(context.Background(), entry, StatusFailed,
			fmt.Errorf("%w: %q", ErrUnknownKind, entry.kind), nil)
		return
	}

	maxAttempts := entry.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	elapsed := observability.TimedOperation()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		ctx, cancel := context.WithCancel(e.baseCtx)

		entry.mu.Lock()
		if entry.job.Status.Terminal() {
			entry.mu.Unlock()
			cancel()
			return
		}
		if entry.cancelRequested {
			entry.mu.Unlock()
			cancel()
			e.finish(ctx, entry, StatusCancelled, nil, nil)
			return
		}
		entry.cancel = cancel
		entry.job.Attempt = attempt
		if attempt == 1 {
			entry.job.Status = StatusRunning
			entry.job.StartedAt = time.Now()
		}
		entry.mu.Unlock()

		if attempt == 1 {
			observability.LogJobStart(e.logger, entry.id, string(entry.kind), attempt)
			e.publishTransition(ctx, entry, StatusQueued, StatusRunning, attempt, nil)
		}

		spanCtx, span := e.spans.StartJobSpan(ctx, string(entry.kind), entry.id)
		jc := &JobContext{
			Context: spanCtx,
			engine:  e,
			entry:   entry,
			payload: entry.payload,
			attempt: attempt,
			logger:  observability.EnrichLogger(e.logger, entry.id, string(entry.kind), attempt),
		}

		start := time.Now()
		result, err := invoke(jc, handler)
		e.metrics.RecordJobExecution(ctx, string(entry.kind), time.Since(start), err)
		e.spans.EndSpanWithError(span, err)
		cancelled := entry.isCancelRequested() || ctx.Err() != nil
		cancel()

		// An accepted cancel wins over the body's return value: a body
		// that observes the signal and exits cleanly still lands in
		// Cancelled, not Done.
		if cancelled || errors.Is(err, context.Canceled) {
			observability.LogJobCancelled(e.logger, entry.id, elapsed())
			e.finish(ctx, entry, StatusCancelled, nil, nil)
			return
		}

		if err == nil {
			observability.LogJobComplete(e.logger, entry.id, elapsed())
			e.finish(ctx, entry, StatusDone, nil, result)
			return
		}

		if !errs.IsRetryable(err) || attempt == maxAttempts {
			observability.LogJobFailed(e.logger, entry.id, err, elapsed())
			e.finish(ctx, entry, StatusFailed, err, nil)
			return
		}

		backoff := entry.retry.BackoffFor(attempt)
		observability.LogJobRetry(e.logger, entry.id, attempt, backoff, err)

		timer := time.NewTimer(backoff)
		select {
		case <-timer.C:
		case <-entry.cancelCh:
			timer.Stop()
			e.finish(context.Background(), entry, StatusCancelled, nil, nil)
			return
		case <-e.baseCtx.Done():
			timer.Stop()
			e.finish(context.Background(), entry, StatusCancelled, nil, nil)
			return
		}
	}
}

func (en *jobEntry) isCancelRequested() bool {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.cancelRequested
}

// invoke runs the handler with panic recovery. A panicking job body
// fails the job, never the worker.
func invoke(jc *JobContext, handler Handler) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job body panic: %v", r)
		}
	}()
	return handler(jc)
}

// finish moves the entry to a terminal state exactly once. The first
// caller wins; later callers are no-ops, which keeps the Cancel path and
// the worker path from double-finalizing.
func (e *Engine) finish(ctx context.Context, entry *jobEntry, to JobStatus, jobErr error, result any) {
	entry.mu.Lock()
	if entry.job.Status.Terminal() {
		entry.mu.Unlock()
		return
	}
	from := entry.job.Status
	attempt := entry.job.Attempt
	entry.job.Status = to
	entry.job.FinishedAt = time.Now()
	if to == StatusFailed {
		entry.job.Err = jobErr
	}
	if to == StatusDone {
		entry.job.Result = result
	}
	entry.mu.Unlock()

	close(entry.done)
	e.publishTransition(ctx, entry, from, to, attempt, jobErr)
}

func (e *Engine) publishTransition(ctx context.Context, entry *jobEntry, from, to JobStatus, attempt int, jobErr error) {
	if e.bus == nil {
		return
	}

	payload := JobStatusChanged{
		JobID:    entry.id,
		Kind:     entry.kind,
		From:     from,
		To:       to,
		Attempt:  attempt,
		Progress: entry.snapshot().Progress,
	}
	if jobErr != nil {
		payload.Error = jobErr.Error()
	}

	evt := event.New(EventJobStatusChanged, eventSource, payload,
		event.WithCorrelationID(entry.id))
	if err := e.bus.Publish(context.WithoutCancel(ctx), evt); err != nil {
		e.logger.Warn("publish job event",
			slog.String("job_id", entry.id),
			slog.String("error", err.Error()))
	}
	e.metrics.RecordEventPublished(ctx, EventJobStatusChanged)
}

// publishProgress republishes body-reported progress as a status event.
func (e *Engine) publishProgress(ctx context.Context, entry *jobEntry, p Progress) {
	if e.bus == nil {
		return
	}

	evt := event.New(EventJobStatusChanged, eventSource, JobStatusChanged{
		JobID:    entry.id,
		Kind:     entry.kind,
		From:     StatusRunning,
		To:       StatusRunning,
		Attempt:  entry.snapshot().Attempt,
		Progress: p,
	}, event.WithCorrelationID(entry.id))
	if err := e.bus.Publish(context.WithoutCancel(ctx), evt); err != nil {
		e.logger.Warn("publish job progress",
			slog.String("job_id", entry.id),
			slog.String("error", err.Error()))
	}
}
