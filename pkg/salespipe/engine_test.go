package salespipe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	errs "github.com/randalmurphal/salespipe/pkg/salespipe/errors"
	"github.com/randalmurphal/salespipe/pkg/salespipe/event"
	"github.com/randalmurphal/salespipe/pkg/salespipe/observability"
)

const kindTest JobKind = "test"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry(attempts int) errs.RetryConfig {
	return errs.NewRetryConfig(
		errs.WithMaxAttempts(attempts),
		errs.WithInitialBackoff(time.Millisecond),
		errs.WithMaxBackoff(5*time.Millisecond),
		errs.WithJitter(0),
	)
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e := New(append([]Option{WithLogger(quietLogger()), WithRetry(errs.NoRetry)}, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		e.Shutdown(ctx)
	})
	return e
}

func TestSubmitAndAwait(t *testing.T) {
	e := newTestEngine(t)
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		return jc.Payload(), nil
	})
	e.Start()

	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest, Payload: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, handle.ID())

	job, err := handle.Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, job.Status)
	assert.Equal(t, "hello", job.Result)
	assert.Equal(t, 1, job.Attempt)
	assert.NoError(t, job.Err)
	assert.False(t, job.StartedAt.IsZero())
	assert.False(t, job.FinishedAt.IsZero())
}

func TestSubmitUnknownKind(t *testing.T) {
	e := newTestEngine(t)
	e.Start()

	_, err := e.Submit(context.Background(), Spec{Kind: "nope"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestSubmitBeforeStart(t *testing.T) {
	e := New(WithLogger(quietLogger()))
	e.Register(kindTest, func(jc *JobContext) (any, error) { return nil, nil })

	_, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestJobNotFound(t *testing.T) {
	e := newTestEngine(t)
	e.Start()

	_, err := e.Status("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = e.Job("missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = e.Await("missing", time.Second)
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.False(t, e.Cancel("missing"))
}

func TestQueuedJobsRunFIFO(t *testing.T) {
	e := newTestEngine(t, WithWorkers(1), WithQueueCapacity(8))

	var mu sync.Mutex
	var order []string
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		mu.Lock()
		order = append(order, jc.Payload().(string))
		mu.Unlock()
		return nil, nil
	})
	e.Start()

	var handles []*Handle
	for _, name := range []string{"first", "second", "third"} {
		h, err := e.Submit(context.Background(), Spec{Kind: kindTest, Payload: name})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		_, err := h.Await(5 * time.Second)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestWorkerCapacityBound(t *testing.T) {
	e := newTestEngine(t, WithWorkers(2), WithQueueCapacity(16))

	var running, maxRunning atomic.Int32
	release := make(chan struct{})
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		n := running.Add(1)
		for {
			prev := maxRunning.Load()
			if n <= prev || maxRunning.CompareAndSwap(prev, n) {
				break
			}
		}
		<-release
		running.Add(-1)
		return nil, nil
	})
	e.Start()

	var handles []*Handle
	for i := 0; i < 6; i++ {
		h, err := e.Submit(context.Background(), Spec{Kind: kindTest})
		require.NoError(t, err)
		handles = append(handles, h)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	for _, h := range handles {
		_, err := h.Await(5 * time.Second)
		require.NoError(t, err)
	}

	assert.Equal(t, int32(2), maxRunning.Load(), "no more jobs running than worker slots")
}

func TestSubmitQueueFull(t *testing.T) {
	e := newTestEngine(t, WithWorkers(1), WithQueueCapacity(1))

	started := make(chan struct{})
	release := make(chan struct{})
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	e.Start()

	first, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)
	<-started // the worker slot is now occupied

	_, err = e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err, "one job fits in the queue")

	_, err = e.Submit(context.Background(), Spec{Kind: kindTest})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	_, err = first.Await(5 * time.Second)
	require.NoError(t, err)
}

func TestCancelQueuedJob(t *testing.T) {
	e := newTestEngine(t, WithWorkers(1))

	started := make(chan struct{})
	release := make(chan struct{})
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		close(started)
		<-release
		return nil, nil
	})
	e.Start()

	blocker, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)
	<-started

	queued, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)

	assert.True(t, queued.Cancel())

	job, err := queued.Await(time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.NoError(t, job.Err, "cancelled jobs carry no error")
	assert.False(t, queued.Cancel(), "cancelling a terminal job reports false")

	close(release)
	blockerJob, err := blocker.Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, blockerJob.Status, "cancelling one job never affects another")
}

func TestCancelRunningJob(t *testing.T) {
	e := newTestEngine(t)

	started := make(chan struct{})
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		close(started)
		for i := 0; i < 1000; i++ {
			if err := jc.Err(); err != nil {
				return nil, err
			}
			time.Sleep(time.Millisecond)
		}
		return "finished", nil
	})
	e.Start()

	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)
	<-started

	assert.True(t, handle.Cancel())

	job, err := handle.Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.NoError(t, job.Err)
	assert.Nil(t, job.Result)
}

func TestCancelledJobCleanReturnIsNotDone(t *testing.T) {
	e := newTestEngine(t)

	started := make(chan struct{})
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		close(started)
		// A body that exits cleanly after observing the signal, the way
		// the import pipeline does.
		<-jc.Done()
		return "partial result", nil
	})
	e.Start()

	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)
	<-started

	assert.True(t, handle.Cancel())

	job, err := handle.Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.NoError(t, job.Err)
	assert.Nil(t, job.Result)
}

func TestRetryTransientFailure(t *testing.T) {
	e := newTestEngine(t)

	var attempts atomic.Int32
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		if attempts.Add(1) < 3 {
			return nil, errs.Transient(errors.New("connection reset"), "read source")
		}
		return "ok", nil
	})
	e.Start()

	retry := fastRetry(3)
	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest, Retry: &retry})
	require.NoError(t, err)

	job, err := handle.Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, job.Status)
	assert.Equal(t, 3, job.Attempt, "attempt count is visible on the job")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetryExhausted(t *testing.T) {
	e := newTestEngine(t)

	var attempts atomic.Int32
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		attempts.Add(1)
		return nil, errs.Transient(errors.New("still down"), "read source")
	})
	e.Start()

	retry := fastRetry(3)
	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest, Retry: &retry})
	require.NoError(t, err)

	job, err := handle.Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	require.Error(t, job.Err)
	assert.Contains(t, job.Err.Error(), "still down")
	assert.Equal(t, int32(3), attempts.Load())
}

func TestPermanentFailureFailsImmediately(t *testing.T) {
	e := newTestEngine(t)

	var attempts atomic.Int32
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		attempts.Add(1)
		return nil, &errs.SchemaError{Column: "price", Source: "daily.csv"}
	})
	e.Start()

	retry := fastRetry(5)
	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest, Retry: &retry})
	require.NoError(t, err)

	job, err := handle.Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, int32(1), attempts.Load(), "permanent failures are not retried")

	var schemaErr *errs.SchemaError
	assert.ErrorAs(t, job.Err, &schemaErr)
}

func TestPanicFailsJob(t *testing.T) {
	e := newTestEngine(t)
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		panic("boom")
	})
	e.Start()

	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)

	job, err := handle.Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Err.Error(), "boom")

	// The worker survived the panic.
	e.Register(kindTest, func(jc *JobContext) (any, error) { return "ok", nil })
	handle, err = e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)
	job, err = handle.Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, job.Status)
}

func TestAwaitTimeoutDoesNotCancel(t *testing.T) {
	e := newTestEngine(t)

	release := make(chan struct{})
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		<-release
		return "done anyway", nil
	})
	e.Start()

	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)

	job, err := handle.Await(30 * time.Millisecond)
	assert.ErrorIs(t, err, ErrAwaitTimeout)
	assert.False(t, job.Status.Terminal(), "timeout only stops waiting")

	close(release)
	job, err = handle.Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, job.Status)
	assert.Equal(t, "done anyway", job.Result)
}

func TestProgressVisibleOnJob(t *testing.T) {
	e := newTestEngine(t)

	progressed := make(chan struct{})
	release := make(chan struct{})
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		jc.SetProgress(Progress{Percent: 50, RowsRead: 500})
		close(progressed)
		<-release
		return nil, nil
	})
	e.Start()

	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)
	<-progressed

	job, err := handle.Job()
	require.NoError(t, err)
	assert.Equal(t, 50, job.Progress.Percent)
	assert.Equal(t, 500, job.Progress.RowsRead)

	close(release)
	_, err = handle.Await(5 * time.Second)
	require.NoError(t, err)
}

func TestStageSpansRecorded(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})

	e := newTestEngine(t, WithSpans(observability.NewSpanManager()))
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		_, endStage := jc.StartStage("compute")
		endStage(nil)
		return nil, nil
	})
	e.Start()

	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)
	_, err = handle.Await(5 * time.Second)
	require.NoError(t, err)

	var names []string
	for _, s := range exporter.GetSpans() {
		names = append(names, s.Name)
	}
	assert.Contains(t, names, "salespipe.stage.compute")
	assert.Contains(t, names, "salespipe.job")
}

func TestStatusEventsInOrder(t *testing.T) {
	bus := event.NewBus(event.BusConfig{Logger: quietLogger()})
	defer bus.Close()

	var mu sync.Mutex
	transitions := make(map[string][]JobStatus)
	bus.Subscribe([]string{EventJobStatusChanged}, event.Sync,
		event.TypedHandler(func(ctx context.Context, p JobStatusChanged, meta event.Metadata) error {
			mu.Lock()
			defer mu.Unlock()
			transitions[p.JobID] = append(transitions[p.JobID], p.To)
			return nil
		}))

	e := newTestEngine(t, WithBus(bus))
	e.Register(kindTest, func(jc *JobContext) (any, error) { return nil, nil })
	e.Start()

	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)
	_, err = handle.Await(5 * time.Second)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []JobStatus{StatusQueued, StatusRunning, StatusDone}, transitions[handle.ID()])
}

func TestShutdown(t *testing.T) {
	e := New(WithLogger(quietLogger()), WithWorkers(1), WithRetry(errs.NoRetry))

	started := make(chan struct{})
	release := make(chan struct{})
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		close(started)
		<-release
		return "drained", nil
	})
	e.Start()

	running, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)
	<-started

	queued, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- e.Shutdown(context.Background())
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = e.Submit(context.Background(), Spec{Kind: kindTest})
	assert.ErrorIs(t, err, ErrEngineClosed)

	close(release)
	require.NoError(t, <-shutdownDone)

	job, err := running.Job()
	require.NoError(t, err)
	assert.Equal(t, StatusDone, job.Status, "running jobs drain to completion")
	assert.Equal(t, "drained", job.Result)

	job, err = queued.Job()
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status, "queued jobs finalize as cancelled")

	assert.NoError(t, e.Shutdown(context.Background()), "shutting down twice is a no-op")
}

func TestShutdownDeadline(t *testing.T) {
	e := New(WithLogger(quietLogger()), WithRetry(errs.NoRetry))

	started := make(chan struct{})
	finished := make(chan struct{})
	e.Register(kindTest, func(jc *JobContext) (any, error) {
		close(started)
		<-jc.Done()
		close(finished)
		return nil, jc.Err()
	})
	e.Start()

	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest})
	require.NoError(t, err)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = e.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// The deadline triggers the cancellation signal for stuck jobs.
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("job body never observed the shutdown signal")
	}

	job, err := handle.Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
}

func TestSubmitAwaitRoundTrip(t *testing.T) {
	e := newTestEngine(t, WithWorkers(2))

	e.Register(kindTest, func(jc *JobContext) (any, error) {
		return fmt.Sprintf("payload=%v attempt=%d", jc.Payload(), jc.Attempt()), nil
	})
	e.Start()

	handle, err := e.Submit(context.Background(), Spec{Kind: kindTest, Payload: 42})
	require.NoError(t, err)

	status, err := handle.Status()
	require.NoError(t, err)
	assert.Contains(t, []JobStatus{StatusQueued, StatusRunning, StatusDone}, status)

	job, err := handle.Await(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "payload=42 attempt=1", job.Result)
}
