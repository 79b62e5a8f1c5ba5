package salespipe

import "errors"

var (
	// ErrUnknownKind is returned by Submit when no handler is registered
	// for the submitted kind.
	ErrUnknownKind = errors.New("no handler registered for job kind")

	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("job queue is full")

	// ErrJobNotFound is returned for job ids the engine does not track.
	ErrJobNotFound = errors.New("job not found")

	// ErrAwaitTimeout is returned by Await when the timeout elapses
	// before the job reaches a terminal state.
	ErrAwaitTimeout = errors.New("await timed out")

	// ErrEngineClosed is returned by Submit after Shutdown has begun.
	ErrEngineClosed = errors.New("engine is shut down")

	// ErrNotStarted is returned by Submit before Start has been called.
	ErrNotStarted = errors.New("engine is not started")
)
