/*
Package salespipe is the core of a point-of-sale export ingestion and
analytics system: an asynchronous job engine that runs streaming CSV
imports and daily KPI recomputations, wired together by an in-process
event bus.

# Overview

salespipe owns the hard parts of the system and treats everything else
(HTTP surfaces, schedulers, persistence beyond the bundled backends) as
external collaborators behind small interfaces:

  - A job Engine with a fixed worker pool, FIFO queueing, cooperative
    cancellation, and exponential-backoff retry of transient failures
  - A streaming ingestion pipeline that parses exports in bounded
    memory with fail-soft row handling
  - A deterministic analytics engine that materializes daily KPI
    aggregates idempotently and evaluates alert rules
  - An event bus delivering domain events synchronously or
    asynchronously to in-process subscribers

# Basic Usage

Register handlers, start the engine, submit jobs:

	store := store.NewMemory()
	bus := event.NewBus(event.DefaultBusConfig)
	pipeline := ingest.NewPipeline(
	    ingest.WithBus(bus),
	    ingest.WithRecordStore(store),
	)

	engine := salespipe.New(
	    salespipe.WithWorkers(4),
	    salespipe.WithBus(bus),
	)
	engine.Register(salespipe.KindImport, salespipe.ImportHandler(pipeline))
	engine.Start()
	defer engine.Shutdown(context.Background())

	handle, err := engine.Submit(context.Background(), salespipe.Spec{
	    Kind: salespipe.KindImport,
	    Payload: salespipe.ImportPayload{
	        Source: "daily.csv",
	        Open:   salespipe.OpenFile("exports/daily.csv"),
	        Config: ingest.Config{Columns: columnMapping},
	    },
	})
	if err != nil {
	    log.Fatal(err)
	}

	job, err := handle.Await(time.Minute)
	if err != nil {
	    log.Fatal(err)
	}
	batch := job.Result.(*ingest.Batch)

# Job Lifecycle

Jobs move Queued -> Running -> {Done, Failed, Cancelled}, with
Queued -> Cancelled for jobs cancelled before pickup. Transitions are
monotonic and published as job.status_changed events. Cancellation is
cooperative: job bodies observe it at documented checkpoints (row
boundaries for imports, the batch boundary for recomputes), leaving
partial state intact but the job marked Cancelled.

Transient failures (unreadable sources, storage errors) are retried
with exponential backoff up to a configured attempt count; permanent
failures (schema mismatches, bad payloads) fail immediately.

# Events

Every component publishes to the shared bus: import.started,
import.progress, import.completed from the pipeline; kpi.computed and
alert.created from the materializer; job.status_changed from the
engine. Synchronous subscribers run inline in subscription order;
asynchronous subscribers get a bounded buffer and never block
publishers. Delivery guarantees end at process exit.
*/
package salespipe
