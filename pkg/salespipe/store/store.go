// Package store provides the storage backends behind the repository
// interfaces the core consumes: ingest.RecordStore, analytics.AggregateStore,
// and analytics.AlertStore.
//
// Memory is for tests and ephemeral runs; SQLite is for single-process
// production use. Both implement all three interfaces plus read-back
// accessors for callers that inspect persisted state.
package store

import "errors"

var (
	// ErrStoreClosed is returned by operations on a closed store.
	ErrStoreClosed = errors.New("store is closed")

	// ErrNotFound is returned when the requested entity does not exist.
	ErrNotFound = errors.New("not found")
)
