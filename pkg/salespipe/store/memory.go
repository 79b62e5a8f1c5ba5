package store

import (
	"context"
	"sync"

	"github.com/randalmurphal/salespipe/pkg/salespipe/analytics"
	"github.com/randalmurphal/salespipe/pkg/salespipe/ingest"
)

// Memory is an in-memory store. It is safe for concurrent use and loses
// everything at process exit.
type Memory struct {
	mu         sync.RWMutex
	closed     bool
	batches    map[string]*ingest.Batch
	aggregates map[analytics.Key]analytics.Aggregate
	alerts     []analytics.AlertCandidate
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		batches:    make(map[string]*ingest.Batch),
		aggregates: make(map[analytics.Key]analytics.Aggregate),
	}
}

// SaveBatch implements ingest.RecordStore.
func (m *Memory) SaveBatch(ctx context.Context, batch *ingest.Batch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.batches[batch.ID] = batch
	return nil
}

// GetBatch returns a previously saved batch.
func (m *Memory) GetBatch(ctx context.Context, id string) (*ingest.Batch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	batch, ok := m.batches[id]
	if !ok {
		return nil, ErrNotFound
	}
	return batch, nil
}

// Upsert implements analytics.AggregateStore. The new value replaces any
// previous one for the same key.
func (m *Memory) Upsert(ctx context.Context, agg analytics.Aggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.aggregates[agg.Key] = agg
	return nil
}

// GetAggregate returns the aggregate for a key.
func (m *Memory) GetAggregate(ctx context.Context, key analytics.Key) (analytics.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return analytics.Aggregate{}, ErrStoreClosed
	}
	agg, ok := m.aggregates[key]
	if !ok {
		return analytics.Aggregate{}, ErrNotFound
	}
	return agg, nil
}

// ListAggregates returns all aggregates of one (store, date) scope in
// unspecified order.
func (m *Memory) ListAggregates(ctx context.Context, storeID int64, date analytics.Date) ([]analytics.Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	var aggs []analytics.Aggregate
	for key, agg := range m.aggregates {
		if key.StoreID == storeID && key.Date == date {
			aggs = append(aggs, agg)
		}
	}
	return aggs, nil
}

// Create implements analytics.AlertStore.
func (m *Memory) Create(ctx context.Context, cand analytics.AlertCandidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.alerts = append(m.alerts, cand)
	return nil
}

// ListAlerts returns all recorded alert candidates in creation order.
func (m *Memory) ListAlerts(ctx context.Context) ([]analytics.AlertCandidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	alerts := make([]analytics.AlertCandidate, len(m.alerts))
	copy(alerts, m.alerts)
	return alerts, nil
}

// Close marks the store closed. Further operations fail with ErrStoreClosed.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
