package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	errs "github.com/randalmurphal/salespipe/pkg/salespipe/errors"
	"github.com/randalmurphal/salespipe/pkg/salespipe/event"
	"github.com/randalmurphal/salespipe/pkg/salespipe/ingest"
	"github.com/randalmurphal/salespipe/pkg/salespipe/observability"
)

const eventSource = "analytics"

// AggregateStore persists materialized aggregates. Upsert replaces any
// previous value for the same key. Implementations live in the store
// package.
type AggregateStore interface {
	Upsert(ctx context.Context, agg Aggregate) error
}

// AlertStore receives triggered alert candidates for persistence and
// delivery, both of which happen outside this package.
type AlertStore interface {
	Create(ctx context.Context, candidate AlertCandidate) error
}

// Materializer recomputes and persists the daily aggregates for one
// (store, date) scope at a time. Materializations of the same scope are
// serialized by a per-scope lock, so concurrent recompute jobs can never
// interleave partial writes; combined with the pure fold in ComputeDaily
// this makes recomputation idempotent.
type Materializer struct {
	store   AggregateStore
	alerts  AlertStore
	bus     event.Publisher
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	rules   []Rule
	topN    int

	mu    sync.Mutex
	locks map[scopeKey]*sync.Mutex
}

type scopeKey struct {
	storeID int64
	date    Date
}

// MaterializerOption configures a Materializer.
type MaterializerOption func(*Materializer)

// WithAlertStore sets the sink for triggered alert candidates.
func WithAlertStore(alerts AlertStore) MaterializerOption {
	return func(m *Materializer) {
		m.alerts = alerts
	}
}

// WithBus sets the event publisher.
func WithBus(bus event.Publisher) MaterializerOption {
	return func(m *Materializer) {
		m.bus = bus
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) MaterializerOption {
	return func(m *Materializer) {
		m.logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics observability.MetricsRecorder) MaterializerOption {
	return func(m *Materializer) {
		m.metrics = metrics
	}
}

// WithRules sets the alert rules evaluated after each materialization.
func WithRules(rules []Rule) MaterializerOption {
	return func(m *Materializer) {
		m.rules = rules
	}
}

// WithTopN sets the length of the top-products ranking.
func WithTopN(n int) MaterializerOption {
	return func(m *Materializer) {
		m.topN = n
	}
}

// NewMaterializer creates a materializer writing to store.
func NewMaterializer(store AggregateStore, opts ...MaterializerOption) *Materializer {
	m := &Materializer{
		store:   store,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		topN:    DefaultTopN,
		locks:   make(map[scopeKey]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Materialize computes the aggregates for the scope, upserts them,
// evaluates alert rules, and publishes kpi.computed and alert.created
// events. It returns the aggregates and any triggered candidates.
//
// Upsert failures are transient: the storage layer may recover, and the
// pure recompute makes the retry safe.
func (m *Materializer) Materialize(ctx context.Context, storeID int64, date Date, records []ingest.Record) ([]Aggregate, []AlertCandidate, error) {
	lock := m.scopeLock(scopeKey{storeID: storeID, date: date})
	lock.Lock()
	defer lock.Unlock()

	start := time.Now()
	aggregates := computeDaily(storeID, date, records, m.topN)

	for _, agg := range aggregates {
		if err := m.store.Upsert(ctx, agg); err != nil {
			return nil, nil, errs.Transient(err, "upsert aggregate")
		}
	}

	m.publish(ctx, event.New(EventKPIComputed, eventSource, kpiSnapshot(storeID, date, aggregates)))

	candidates := EvaluateAlerts(aggregates, m.rules)
	for _, cand := range candidates {
		if m.alerts != nil {
			if err := m.alerts.Create(ctx, cand); err != nil {
				return aggregates, candidates, errs.Transient(err, "create alert")
			}
		}
		m.publish(ctx, event.New(EventAlertCreated, eventSource, AlertCreated{
			RuleID:    cand.RuleID,
			StoreID:   cand.Key.StoreID,
			Date:      cand.Key.Date,
			Metric:    string(cand.Key.Metric),
			Value:     cand.Value,
			Threshold: cand.Threshold,
			Severity:  cand.Severity,
		}))
		m.logger.Warn("alert triggered",
			slog.String("rule_id", cand.RuleID),
			slog.Int64("store_id", cand.Key.StoreID),
			slog.String("date", string(cand.Key.Date)),
			slog.String("metric", string(cand.Key.Metric)),
			slog.Float64("value", cand.Value),
			slog.String("severity", string(cand.Severity)))
	}

	duration := time.Since(start)
	m.metrics.RecordMaterialization(ctx, int64(len(aggregates)), duration)
	m.logger.Info("scope materialized",
		slog.Int64("store_id", storeID),
		slog.String("date", string(date)),
		slog.Int("aggregates", len(aggregates)),
		slog.Int("alerts", len(candidates)),
		slog.Duration("duration", duration))

	return aggregates, candidates, nil
}

// scopeLock returns the mutex serializing materializations of one scope.
func (m *Materializer) scopeLock(key scopeKey) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[key] = lock
	}
	return lock
}

func (m *Materializer) publish(ctx context.Context, evt event.Event) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, evt); err != nil {
		m.logger.Warn("publish analytics event",
			slog.String("event_type", evt.Type()),
			slog.String("error", err.Error()))
	}
}

func kpiSnapshot(storeID int64, date Date, aggregates []Aggregate) KPIComputed {
	snap := KPIComputed{StoreID: storeID, Date: date}
	for _, agg := range aggregates {
		switch agg.Key.Metric {
		case MetricRevenue:
			snap.Revenue = agg.Value
		case MetricUnits:
			snap.Units = agg.Value
		case MetricReceipts:
			snap.Receipts = agg.Value
		case MetricAvgBasket:
			snap.AvgBasket = agg.Value
		}
	}
	return snap
}
