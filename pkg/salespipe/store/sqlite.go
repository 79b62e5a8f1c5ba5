package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/randalmurphal/salespipe/pkg/salespipe/analytics"
	"github.com/randalmurphal/salespipe/pkg/salespipe/ingest"
)

// SQLite persists batches, aggregates, and alerts to a SQLite database.
// It is suitable for single-process production use.
type SQLite struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLite opens (and if needed initializes) a SQLite store. The path
// should be a file path (e.g., "./salespipe.db") or ":memory:" for testing.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS batches (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			rows_read INTEGER NOT NULL,
			rows_valid INTEGER NOT NULL,
			rows_invalid INTEGER NOT NULL,
			errors TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS records (
			batch_id TEXT NOT NULL,
			store_id INTEGER NOT NULL,
			sold_at TEXT NOT NULL,
			product_id TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			unit_price REAL NOT NULL,
			transaction_id TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_batch_id ON records(batch_id)`,
		`CREATE TABLE IF NOT EXISTS aggregates (
			store_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			detail TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (store_id, date, metric)
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			rule_id TEXT NOT NULL,
			store_id INTEGER NOT NULL,
			date TEXT NOT NULL,
			metric TEXT NOT NULL,
			value REAL NOT NULL,
			operator TEXT NOT NULL,
			threshold REAL NOT NULL,
			severity TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
	}

	return &SQLite{db: db}, nil
}

// SaveBatch implements ingest.RecordStore. The batch row and its records
// are written in one transaction; re-saving the same batch id replaces
// both.
func (s *SQLite) SaveBatch(ctx context.Context, batch *ingest.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	rowErrors, err := json.Marshal(batch.Errors)
	if err != nil {
		return fmt.Errorf("marshal row errors: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO batches (id, source, rows_read, rows_valid, rows_invalid, errors, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			rows_read = excluded.rows_read,
			rows_valid = excluded.rows_valid,
			rows_invalid = excluded.rows_invalid,
			errors = excluded.errors,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, batch.ID, batch.Source, batch.RowsRead, batch.RowsValid, batch.RowsInvalid,
		string(rowErrors),
		batch.StartedAt.UTC().Format(time.RFC3339Nano),
		batch.FinishedAt.UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("save batch: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE batch_id = ?`, batch.ID); err != nil {
		return fmt.Errorf("clear batch records: %w", err)
	}

	for _, rec := range batch.Records {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO records (batch_id, store_id, sold_at, product_id, quantity, unit_price, transaction_id)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, batch.ID, rec.StoreID, rec.Timestamp.UTC().Format(time.RFC3339Nano),
			rec.ProductID, rec.Quantity, rec.UnitPrice, rec.TransactionID); err != nil {
			return fmt.Errorf("save record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// GetBatch returns a previously saved batch with its records.
func (s *SQLite) GetBatch(ctx context.Context, id string) (*ingest.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	batch := &ingest.Batch{ID: id}
	var rowErrors, startedAt, finishedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT source, rows_read, rows_valid, rows_invalid, errors, started_at, finished_at
		FROM batches WHERE id = ?
	`, id).Scan(&batch.Source, &batch.RowsRead, &batch.RowsValid, &batch.RowsInvalid,
		&rowErrors, &startedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}

	if err := json.Unmarshal([]byte(rowErrors), &batch.Errors); err != nil {
		return nil, fmt.Errorf("unmarshal row errors: %w", err)
	}
	batch.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	batch.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)

	rows, err := s.db.QueryContext(ctx, `
		SELECT store_id, sold_at, product_id, quantity, unit_price, transaction_id
		FROM records WHERE batch_id = ? ORDER BY rowid
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec ingest.Record
		var soldAt string
		if err := rows.Scan(&rec.StoreID, &soldAt, &rec.ProductID, &rec.Quantity,
			&rec.UnitPrice, &rec.TransactionID); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, soldAt)
		batch.Records = append(batch.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return batch, nil
}

// Upsert implements analytics.AggregateStore. Product and hour details
// are stored as JSON next to the scalar value; the upsert replaces the
// whole row.
func (s *SQLite) Upsert(ctx context.Context, agg analytics.Aggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	detail, err := json.Marshal(aggregateDetail{Products: agg.Products, Hours: agg.Hours})
	if err != nil {
		return fmt.Errorf("marshal aggregate detail: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO aggregates (store_id, date, metric, value, detail, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(store_id, date, metric) DO UPDATE SET
			value = excluded.value,
			detail = excluded.detail,
			updated_at = excluded.updated_at
	`, agg.Key.StoreID, string(agg.Key.Date), string(agg.Key.Metric),
		agg.Value, string(detail), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("upsert aggregate: %w", err)
	}
	return nil
}

type aggregateDetail struct {
	Products []analytics.ProductRank `json:"products,omitempty"`
	Hours    []analytics.HourBucket  `json:"hours,omitempty"`
}

// GetAggregate returns the aggregate for a key.
func (s *SQLite) GetAggregate(ctx context.Context, key analytics.Key) (analytics.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return analytics.Aggregate{}, ErrStoreClosed
	}

	agg := analytics.Aggregate{Key: key}
	var detail string
	err := s.db.QueryRowContext(ctx, `
		SELECT value, detail FROM aggregates
		WHERE store_id = ? AND date = ? AND metric = ?
	`, key.StoreID, string(key.Date), string(key.Metric)).Scan(&agg.Value, &detail)
	if errors.Is(err, sql.ErrNoRows) {
		return analytics.Aggregate{}, ErrNotFound
	}
	if err != nil {
		return analytics.Aggregate{}, fmt.Errorf("load aggregate: %w", err)
	}

	var d aggregateDetail
	if err := json.Unmarshal([]byte(detail), &d); err != nil {
		return analytics.Aggregate{}, fmt.Errorf("unmarshal aggregate detail: %w", err)
	}
	agg.Products = d.Products
	agg.Hours = d.Hours
	return agg, nil
}

// ListAggregates returns all aggregates of one (store, date) scope
// ordered by metric name.
func (s *SQLite) ListAggregates(ctx context.Context, storeID int64, date analytics.Date) ([]analytics.Aggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT metric, value, detail FROM aggregates
		WHERE store_id = ? AND date = ?
		ORDER BY metric
	`, storeID, string(date))
	if err != nil {
		return nil, fmt.Errorf("list aggregates: %w", err)
	}
	defer rows.Close()

	var aggs []analytics.Aggregate
	for rows.Next() {
		agg := analytics.Aggregate{Key: analytics.Key{StoreID: storeID, Date: date}}
		var metric, detail string
		if err := rows.Scan(&metric, &agg.Value, &detail); err != nil {
			return nil, fmt.Errorf("scan aggregate: %w", err)
		}
		agg.Key.Metric = analytics.MetricKind(metric)

		var d aggregateDetail
		if err := json.Unmarshal([]byte(detail), &d); err != nil {
			return nil, fmt.Errorf("unmarshal aggregate detail: %w", err)
		}
		agg.Products = d.Products
		agg.Hours = d.Hours
		aggs = append(aggs, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregates: %w", err)
	}

	return aggs, nil
}

// Create implements analytics.AlertStore.
func (s *SQLite) Create(ctx context.Context, cand analytics.AlertCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (rule_id, store_id, date, metric, value, operator, threshold, severity, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cand.RuleID, cand.Key.StoreID, string(cand.Key.Date), string(cand.Key.Metric),
		cand.Value, string(cand.Operator), cand.Threshold, string(cand.Severity),
		time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return fmt.Errorf("create alert: %w", err)
	}
	return nil
}

// ListAlerts returns all recorded alert candidates in creation order.
func (s *SQLite) ListAlerts(ctx context.Context) ([]analytics.AlertCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, store_id, date, metric, value, operator, threshold, severity
		FROM alerts ORDER BY rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []analytics.AlertCandidate
	for rows.Next() {
		var cand analytics.AlertCandidate
		var date, metric, operator, severity string
		if err := rows.Scan(&cand.RuleID, &cand.Key.StoreID, &date, &metric,
			&cand.Value, &operator, &cand.Threshold, &severity); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		cand.Key.Date = analytics.Date(date)
		cand.Key.Metric = analytics.MetricKind(metric)
		cand.Operator = analytics.Operator(operator)
		cand.Severity = analytics.Severity(severity)
		alerts = append(alerts, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}

	return alerts, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
