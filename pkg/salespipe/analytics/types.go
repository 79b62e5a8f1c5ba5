// Package analytics computes daily KPI aggregates from normalized sale
// records and evaluates alert rules against them.
//
// Computation is a pure fold: the same record slice always yields
// bit-for-bit identical aggregates, which lets the materializer treat
// recomputation as a safe replace. Side effects (persistence, events)
// live only in the Materializer.
package analytics

import "time"

// MetricKind identifies one KPI within a (store, date) scope.
type MetricKind string

const (
	MetricRevenue     MetricKind = "revenue"
	MetricUnits       MetricKind = "units"
	MetricReceipts    MetricKind = "receipts"
	MetricAvgBasket   MetricKind = "avg_basket"
	MetricTopProducts MetricKind = "top_products"
	MetricHourly      MetricKind = "hourly"
)

// Date is a calendar day in "2006-01-02" form. Aggregation scopes are
// keyed by calendar day, never by instant.
type Date string

// DateOf returns the calendar day of t in t's location.
func DateOf(t time.Time) Date {
	return Date(t.Format("2006-01-02"))
}

// Key uniquely identifies one aggregate.
type Key struct {
	StoreID int64      `json:"store_id"`
	Date    Date       `json:"date"`
	Metric  MetricKind `json:"metric"`
}

// ProductRank is one entry of the top-products metric.
type ProductRank struct {
	ProductID string  `json:"product_id"`
	Revenue   float64 `json:"revenue"`
}

// HourBucket is one hour-of-day slice of the hourly distribution.
// Only hours that saw at least one record appear in an aggregate.
type HourBucket struct {
	Hour    int     `json:"hour"`
	Revenue float64 `json:"revenue"`
	Units   int64   `json:"units"`
}

// Aggregate is one materialized KPI value. Exactly one of the value
// fields is populated, according to Key.Metric.
type Aggregate struct {
	Key      Key           `json:"key"`
	Value    float64       `json:"value,omitempty"`
	Products []ProductRank `json:"products,omitempty"`
	Hours    []HourBucket  `json:"hours,omitempty"`
}

// Scalar returns the numeric value for scalar metrics. Top-products and
// hourly aggregates have no single comparable value.
func (a Aggregate) Scalar() (float64, bool) {
	switch a.Key.Metric {
	case MetricRevenue, MetricUnits, MetricReceipts, MetricAvgBasket:
		return a.Value, true
	default:
		return 0, false
	}
}
