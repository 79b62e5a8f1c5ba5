package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperatorCompare(t *testing.T) {
	tests := []struct {
		op        Operator
		value     float64
		threshold float64
		want      bool
	}{
		{OpGreater, 2, 1, true},
		{OpGreater, 1, 1, false},
		{OpLess, 800, 1000, true},
		{OpLess, 1000, 1000, false},
		{OpGreaterEqual, 1, 1, true},
		{OpGreaterEqual, 0.9, 1, false},
		{OpLessEqual, 1, 1, true},
		{OpLessEqual, 1.1, 1, false},
		{OpEqual, 5, 5, true},
		{OpEqual, 5, 6, false},
		{Operator("!="), 1, 2, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.Compare(tt.value, tt.threshold),
			"%v %s %v", tt.value, tt.op, tt.threshold)
	}
}

func TestScopeMatches(t *testing.T) {
	key := Key{StoreID: 5, Date: "2026-08-29", Metric: MetricRevenue}

	assert.True(t, Scope{}.Matches(key), "empty scope matches everything")
	assert.True(t, Scope{StoreID: 5}.Matches(key))
	assert.False(t, Scope{StoreID: 6}.Matches(key))
	assert.True(t, Scope{From: "2026-08-01", To: "2026-08-31"}.Matches(key))
	assert.False(t, Scope{From: "2026-09-01"}.Matches(key))
	assert.False(t, Scope{To: "2026-08-28"}.Matches(key))
}

func TestEvaluateAlertsLowRevenue(t *testing.T) {
	aggs := []Aggregate{
		{Key: Key{StoreID: 5, Date: "2026-08-29", Metric: MetricRevenue}, Value: 800},
		{Key: Key{StoreID: 5, Date: "2026-08-29", Metric: MetricUnits}, Value: 40},
	}
	rules := []Rule{{
		ID:        "low-revenue",
		Metric:    MetricRevenue,
		Operator:  OpLess,
		Threshold: 1000,
		Scope:     Scope{StoreID: 5},
		Severity:  SeverityWarning,
	}}

	candidates := EvaluateAlerts(aggs, rules)
	require.Len(t, candidates, 1)

	cand := candidates[0]
	assert.Equal(t, "low-revenue", cand.RuleID)
	assert.Equal(t, SeverityWarning, cand.Severity)
	assert.Equal(t, 800.0, cand.Value)
	assert.Equal(t, 1000.0, cand.Threshold)
	assert.Equal(t, MetricRevenue, cand.Key.Metric)
}

func TestEvaluateAlertsNoMatch(t *testing.T) {
	aggs := []Aggregate{
		{Key: Key{StoreID: 5, Date: "2026-08-29", Metric: MetricRevenue}, Value: 1500},
	}
	rules := []Rule{{
		ID: "low-revenue", Metric: MetricRevenue, Operator: OpLess, Threshold: 1000,
	}}

	assert.Empty(t, EvaluateAlerts(aggs, rules))
}

func TestEvaluateAlertsScopeExcludes(t *testing.T) {
	aggs := []Aggregate{
		{Key: Key{StoreID: 7, Date: "2026-08-29", Metric: MetricRevenue}, Value: 800},
	}
	rules := []Rule{{
		ID: "low-revenue", Metric: MetricRevenue, Operator: OpLess, Threshold: 1000,
		Scope: Scope{StoreID: 5},
	}}

	assert.Empty(t, EvaluateAlerts(aggs, rules))
}

func TestEvaluateAlertsSkipsNonScalar(t *testing.T) {
	aggs := []Aggregate{
		{Key: Key{StoreID: 5, Date: "2026-08-29", Metric: MetricTopProducts},
			Products: []ProductRank{{ProductID: "SKU-A", Revenue: 10}}},
		{Key: Key{StoreID: 5, Date: "2026-08-29", Metric: MetricHourly},
			Hours: []HourBucket{{Hour: 9, Revenue: 10, Units: 1}}},
	}
	rules := []Rule{
		{ID: "r1", Metric: MetricTopProducts, Operator: OpGreater, Threshold: 0},
		{ID: "r2", Metric: MetricHourly, Operator: OpGreater, Threshold: 0},
	}

	assert.Empty(t, EvaluateAlerts(aggs, rules))
}

func TestEvaluateAlertsMultipleRules(t *testing.T) {
	aggs := []Aggregate{
		{Key: Key{StoreID: 5, Date: "2026-08-29", Metric: MetricRevenue}, Value: 800},
		{Key: Key{StoreID: 5, Date: "2026-08-29", Metric: MetricReceipts}, Value: 3},
	}
	rules := []Rule{
		{ID: "low-revenue", Metric: MetricRevenue, Operator: OpLess, Threshold: 1000, Severity: SeverityWarning},
		{ID: "low-traffic", Metric: MetricReceipts, Operator: OpLess, Threshold: 10, Severity: SeverityCritical},
		{ID: "high-revenue", Metric: MetricRevenue, Operator: OpGreater, Threshold: 10000, Severity: SeverityInfo},
	}

	candidates := EvaluateAlerts(aggs, rules)
	require.Len(t, candidates, 2)
	assert.Equal(t, "low-revenue", candidates[0].RuleID)
	assert.Equal(t, "low-traffic", candidates[1].RuleID)
}
