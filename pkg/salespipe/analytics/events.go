package analytics

// Event types published by the materializer.
const (
	EventKPIComputed  = "kpi.computed"
	EventAlertCreated = "alert.created"
)

// KPIComputed is published once per materialized (store, date) scope with
// the scalar metric snapshot.
type KPIComputed struct {
	StoreID   int64   `json:"store_id"`
	Date      Date    `json:"date"`
	Revenue   float64 `json:"revenue"`
	Units     float64 `json:"units"`
	Receipts  float64 `json:"receipts"`
	AvgBasket float64 `json:"avg_basket"`
}

// AlertCreated is published once per triggered alert candidate.
type AlertCreated struct {
	RuleID    string   `json:"rule_id"`
	StoreID   int64    `json:"store_id"`
	Date      Date     `json:"date"`
	Metric    string   `json:"metric"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
	Severity  Severity `json:"severity"`
}
