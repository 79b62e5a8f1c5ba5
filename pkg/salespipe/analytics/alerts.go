package analytics

// Severity grades how urgent a triggered alert is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Operator compares an aggregate value against a rule threshold.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "=="
)

// Compare reports whether value op threshold holds. Unknown operators
// never match.
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpGreater:
		return value > threshold
	case OpLess:
		return value < threshold
	case OpGreaterEqual:
		return value >= threshold
	case OpLessEqual:
		return value <= threshold
	case OpEqual:
		return value == threshold
	default:
		return false
	}
}

// Scope restricts which aggregates a rule applies to.
// StoreID 0 matches every store; empty From/To leave the range open.
type Scope struct {
	StoreID int64 `json:"store_id,omitempty" yaml:"store_id,omitempty"`
	From    Date  `json:"from,omitempty" yaml:"from,omitempty"`
	To      Date  `json:"to,omitempty" yaml:"to,omitempty"`
}

// Matches reports whether the key falls inside the scope. Date strings
// compare lexically, which matches chronological order for the
// "2006-01-02" form.
func (s Scope) Matches(key Key) bool {
	if s.StoreID != 0 && s.StoreID != key.StoreID {
		return false
	}
	if s.From != "" && key.Date < s.From {
		return false
	}
	if s.To != "" && key.Date > s.To {
		return false
	}
	return true
}

// Rule is one configured alert condition.
type Rule struct {
	ID        string     `json:"id" yaml:"id"`
	Metric    MetricKind `json:"metric" yaml:"metric"`
	Operator  Operator   `json:"operator" yaml:"operator"`
	Threshold float64    `json:"threshold" yaml:"threshold"`
	Scope     Scope      `json:"scope,omitempty" yaml:"scope,omitempty"`
	Severity  Severity   `json:"severity" yaml:"severity"`
}

// AlertCandidate is a rule that fired against a fresh aggregate. It is
// emitted and published, never persisted by this package.
type AlertCandidate struct {
	RuleID    string   `json:"rule_id"`
	Key       Key      `json:"key"`
	Value     float64  `json:"value"`
	Operator  Operator `json:"operator"`
	Threshold float64  `json:"threshold"`
	Severity  Severity `json:"severity"`
}

// EvaluateAlerts checks every rule against every scalar aggregate and
// returns one candidate per (rule, aggregate) pair whose comparison
// holds. Non-scalar metrics (top products, hourly) are never compared.
// Evaluation has no side effects.
func EvaluateAlerts(aggregates []Aggregate, rules []Rule) []AlertCandidate {
	var candidates []AlertCandidate
	for _, rule := range rules {
		for _, agg := range aggregates {
			if agg.Key.Metric != rule.Metric {
				continue
			}
			value, ok := agg.Scalar()
			if !ok {
				continue
			}
			if !rule.Scope.Matches(agg.Key) {
				continue
			}
			if !rule.Operator.Compare(value, rule.Threshold) {
				continue
			}
			candidates = append(candidates, AlertCandidate{
				RuleID:    rule.ID,
				Key:       agg.Key,
				Value:     value,
				Operator:  rule.Operator,
				Threshold: rule.Threshold,
				Severity:  rule.Severity,
			})
		}
	}
	return candidates
}
