package models

import "time"

// AlertStatus is the lifecycle state of an alert instance.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertSilenced     AlertStatus = "silenced"
	// AlertPending is the initial state of a rule that has never fired.
	AlertPending AlertStatus = "pending"
)

// AlertPriority orders alerts for escalation. Escalation rewrites an aged
// active alert to the next higher priority, capped at critical.
type AlertPriority string

const (
	PriorityLow      AlertPriority = "low"
	PriorityMedium   AlertPriority = "medium"
	PriorityHigh     AlertPriority = "high"
	PriorityCritical AlertPriority = "critical"
)

// priorityRank orders priorities for escalation comparisons.
var priorityRank = map[AlertPriority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// Valid reports whether p is a known priority.
func (p AlertPriority) Valid() bool {
	_, ok := priorityRank[p]
	return ok
}

// Next returns the next higher priority, capped at critical.
func (p AlertPriority) Next() AlertPriority {
	switch p {
	case PriorityLow:
		return PriorityMedium
	case PriorityMedium:
		return PriorityHigh
	default:
		return PriorityCritical
	}
}

// Comparator relates a metric value to an alert threshold.
type Comparator string

const (
	CmpGT Comparator = ">"
	CmpGE Comparator = ">="
	CmpLT Comparator = "<"
	CmpLE Comparator = "<="
	CmpEQ Comparator = "=="
)

// Valid reports whether c is a known comparator.
func (c Comparator) Valid() bool {
	switch c {
	case CmpGT, CmpGE, CmpLT, CmpLE, CmpEQ:
		return true
	default:
		return false
	}
}

// Holds applies the comparator to (value, threshold).
func (c Comparator) Holds(value, threshold float64) bool {
	switch c {
	case CmpGT:
		return value > threshold
	case CmpGE:
		return value >= threshold
	case CmpLT:
		return value < threshold
	case CmpLE:
		return value <= threshold
	case CmpEQ:
		return value == threshold
	default:
		return false
	}
}

// AlertCondition names the metric and label subset an alert rule watches.
type AlertCondition struct {
	MetricName string            `json:"metric_name"`
	LabelMatch map[string]string `json:"label_match,omitempty"`
}

// Alert is a threshold rule plus the state of its current instance.
// Resolved is terminal: a re-trigger creates a new instance sharing RuleID.
type Alert struct {
	ID             string        `json:"id"          db:"id"`
	RuleID         string        `json:"rule_id"     db:"rule_id"`
	Name           string        `json:"name"        db:"name"`
	Description    string        `json:"description" db:"description"`
	Condition      AlertCondition `json:"condition"  db:"-"`
	ConditionRaw   string        `json:"-"           db:"condition"` // JSON-encoded, stored in DB
	Threshold      float64       `json:"threshold"   db:"threshold"`
	Comparator     Comparator    `json:"comparator"  db:"comparator"`
	Priority       AlertPriority `json:"priority"    db:"priority"`
	Status         AlertStatus   `json:"status"      db:"status"`
	CreatedBy      string        `json:"created_by"  db:"created_by"`
	DueDate        *time.Time    `json:"due_date,omitempty"       db:"due_date"`
	TriggeredCount int64         `json:"triggered_count"          db:"triggered_count"`
	LastTriggered  *time.Time    `json:"last_triggered,omitempty" db:"last_triggered"`
	// ConditionClearedAt marks when the condition first stopped holding while
	// the alert was active; resolution requires it to stay clear for the
	// cooldown window.
	ConditionClearedAt *time.Time `json:"-" db:"condition_cleared_at"`
	ResolvedAt         *time.Time `json:"resolved_at,omitempty"  db:"resolved_at"`
	AcknowledgedBy     string     `json:"acknowledged_by,omitempty" db:"acknowledged_by"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Statuses  []AlertStatus
	Priority  AlertPriority
	CreatedBy string
	RuleID    string
}
