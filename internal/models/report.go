package models

import (
	"encoding/json"
	"time"
)

// ReportSchedule is the normalized recurrence of a report. Cron-like
// expressions are carried separately in Report.ScheduleCron.
type ReportSchedule string

const (
	ScheduleNone    ReportSchedule = "none"
	ScheduleDaily   ReportSchedule = "daily"
	ScheduleWeekly  ReportSchedule = "weekly"
	ScheduleMonthly ReportSchedule = "monthly"
	// ScheduleCron defers to Report.ScheduleCron, parsed as a cron expression.
	ScheduleCron ReportSchedule = "cron"
)

// Valid reports whether s is a known schedule.
func (s ReportSchedule) Valid() bool {
	switch s {
	case ScheduleNone, ScheduleDaily, ScheduleWeekly, ScheduleMonthly, ScheduleCron:
		return true
	default:
		return false
	}
}

// ReportStatus gates scheduled execution.
type ReportStatus string

const (
	ReportActive ReportStatus = "active"
	ReportPaused ReportStatus = "paused"
)

// Report is a named, parameterized materialization of metric queries.
// Invariant: if Schedule != none then NextRun is set after creation and
// after every run.
type Report struct {
	ID            string            `json:"id"           db:"id"`
	Name          string            `json:"name"         db:"name"`
	ReportType    string            `json:"report_type"  db:"report_type"`
	Parameters    map[string]string `json:"parameters,omitempty" db:"-"`
	ParametersRaw string            `json:"-"            db:"parameters"` // JSON-encoded, stored in DB
	Schedule      ReportSchedule    `json:"schedule"     db:"schedule"`
	ScheduleCron  string            `json:"schedule_cron,omitempty" db:"schedule_cron"`
	Status        ReportStatus      `json:"status"       db:"status"`
	IsPublic      bool              `json:"is_public"    db:"is_public"`
	CreatedBy     string            `json:"created_by"   db:"created_by"`
	LastRun       *time.Time        `json:"last_run,omitempty" db:"last_run"`
	NextRun       *time.Time        `json:"next_run,omitempty" db:"next_run"`
	// FailCount is the number of consecutive handler failures, drives backoff.
	FailCount int       `json:"fail_count" db:"fail_count"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// EncodeParameters serializes Parameters into ParametersRaw for storage.
func (r *Report) EncodeParameters() error {
	if len(r.Parameters) == 0 {
		r.ParametersRaw = "{}"
		return nil
	}
	b, err := json.Marshal(r.Parameters)
	if err != nil {
		return err
	}
	r.ParametersRaw = string(b)
	return nil
}

// DecodeParameters populates Parameters from ParametersRaw after a read.
func (r *Report) DecodeParameters() error {
	if r.ParametersRaw == "" || r.ParametersRaw == "{}" {
		r.Parameters = nil
		return nil
	}
	return json.Unmarshal([]byte(r.ParametersRaw), &r.Parameters)
}

// ReportArtifact is the opaque structured output of one report run.
type ReportArtifact struct {
	ReportID    string                 `json:"report_id"`
	ReportType  string                 `json:"report_type"`
	GeneratedAt time.Time              `json:"generated_at"`
	WindowFrom  time.Time              `json:"window_from"`
	WindowTo    time.Time              `json:"window_to"`
	Summary     map[string]float64     `json:"summary,omitempty"`
	Sections    []ReportSection        `json:"sections,omitempty"`
	Insights    []string               `json:"insights,omitempty"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// ReportSection is one titled block of detailed metrics inside an artifact.
type ReportSection struct {
	Title  string        `json:"title"`
	Series []BucketValue `json:"series,omitempty"`
	Rows   []GroupValue  `json:"rows,omitempty"`
}

// GroupValue is a (label group, value) pair, used by top-k answers.
type GroupValue struct {
	Group string  `json:"group"`
	Value float64 `json:"value"`
}

// ReportFilter narrows report listings.
type ReportFilter struct {
	Status    ReportStatus
	CreatedBy string
	DueBefore time.Time // non-zero: only reports with next_run <= DueBefore
}
