// Package models defines the canonical analytics domain model for Pulseboard.
// All time-series queries are keyed by metric id plus a label match; no
// metric-specific branching outside the registry.
package models

import (
	"encoding/json"
	"time"
)

// MetricKind is the statistical behaviour of a metric's samples.
type MetricKind string

const (
	// MetricCounter values are cumulative and non-decreasing per label set;
	// a strictly smaller value starts a new series segment (counter reset).
	MetricCounter MetricKind = "counter"
	// MetricGauge values are point-in-time readings.
	MetricGauge MetricKind = "gauge"
)

// Valid reports whether k is a known metric kind.
func (k MetricKind) Valid() bool {
	return k == MetricCounter || k == MetricGauge
}

// Metric is a registered metric definition. Kind is immutable after creation;
// Name is globally unique. Deleting a metric cascades to its samples.
type Metric struct {
	ID          int64      `json:"id"          db:"id"`
	Name        string     `json:"name"        db:"name"`
	Kind        MetricKind `json:"kind"        db:"kind"`
	Unit        string     `json:"unit"        db:"unit"`
	Description string     `json:"description" db:"description"`
	Category    string     `json:"category"    db:"category"`
	// LabelSchema is the set of permitted label keys. Empty means any keys
	// are accepted.
	LabelSchema    []string  `json:"label_schema,omitempty" db:"-"`
	LabelSchemaRaw string    `json:"-"                      db:"label_schema"` // JSON-encoded, stored in DB
	CreatedAt      time.Time `json:"created_at"             db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"             db:"updated_at"`
}

// EncodeLabelSchema serializes LabelSchema into LabelSchemaRaw for storage.
func (m *Metric) EncodeLabelSchema() error {
	if len(m.LabelSchema) == 0 {
		m.LabelSchemaRaw = "[]"
		return nil
	}
	b, err := json.Marshal(m.LabelSchema)
	if err != nil {
		return err
	}
	m.LabelSchemaRaw = string(b)
	return nil
}

// DecodeLabelSchema populates LabelSchema from LabelSchemaRaw after a read.
func (m *Metric) DecodeLabelSchema() error {
	if m.LabelSchemaRaw == "" || m.LabelSchemaRaw == "[]" {
		m.LabelSchema = nil
		return nil
	}
	return json.Unmarshal([]byte(m.LabelSchemaRaw), &m.LabelSchema)
}

// AllowsLabels reports whether the given label keys are permitted by the
// metric's label schema. An empty schema permits everything.
func (m *Metric) AllowsLabels(labels map[string]string) bool {
	if len(m.LabelSchema) == 0 {
		return true
	}
	allowed := make(map[string]bool, len(m.LabelSchema))
	for _, k := range m.LabelSchema {
		allowed[k] = true
	}
	for k := range labels {
		if !allowed[k] {
			return false
		}
	}
	return true
}

// MetricFilter narrows registry listings.
type MetricFilter struct {
	Kind     MetricKind
	Category string
}
