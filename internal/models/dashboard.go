package models

import (
	"encoding/json"
	"time"
)

// Dashboard is an owned, ordered set of widgets with persisted grid layout.
// At most one default dashboard per owner; deletion cascades to widgets.
type Dashboard struct {
	ID           string    `json:"id"            db:"id"`
	UserID       string    `json:"user_id"       db:"user_id"`
	Name         string    `json:"name"          db:"name"`
	Description  string    `json:"description"   db:"description"`
	LayoutConfig string    `json:"layout_config" db:"layout_config"` // JSON grid metadata, opaque to the engine
	IsPublic     bool      `json:"is_public"     db:"is_public"`
	IsDefault    bool      `json:"is_default"    db:"is_default"`
	CreatedAt    time.Time `json:"created_at"    db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"    db:"updated_at"`
}

// WidgetKind selects how a widget's binding is resolved and shaped.
type WidgetKind string

const (
	WidgetMetricCard   WidgetKind = "metric_card"
	WidgetChart        WidgetKind = "chart"
	WidgetTable        WidgetKind = "table"
	WidgetActivityFeed WidgetKind = "activity_feed"
)

// Valid reports whether k is a known widget kind.
func (k WidgetKind) Valid() bool {
	switch k {
	case WidgetMetricCard, WidgetChart, WidgetTable, WidgetActivityFeed:
		return true
	default:
		return false
	}
}

// Widget is one renderable cell of a dashboard. Grid cells must not overlap
// within a dashboard and 1 <= W,H <= 12.
type Widget struct {
	ID          string       `json:"id"           db:"id"`
	DashboardID string       `json:"dashboard_id" db:"dashboard_id"`
	Kind        WidgetKind   `json:"widget_kind"  db:"widget_kind"`
	Title       string       `json:"title"        db:"title"`
	GridX       int          `json:"x"            db:"grid_x"`
	GridY       int          `json:"y"            db:"grid_y"`
	GridW       int          `json:"w"            db:"grid_w"`
	GridH       int          `json:"h"            db:"grid_h"`
	Config      WidgetConfig `json:"config"       db:"-"`
	ConfigRaw   string       `json:"-"            db:"config"` // JSON-encoded, stored in DB
	Position    int          `json:"position"     db:"position"`
	CreatedAt   time.Time    `json:"created_at"   db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"   db:"updated_at"`
}

// WidgetConfig is the widget's data binding, resolved at render time.
type WidgetConfig struct {
	MetricName string            `json:"metric_name,omitempty"`
	LabelMatch map[string]string `json:"label_match,omitempty"`
	Agg        Aggregation       `json:"agg,omitempty"`
	WindowSec  int               `json:"window_sec,omitempty"`
	BucketSec  int               `json:"bucket_sec,omitempty"`
	GroupBy    string            `json:"group_by,omitempty"` // table widgets: label key for top-k
	TopK       int               `json:"top_k,omitempty"`
	ChartType  string            `json:"chart_type,omitempty"` // line, bar, area
	Format     string            `json:"format,omitempty"`     // number, percent, bytes, duration
	EventType  string            `json:"event_type,omitempty"` // activity_feed widgets
	Limit      int               `json:"limit,omitempty"`
}

// EncodeConfig serializes Config into ConfigRaw for storage.
func (w *Widget) EncodeConfig() error {
	b, err := json.Marshal(w.Config)
	if err != nil {
		return err
	}
	w.ConfigRaw = string(b)
	return nil
}

// DecodeConfig populates Config from ConfigRaw after a read.
func (w *Widget) DecodeConfig() error {
	if w.ConfigRaw == "" {
		return nil
	}
	return json.Unmarshal([]byte(w.ConfigRaw), &w.Config)
}

// Overlaps reports whether two widgets occupy intersecting grid rectangles.
func (w *Widget) Overlaps(other *Widget) bool {
	if w.GridX+w.GridW <= other.GridX || other.GridX+other.GridW <= w.GridX {
		return false
	}
	if w.GridY+w.GridH <= other.GridY || other.GridY+other.GridH <= w.GridY {
		return false
	}
	return true
}
