package repository

import (
	"context"
	"time"

	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// MetricRepo defines metric definition data access methods.
type MetricRepo interface {
	Create(ctx context.Context, m *models.Metric) error
	GetByID(ctx context.Context, id int64) (*models.Metric, error)
	GetByName(ctx context.Context, name string) (*models.Metric, error)
	List(ctx context.Context, filter models.MetricFilter) ([]*models.Metric, error)
	Update(ctx context.Context, m *models.Metric) error
	// Delete removes the metric and cascades to its samples.
	Delete(ctx context.Context, id int64) error
}

// SampleRepo defines append-only sample data access methods. Samples are
// never updated; retention pruning is the only delete path.
type SampleRepo interface {
	Append(ctx context.Context, s *models.Sample) error
	// ListRange returns samples for one metric in [from, to), ordered by
	// timestamp then id.
	ListRange(ctx context.Context, metricID int64, from, to time.Time) ([]*models.Sample, error)
	// Latest returns the newest sample for the metric, or nil when none exist.
	Latest(ctx context.Context, metricID int64) (*models.Sample, error)
	// PruneBefore deletes samples older than before, except the newest sample
	// of each (metric_id, labels_hash) series, which is kept as the anchor
	// for open-window rate computation. Returns the number of rows removed.
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

// EventRepo defines event data access methods.
type EventRepo interface {
	Create(ctx context.Context, e *models.Event) error
	Get(ctx context.Context, id string) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter) ([]*models.Event, error)
	// PruneBefore deletes events older than before. Returns rows removed.
	PruneBefore(ctx context.Context, before time.Time) (int64, error)
}

// DashboardRepo defines dashboard data access methods.
type DashboardRepo interface {
	Create(ctx context.Context, d *models.Dashboard) error
	Get(ctx context.Context, id string) (*models.Dashboard, error)
	List(ctx context.Context, userID string) ([]*models.Dashboard, error)
	Update(ctx context.Context, d *models.Dashboard) error
	// Delete removes the dashboard and cascades to its widgets.
	Delete(ctx context.Context, id string) error
	// ClearDefault unsets is_default on every dashboard of the owner, so a
	// new default can be set without violating the one-default invariant.
	ClearDefault(ctx context.Context, userID string) error
}

// WidgetRepo defines widget data access methods.
type WidgetRepo interface {
	Create(ctx context.Context, w *models.Widget) error
	Get(ctx context.Context, id string) (*models.Widget, error)
	ListByDashboard(ctx context.Context, dashboardID string) ([]*models.Widget, error)
	Update(ctx context.Context, w *models.Widget) error
	Delete(ctx context.Context, id string) error
}

// ReportRepo defines report data access methods.
type ReportRepo interface {
	Create(ctx context.Context, r *models.Report) error
	Get(ctx context.Context, id string) (*models.Report, error)
	List(ctx context.Context, filter models.ReportFilter) ([]*models.Report, error)
	Update(ctx context.Context, r *models.Report) error
	Delete(ctx context.Context, id string) error
}

// AlertRepo defines alert data access methods.
type AlertRepo interface {
	Create(ctx context.Context, a *models.Alert) error
	Get(ctx context.Context, id string) (*models.Alert, error)
	List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error)
	Update(ctx context.Context, a *models.Alert) error
	Delete(ctx context.Context, id string) error
}

// Pinger exposes database liveness for the readiness probe and the
// dependency health check.
type Pinger interface {
	Ping(ctx context.Context) error
	// Stats reports the number of open connections for telemetry gauges.
	Stats() (openConns int)
}

// Repository aggregates all repository ports.
type Repository struct {
	Metrics    MetricRepo
	Samples    SampleRepo
	Events     EventRepo
	Dashboards DashboardRepo
	Widgets    WidgetRepo
	Reports    ReportRepo
	Alerts     AlertRepo
}
