// Package dashboard manages dashboards and widgets and renders widget data by
// resolving each widget's binding against the aggregation engine. A broken
// binding never fails the whole render; the widget carries an error tag.
package dashboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/pulseboard/pulseboard-backend/internal/aggregate"
	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/ingest"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/registry"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
)

const (
	defaultWindow = time.Hour
	defaultBucket = time.Minute
	defaultFeed   = 20
	maxGridSpan   = 12
)

// Engine owns dashboard and widget lifecycle plus rendering.
type Engine struct {
	dashboards repository.DashboardRepo
	widgets    repository.WidgetRepo
	agg        *aggregate.Engine
	reg        *registry.Registry
	events     *ingest.Ingestor
	clk        clock.Clock
	logger     *slog.Logger
}

// New creates a dashboard engine.
func New(dashboards repository.DashboardRepo, widgets repository.WidgetRepo, agg *aggregate.Engine, reg *registry.Registry, events *ingest.Ingestor, clk clock.Clock, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		dashboards: dashboards,
		widgets:    widgets,
		agg:        agg,
		reg:        reg,
		events:     events,
		clk:        clk,
		logger:     logger,
	}
}

// Create persists a new dashboard. Setting IsDefault clears the owner's
// previous default first.
func (e *Engine) Create(ctx context.Context, d *models.Dashboard) (*models.Dashboard, error) {
	if d.Name == "" {
		return nil, apperr.Invalid("name", "must not be empty")
	}
	if d.UserID == "" {
		return nil, apperr.Invalid("user_id", "must not be empty")
	}
	now := e.clk.Now()
	d.CreatedAt = now
	d.UpdatedAt = now
	if d.IsDefault {
		if err := e.dashboards.ClearDefault(ctx, d.UserID); err != nil {
			return nil, err
		}
	}
	if err := e.dashboards.Create(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Get returns a dashboard visible to viewer: public, or owned by viewer.
func (e *Engine) Get(ctx context.Context, id, viewer string) (*models.Dashboard, error) {
	d, err := e.dashboards.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.IsPublic && d.UserID != viewer {
		return nil, apperr.Forbidden("dashboard is private")
	}
	return d, nil
}

// List returns the viewer's dashboards plus public ones.
func (e *Engine) List(ctx context.Context, viewer string) ([]*models.Dashboard, error) {
	return e.dashboards.List(ctx, viewer)
}

// Widgets lists a dashboard's widgets, subject to the same visibility rule
// as Get.
func (e *Engine) Widgets(ctx context.Context, dashboardID, viewer string) ([]*models.Widget, error) {
	if _, err := e.Get(ctx, dashboardID, viewer); err != nil {
		return nil, err
	}
	return e.widgets.ListByDashboard(ctx, dashboardID)
}

// Update mutates a dashboard. Only the owner may update.
func (e *Engine) Update(ctx context.Context, d *models.Dashboard, actor string) error {
	existing, err := e.dashboards.Get(ctx, d.ID)
	if err != nil {
		return err
	}
	if existing.UserID != actor {
		return apperr.Forbidden("only the owner can update a dashboard")
	}
	d.UserID = existing.UserID
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = e.clk.Now()
	if d.IsDefault && !existing.IsDefault {
		if err := e.dashboards.ClearDefault(ctx, existing.UserID); err != nil {
			return err
		}
	}
	return e.dashboards.Update(ctx, d)
}

// Delete removes a dashboard and its widgets. Only the owner may delete.
func (e *Engine) Delete(ctx context.Context, id, actor string) error {
	existing, err := e.dashboards.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.UserID != actor {
		return apperr.Forbidden("only the owner can delete a dashboard")
	}
	return e.dashboards.Delete(ctx, id)
}

// AddWidget validates grid placement and binding, then persists the widget.
func (e *Engine) AddWidget(ctx context.Context, w *models.Widget, actor string) (*models.Widget, error) {
	d, err := e.dashboards.Get(ctx, w.DashboardID)
	if err != nil {
		return nil, err
	}
	if d.UserID != actor {
		return nil, apperr.Forbidden("only the owner can add widgets")
	}
	if err := e.validateWidget(ctx, w, ""); err != nil {
		return nil, err
	}
	now := e.clk.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	if err := w.EncodeConfig(); err != nil {
		return nil, apperr.Invalid("config", err.Error())
	}
	if err := e.widgets.Create(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// UpdateWidget revalidates placement against the widget's siblings.
func (e *Engine) UpdateWidget(ctx context.Context, w *models.Widget, actor string) error {
	existing, err := e.widgets.Get(ctx, w.ID)
	if err != nil {
		return err
	}
	d, err := e.dashboards.Get(ctx, existing.DashboardID)
	if err != nil {
		return err
	}
	if d.UserID != actor {
		return apperr.Forbidden("only the owner can update widgets")
	}
	w.DashboardID = existing.DashboardID
	w.CreatedAt = existing.CreatedAt
	w.UpdatedAt = e.clk.Now()
	if err := e.validateWidget(ctx, w, w.ID); err != nil {
		return err
	}
	if err := w.EncodeConfig(); err != nil {
		return apperr.Invalid("config", err.Error())
	}
	return e.widgets.Update(ctx, w)
}

// DeleteWidget removes one widget. Only the dashboard owner may delete.
func (e *Engine) DeleteWidget(ctx context.Context, id, actor string) error {
	existing, err := e.widgets.Get(ctx, id)
	if err != nil {
		return err
	}
	d, err := e.dashboards.Get(ctx, existing.DashboardID)
	if err != nil {
		return err
	}
	if d.UserID != actor {
		return apperr.Forbidden("only the owner can delete widgets")
	}
	return e.widgets.Delete(ctx, id)
}

// validateWidget checks kind, grid bounds and overlap against siblings.
// skipID excludes the widget itself when updating.
func (e *Engine) validateWidget(ctx context.Context, w *models.Widget, skipID string) error {
	if !w.Kind.Valid() {
		return apperr.Invalid("widget_kind", "unknown widget kind")
	}
	if w.GridW < 1 || w.GridW > maxGridSpan || w.GridH < 1 || w.GridH > maxGridSpan {
		return apperr.Invalid("grid", "w and h must be between 1 and 12")
	}
	if w.GridX < 0 || w.GridY < 0 {
		return apperr.Invalid("grid", "x and y must be non-negative")
	}
	siblings, err := e.widgets.ListByDashboard(ctx, w.DashboardID)
	if err != nil {
		return err
	}
	for _, s := range siblings {
		if s.ID == skipID {
			continue
		}
		if w.Overlaps(s) {
			return apperr.Invalid("grid", "overlap")
		}
	}
	return nil
}

// RenderedWidget pairs a widget with its resolved data. Data is nil and Error
// set when the binding cannot be resolved.
type RenderedWidget struct {
	Widget *models.Widget `json:"widget"`
	Data   interface{}    `json:"data"`
	Error  string         `json:"error,omitempty"`
}

// RenderResult is the full dashboard payload.
type RenderResult struct {
	Dashboard *models.Dashboard `json:"dashboard"`
	Widgets   []RenderedWidget  `json:"widgets"`
}

// ChartData shapes a series for chart widgets.
type ChartData struct {
	ChartType string    `json:"chart_type"`
	Labels    []string  `json:"labels"`
	Datasets  []Dataset `json:"datasets"`
}

// Dataset is one plotted line or bar group.
type Dataset struct {
	Label string    `json:"label"`
	Data  []float64 `json:"data"`
}

// MetricCardData shapes a snapshot for metric-card widgets.
type MetricCardData struct {
	Value  *float64 `json:"value"`
	Unit   string   `json:"unit,omitempty"`
	Format string   `json:"format,omitempty"`
}

// Render resolves every widget binding. A widget referencing an unknown
// metric renders with nil data and an "unknown_metric" tag; the dashboard
// itself always renders.
func (e *Engine) Render(ctx context.Context, id, viewer string) (*RenderResult, error) {
	d, err := e.Get(ctx, id, viewer)
	if err != nil {
		return nil, err
	}
	widgets, err := e.widgets.ListByDashboard(ctx, id)
	if err != nil {
		return nil, err
	}
	out := &RenderResult{Dashboard: d, Widgets: make([]RenderedWidget, 0, len(widgets))}
	for _, w := range widgets {
		data, rerr := e.renderWidget(ctx, w)
		rw := RenderedWidget{Widget: w, Data: data}
		if rerr != nil {
			rw.Data = nil
			rw.Error = errorTag(rerr)
			e.logger.Warn("widget render failed", "dashboard_id", id, "widget_id", w.ID, "error", rerr)
		}
		out.Widgets = append(out.Widgets, rw)
	}
	return out, nil
}

func (e *Engine) renderWidget(ctx context.Context, w *models.Widget) (interface{}, error) {
	cfg := w.Config
	window := time.Duration(cfg.WindowSec) * time.Second
	if window <= 0 {
		window = defaultWindow
	}
	bucket := time.Duration(cfg.BucketSec) * time.Second
	if bucket <= 0 {
		bucket = defaultBucket
	}

	switch w.Kind {
	case models.WidgetActivityFeed:
		limit := cfg.Limit
		if limit <= 0 {
			limit = defaultFeed
		}
		return e.events.List(ctx, models.EventFilter{EventType: cfg.EventType, Limit: limit})

	case models.WidgetMetricCard:
		m, err := e.resolveMetric(ctx, cfg.MetricName)
		if err != nil {
			return nil, err
		}
		v, err := e.agg.Snapshot(ctx, m.ID, cfg.LabelMatch)
		if err != nil {
			return nil, err
		}
		return &MetricCardData{Value: v, Unit: m.Unit, Format: cfg.Format}, nil

	case models.WidgetChart:
		m, err := e.resolveMetric(ctx, cfg.MetricName)
		if err != nil {
			return nil, err
		}
		agg := cfg.Agg
		if agg == "" {
			// counter samples carry cumulative series values, so the last
			// value per bucket is the natural default for both kinds
			agg = models.AggLast
		}
		series, err := e.agg.Series(ctx, m.ID, cfg.LabelMatch, window, bucket, agg)
		if err != nil {
			return nil, err
		}
		cd := &ChartData{ChartType: cfg.ChartType, Datasets: []Dataset{{Label: m.Name}}}
		for _, bv := range series {
			cd.Labels = append(cd.Labels, bv.BucketStart.UTC().Format(time.RFC3339))
			cd.Datasets[0].Data = append(cd.Datasets[0].Data, bv.Value)
		}
		return cd, nil

	case models.WidgetTable:
		m, err := e.resolveMetric(ctx, cfg.MetricName)
		if err != nil {
			return nil, err
		}
		k := cfg.TopK
		if k <= 0 {
			k = 10
		}
		return e.agg.TopK(ctx, m.ID, cfg.GroupBy, k, window)

	default:
		return nil, apperr.Invalid("widget_kind", "unknown widget kind")
	}
}

func (e *Engine) resolveMetric(ctx context.Context, name string) (*models.Metric, error) {
	if name == "" {
		return nil, apperr.UnknownMetric("")
	}
	m, err := e.reg.GetByName(ctx, name)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.UnknownMetric(name)
		}
		return nil, err
	}
	return m, nil
}

// errorTag maps a render failure to the compact tag carried on the widget.
func errorTag(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindUnknownMetric:
		return "unknown_metric"
	case apperr.KindInvalid:
		return "invalid_binding"
	default:
		return "render_failed"
	}
}
