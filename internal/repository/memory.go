package repository

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// Memory implements every repository port on process-local maps. It mirrors
// the SQL repositories' ordering and error semantics and backs the engine
// test suites, so behaviour asserted against it holds against the real
// drivers too.
type Memory struct {
	mu sync.Mutex

	metrics      map[int64]*models.Metric
	nextMetricID int64

	samples      []*models.Sample
	nextSampleID int64

	events     map[string]*models.Event
	dashboards map[string]*models.Dashboard
	widgets    map[string]*models.Widget
	reports    map[string]*models.Report
	alerts     map[string]*models.Alert
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		metrics:    map[int64]*models.Metric{},
		events:     map[string]*models.Event{},
		dashboards: map[string]*models.Dashboard{},
		widgets:    map[string]*models.Widget{},
		reports:    map[string]*models.Report{},
		alerts:     map[string]*models.Alert{},
	}
}

// Ports bundles the in-memory ports.
func (m *Memory) Ports() *Repository {
	return &Repository{
		Metrics:    memMetrics{m},
		Samples:    memSamples{m},
		Events:     memEvents{m},
		Dashboards: memDashboards{m},
		Widgets:    memWidgets{m},
		Reports:    memReports{m},
		Alerts:     memAlerts{m},
	}
}

// Ping always succeeds; Memory has no connection to lose.
func (m *Memory) Ping(ctx context.Context) error { return nil }

// Stats reports a single logical connection.
func (m *Memory) Stats() int { return 1 }

type memMetrics struct{ m *Memory }

func (r memMetrics) Create(ctx context.Context, md *models.Metric) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, existing := range r.m.metrics {
		if existing.Name == md.Name {
			return apperr.DuplicateName("metric", md.Name)
		}
	}
	r.m.nextMetricID++
	md.ID = r.m.nextMetricID
	cp := *md
	r.m.metrics[md.ID] = &cp
	return nil
}

func (r memMetrics) GetByID(ctx context.Context, id int64) (*models.Metric, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	md, ok := r.m.metrics[id]
	if !ok {
		return nil, apperr.NotFound("metric", strconv.FormatInt(id, 10))
	}
	cp := *md
	return &cp, nil
}

func (r memMetrics) GetByName(ctx context.Context, name string) (*models.Metric, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, md := range r.m.metrics {
		if md.Name == name {
			cp := *md
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("metric", name)
}

func (r memMetrics) List(ctx context.Context, filter models.MetricFilter) ([]*models.Metric, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Metric
	for _, md := range r.m.metrics {
		if filter.Kind != "" && md.Kind != filter.Kind {
			continue
		}
		if filter.Category != "" && md.Category != filter.Category {
			continue
		}
		cp := *md
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r memMetrics) Update(ctx context.Context, md *models.Metric) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.metrics[md.ID]; !ok {
		return apperr.NotFound("metric", strconv.FormatInt(md.ID, 10))
	}
	cp := *md
	r.m.metrics[md.ID] = &cp
	return nil
}

func (r memMetrics) Delete(ctx context.Context, id int64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.metrics[id]; !ok {
		return apperr.NotFound("metric", strconv.FormatInt(id, 10))
	}
	delete(r.m.metrics, id)
	kept := r.m.samples[:0]
	for _, s := range r.m.samples {
		if s.MetricID != id {
			kept = append(kept, s)
		}
	}
	r.m.samples = kept
	return nil
}

type memSamples struct{ m *Memory }

func (r memSamples) Append(ctx context.Context, s *models.Sample) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.nextSampleID++
	s.ID = r.m.nextSampleID
	cp := *s
	r.m.samples = append(r.m.samples, &cp)
	return nil
}

func (r memSamples) ListRange(ctx context.Context, metricID int64, from, to time.Time) ([]*models.Sample, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Sample
	for _, s := range r.m.samples {
		if s.MetricID != metricID {
			continue
		}
		if s.Timestamp.Before(from) || !s.Timestamp.Before(to) {
			continue
		}
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (r memSamples) Latest(ctx context.Context, metricID int64) (*models.Sample, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var latest *models.Sample
	for _, s := range r.m.samples {
		if s.MetricID != metricID {
			continue
		}
		if latest == nil || s.Timestamp.After(latest.Timestamp) ||
			(s.Timestamp.Equal(latest.Timestamp) && s.ID > latest.ID) {
			latest = s
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r memSamples) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	type series struct {
		metricID int64
		hash     uint64
	}
	anchors := map[series]int64{}
	for _, s := range r.m.samples {
		if !s.Timestamp.Before(before) {
			continue
		}
		key := series{s.MetricID, s.LabelsHash}
		if s.ID > anchors[key] {
			anchors[key] = s.ID
		}
	}
	var removed int64
	kept := r.m.samples[:0]
	for _, s := range r.m.samples {
		key := series{s.MetricID, s.LabelsHash}
		if s.Timestamp.Before(before) && s.ID != anchors[key] {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	r.m.samples = kept
	return removed, nil
}

type memEvents struct{ m *Memory }

func (r memEvents) Create(ctx context.Context, e *models.Event) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	cp := *e
	r.m.events[e.ID] = &cp
	return nil
}

func (r memEvents) Get(ctx context.Context, id string) (*models.Event, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	e, ok := r.m.events[id]
	if !ok {
		return nil, apperr.NotFound("event", id)
	}
	cp := *e
	return &cp, nil
}

func (r memEvents) List(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Event
	for _, e := range r.m.events {
		if filter.EventType != "" && e.EventType != filter.EventType {
			continue
		}
		if filter.UserID != "" && e.UserID != filter.UserID {
			continue
		}
		if !filter.Since.IsZero() && e.Timestamp.Before(filter.Since) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memEvents) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var removed int64
	for id, e := range r.m.events {
		if e.Timestamp.Before(before) {
			delete(r.m.events, id)
			removed++
		}
	}
	return removed, nil
}

type memDashboards struct{ m *Memory }

func (r memDashboards) Create(ctx context.Context, d *models.Dashboard) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	cp := *d
	r.m.dashboards[d.ID] = &cp
	return nil
}

func (r memDashboards) Get(ctx context.Context, id string) (*models.Dashboard, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	d, ok := r.m.dashboards[id]
	if !ok {
		return nil, apperr.NotFound("dashboard", id)
	}
	cp := *d
	return &cp, nil
}

func (r memDashboards) List(ctx context.Context, userID string) ([]*models.Dashboard, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Dashboard
	for _, d := range r.m.dashboards {
		if d.UserID == userID || d.IsPublic {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memDashboards) Update(ctx context.Context, d *models.Dashboard) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.dashboards[d.ID]; !ok {
		return apperr.NotFound("dashboard", d.ID)
	}
	cp := *d
	r.m.dashboards[d.ID] = &cp
	return nil
}

func (r memDashboards) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.dashboards[id]; !ok {
		return apperr.NotFound("dashboard", id)
	}
	delete(r.m.dashboards, id)
	for wid, w := range r.m.widgets {
		if w.DashboardID == id {
			delete(r.m.widgets, wid)
		}
	}
	return nil
}

func (r memDashboards) ClearDefault(ctx context.Context, userID string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, d := range r.m.dashboards {
		if d.UserID == userID {
			d.IsDefault = false
		}
	}
	return nil
}

type memWidgets struct{ m *Memory }

func (r memWidgets) Create(ctx context.Context, w *models.Widget) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	cp := *w
	r.m.widgets[w.ID] = &cp
	return nil
}

func (r memWidgets) Get(ctx context.Context, id string) (*models.Widget, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	w, ok := r.m.widgets[id]
	if !ok {
		return nil, apperr.NotFound("widget", id)
	}
	cp := *w
	return &cp, nil
}

func (r memWidgets) ListByDashboard(ctx context.Context, dashboardID string) ([]*models.Widget, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Widget
	for _, w := range r.m.widgets {
		if w.DashboardID == dashboardID {
			cp := *w
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r memWidgets) Update(ctx context.Context, w *models.Widget) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.widgets[w.ID]; !ok {
		return apperr.NotFound("widget", w.ID)
	}
	cp := *w
	r.m.widgets[w.ID] = &cp
	return nil
}

func (r memWidgets) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.widgets[id]; !ok {
		return apperr.NotFound("widget", id)
	}
	delete(r.m.widgets, id)
	return nil
}

type memReports struct{ m *Memory }

func (r memReports) Create(ctx context.Context, rep *models.Report) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	cp := *rep
	r.m.reports[rep.ID] = &cp
	return nil
}

func (r memReports) Get(ctx context.Context, id string) (*models.Report, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rep, ok := r.m.reports[id]
	if !ok {
		return nil, apperr.NotFound("report", id)
	}
	cp := *rep
	return &cp, nil
}

func (r memReports) List(ctx context.Context, filter models.ReportFilter) ([]*models.Report, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Report
	for _, rep := range r.m.reports {
		if filter.Status != "" && rep.Status != filter.Status {
			continue
		}
		if filter.CreatedBy != "" && rep.CreatedBy != filter.CreatedBy {
			continue
		}
		if !filter.DueBefore.IsZero() {
			if rep.NextRun == nil || rep.NextRun.After(filter.DueBefore) {
				continue
			}
		}
		cp := *rep
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memReports) Update(ctx context.Context, rep *models.Report) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.reports[rep.ID]; !ok {
		return apperr.NotFound("report", rep.ID)
	}
	cp := *rep
	r.m.reports[rep.ID] = &cp
	return nil
}

func (r memReports) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.reports[id]; !ok {
		return apperr.NotFound("report", id)
	}
	delete(r.m.reports, id)
	return nil
}

type memAlerts struct{ m *Memory }

func (r memAlerts) Create(ctx context.Context, a *models.Alert) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.RuleID == "" {
		a.RuleID = a.ID
	}
	cp := *a
	r.m.alerts[a.ID] = &cp
	return nil
}

func (r memAlerts) Get(ctx context.Context, id string) (*models.Alert, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.alerts[id]
	if !ok {
		return nil, apperr.NotFound("alert", id)
	}
	cp := *a
	return &cp, nil
}

func (r memAlerts) List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*models.Alert
	for _, a := range r.m.alerts {
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, a.Status) {
			continue
		}
		if filter.Priority != "" && a.Priority != filter.Priority {
			continue
		}
		if filter.CreatedBy != "" && a.CreatedBy != filter.CreatedBy {
			continue
		}
		if filter.RuleID != "" && a.RuleID != filter.RuleID {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r memAlerts) Update(ctx context.Context, a *models.Alert) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.alerts[a.ID]; !ok {
		return apperr.NotFound("alert", a.ID)
	}
	cp := *a
	r.m.alerts[a.ID] = &cp
	return nil
}

func (r memAlerts) Delete(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.alerts[id]; !ok {
		return apperr.NotFound("alert", id)
	}
	delete(r.m.alerts, id)
	return nil
}

func containsStatus(statuses []models.AlertStatus, s models.AlertStatus) bool {
	for _, candidate := range statuses {
		if candidate == s {
			return true
		}
	}
	return false
}
