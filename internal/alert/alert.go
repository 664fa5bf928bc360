// Package alert evaluates threshold rules against current metric values and
// drives the alert lifecycle: pending, active, acknowledged, silenced,
// resolved. Resolved is terminal; a re-trigger creates a new instance that
// shares the rule id.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pulseboard/pulseboard-backend/internal/aggregate"
	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/metrics"
	"github.com/pulseboard/pulseboard-backend/internal/registry"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
)

// validTransitions is the lifecycle DAG. Resolved has no outgoing edges.
var validTransitions = map[models.AlertStatus][]models.AlertStatus{
	models.AlertPending:      {models.AlertActive, models.AlertSilenced},
	models.AlertActive:       {models.AlertAcknowledged, models.AlertResolved, models.AlertSilenced},
	models.AlertAcknowledged: {models.AlertResolved},
	models.AlertSilenced:     {models.AlertActive, models.AlertResolved},
	models.AlertResolved:     {},
}

// CanTransition reports whether from -> to is a legal lifecycle edge.
func CanTransition(from, to models.AlertStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Notifier receives lifecycle events. Event is one of "triggered",
// "resolved", "escalated". Delivery must not block evaluation.
type Notifier interface {
	Notify(ctx context.Context, event string, a *models.Alert)
}

// Engine evaluates rules and serializes all writes per alert id, so an
// acknowledgement and the evaluator never interleave on the same alert.
type Engine struct {
	alerts   repository.AlertRepo
	agg      *aggregate.Engine
	reg      *registry.Registry
	clk      clock.Clock
	logger   *slog.Logger
	notifier Notifier

	cooldown        time.Duration
	dedupWindow     time.Duration
	escalationAfter time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	// lastNotified dedups trigger notifications per alert id.
	lastNotified map[string]time.Time
	// activeSince drives escalation; reset on each escalation so one level is
	// gained per escalation window.
	activeSince map[string]time.Time
}

// New creates an alert engine. notifier may be nil.
func New(alerts repository.AlertRepo, agg *aggregate.Engine, reg *registry.Registry, clk clock.Clock, logger *slog.Logger, notifier Notifier, cooldown, dedupWindow, escalationAfter time.Duration) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		alerts:          alerts,
		agg:             agg,
		reg:             reg,
		clk:             clk,
		logger:          logger,
		notifier:        notifier,
		cooldown:        cooldown,
		dedupWindow:     dedupWindow,
		escalationAfter: escalationAfter,
		locks:           make(map[string]*sync.Mutex),
		lastNotified:    make(map[string]time.Time),
		activeSince:     make(map[string]time.Time),
	}
}

func (e *Engine) lock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// Create validates and persists a new alert rule; it starts pending.
func (e *Engine) Create(ctx context.Context, a *models.Alert) (*models.Alert, error) {
	if a.Name == "" {
		return nil, apperr.Invalid("name", "must not be empty")
	}
	if !a.Comparator.Valid() {
		return nil, apperr.Invalid("comparator", "must be one of >, >=, <, <=, ==")
	}
	if a.Priority == "" {
		a.Priority = models.PriorityMedium
	}
	if !a.Priority.Valid() {
		return nil, apperr.Invalid("priority", "must be low, medium, high or critical")
	}
	if a.Condition.MetricName == "" {
		return nil, apperr.Invalid("condition.metric_name", "must name a registered metric")
	}
	if _, err := e.reg.GetByName(ctx, a.Condition.MetricName); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.UnknownMetric(a.Condition.MetricName)
		}
		return nil, err
	}
	a.Status = models.AlertPending
	a.TriggeredCount = 0
	now := e.clk.Now()
	a.CreatedAt = now
	a.UpdatedAt = now
	if err := e.alerts.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// RaiseSystem records a system-originated alert, such as a background task
// taken out of rotation, as an immediately active instance. System alerts
// carry no metric condition, so the evaluator skips them; they stay active
// until an operator acknowledges.
func (e *Engine) RaiseSystem(ctx context.Context, name, description string, priority models.AlertPriority) (*models.Alert, error) {
	if name == "" {
		return nil, apperr.Invalid("name", "must not be empty")
	}
	if priority == "" {
		priority = models.PriorityHigh
	}
	if !priority.Valid() {
		return nil, apperr.Invalid("priority", "must be low, medium, high or critical")
	}
	now := e.clk.Now()
	a := &models.Alert{
		Name:           name,
		Description:    description,
		Priority:       priority,
		Status:         models.AlertActive,
		CreatedBy:      "system",
		TriggeredCount: 1,
		LastTriggered:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.alerts.Create(ctx, a); err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.activeSince[a.ID] = now
	e.lastNotified[a.ID] = now
	e.mu.Unlock()
	e.logger.Warn("system alert raised", "alert_id", a.ID, "name", name)
	if e.notifier != nil {
		e.notifier.Notify(ctx, "triggered", a)
	}
	return a, nil
}

// Get returns one alert.
func (e *Engine) Get(ctx context.Context, id string) (*models.Alert, error) {
	return e.alerts.Get(ctx, id)
}

// List returns alerts matching the filter.
func (e *Engine) List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	return e.alerts.List(ctx, filter)
}

// Update mutates rule fields (name, description, condition, threshold,
// comparator, priority, due date). Lifecycle fields are owned by the engine.
func (e *Engine) Update(ctx context.Context, a *models.Alert, actor string) error {
	l := e.lock(a.ID)
	l.Lock()
	defer l.Unlock()

	existing, err := e.alerts.Get(ctx, a.ID)
	if err != nil {
		return err
	}
	if existing.CreatedBy != actor {
		return apperr.Forbidden("only the owner can update an alert")
	}
	if !a.Comparator.Valid() {
		return apperr.Invalid("comparator", "must be one of >, >=, <, <=, ==")
	}
	if !a.Priority.Valid() {
		return apperr.Invalid("priority", "must be low, medium, high or critical")
	}
	existing.Name = a.Name
	existing.Description = a.Description
	existing.Condition = a.Condition
	existing.Threshold = a.Threshold
	existing.Comparator = a.Comparator
	existing.Priority = a.Priority
	existing.DueDate = a.DueDate
	existing.UpdatedAt = e.clk.Now()
	*a = *existing
	return e.alerts.Update(ctx, existing)
}

// Delete removes an alert. Only the owner may delete.
func (e *Engine) Delete(ctx context.Context, id, actor string) error {
	existing, err := e.alerts.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.CreatedBy != actor {
		return apperr.Forbidden("only the owner can delete an alert")
	}
	return e.alerts.Delete(ctx, id)
}

// Acknowledge transitions active -> acknowledged. Acknowledging an already
// acknowledged alert is a no-op; any other state is rejected.
func (e *Engine) Acknowledge(ctx context.Context, id, actor string) (*models.Alert, error) {
	l := e.lock(id)
	l.Lock()
	defer l.Unlock()

	a, err := e.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status == models.AlertAcknowledged {
		return a, nil
	}
	if !CanTransition(a.Status, models.AlertAcknowledged) {
		return nil, apperr.Invalid("status", "only an active alert can be acknowledged")
	}
	a.Status = models.AlertAcknowledged
	a.AcknowledgedBy = actor
	a.UpdatedAt = e.clk.Now()
	if err := e.alerts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// Silence transitions pending or active -> silenced. Evaluation continues but
// no notifications fire while silenced.
func (e *Engine) Silence(ctx context.Context, id, actor string) (*models.Alert, error) {
	return e.transition(ctx, id, actor, models.AlertSilenced)
}

// Unsilence transitions silenced -> active.
func (e *Engine) Unsilence(ctx context.Context, id, actor string) (*models.Alert, error) {
	return e.transition(ctx, id, actor, models.AlertActive)
}

func (e *Engine) transition(ctx context.Context, id, actor string, to models.AlertStatus) (*models.Alert, error) {
	l := e.lock(id)
	l.Lock()
	defer l.Unlock()

	a, err := e.alerts.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.CreatedBy != actor {
		return nil, apperr.Forbidden("only the owner can change alert state")
	}
	if a.Status == to {
		return a, nil
	}
	if !CanTransition(a.Status, to) {
		return nil, apperr.Invalid("status", string(a.Status)+" cannot move to "+string(to))
	}
	a.Status = to
	a.UpdatedAt = e.clk.Now()
	if to == models.AlertActive {
		e.mu.Lock()
		e.activeSince[a.ID] = a.UpdatedAt
		e.mu.Unlock()
	}
	if err := e.alerts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

// EvaluateAll runs one evaluation round over the newest instance of every
// rule. Evaluation failures never alter alert state.
func (e *Engine) EvaluateAll(ctx context.Context) error {
	all, err := e.alerts.List(ctx, models.AlertFilter{})
	if err != nil {
		return err
	}
	// newest instance per rule; the list is ordered newest first
	newest := make(map[string]*models.Alert, len(all))
	for _, a := range all {
		if _, ok := newest[a.RuleID]; !ok {
			newest[a.RuleID] = a
		}
	}
	for _, a := range newest {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.evaluate(ctx, a)
	}
	return nil
}

func (e *Engine) evaluate(ctx context.Context, a *models.Alert) {
	value, ok, err := e.currentValue(ctx, a)
	if err != nil {
		metrics.AlertEvaluationsTotal.WithLabelValues("error").Inc()
		e.logger.Warn("alert condition resolution failed", "alert_id", a.ID, "metric", a.Condition.MetricName, "error", err)
		return
	}
	if !ok {
		metrics.AlertEvaluationsTotal.WithLabelValues("skipped").Inc()
		return
	}
	holds := a.Comparator.Holds(value, a.Threshold)

	l := e.lock(a.ID)
	l.Lock()
	defer l.Unlock()

	// re-read under the lock so an ack landing mid-round is not lost
	fresh, err := e.alerts.Get(ctx, a.ID)
	if err != nil {
		metrics.AlertEvaluationsTotal.WithLabelValues("error").Inc()
		return
	}
	a = fresh
	now := e.clk.Now()

	switch {
	case holds && a.Status == models.AlertResolved:
		e.retrigger(ctx, a, now)
	case holds:
		e.trigger(ctx, a, now)
	default:
		e.maybeResolve(ctx, a, now)
	}
}

// currentValue resolves the rule's condition to the latest sample value.
func (e *Engine) currentValue(ctx context.Context, a *models.Alert) (float64, bool, error) {
	m, err := e.reg.GetByName(ctx, a.Condition.MetricName)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return 0, false, nil
		}
		return 0, false, err
	}
	v, err := e.agg.Snapshot(ctx, m.ID, a.Condition.LabelMatch)
	if err != nil {
		return 0, false, err
	}
	if v == nil {
		return 0, false, nil
	}
	return *v, true, nil
}

// trigger handles a holding condition on a live instance. Every trigger
// increments the count; notifications coalesce within the dedup window and
// are suppressed entirely for acknowledged and silenced alerts.
func (e *Engine) trigger(ctx context.Context, a *models.Alert, now time.Time) {
	a.TriggeredCount++
	a.LastTriggered = &now
	a.ConditionClearedAt = nil

	notify := false
	if a.Status == models.AlertPending {
		a.Status = models.AlertActive
		e.mu.Lock()
		e.activeSince[a.ID] = now
		e.mu.Unlock()
		notify = true
	}
	if a.Status == models.AlertActive {
		e.mu.Lock()
		last, seen := e.lastNotified[a.ID]
		e.mu.Unlock()
		if !seen || now.Sub(last) >= e.dedupWindow {
			notify = true
		}
		e.escalate(a, now)
	}

	a.UpdatedAt = now
	if err := e.alerts.Update(ctx, a); err != nil {
		metrics.AlertEvaluationsTotal.WithLabelValues("error").Inc()
		e.logger.Error("alert trigger update failed", "alert_id", a.ID, "error", err)
		return
	}
	metrics.AlertEvaluationsTotal.WithLabelValues("triggered").Inc()
	if notify && e.notifier != nil {
		e.mu.Lock()
		e.lastNotified[a.ID] = now
		e.mu.Unlock()
		e.notifier.Notify(ctx, "triggered", a)
	}
}

// retrigger starts a fresh instance of a resolved rule.
func (e *Engine) retrigger(ctx context.Context, old *models.Alert, now time.Time) {
	next := &models.Alert{
		RuleID:         old.RuleID,
		Name:           old.Name,
		Description:    old.Description,
		Condition:      old.Condition,
		Threshold:      old.Threshold,
		Comparator:     old.Comparator,
		Priority:       old.Priority,
		Status:         models.AlertActive,
		CreatedBy:      old.CreatedBy,
		DueDate:        old.DueDate,
		TriggeredCount: 1,
		LastTriggered:  &now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.alerts.Create(ctx, next); err != nil {
		metrics.AlertEvaluationsTotal.WithLabelValues("error").Inc()
		e.logger.Error("alert retrigger failed", "rule_id", old.RuleID, "error", err)
		return
	}
	e.mu.Lock()
	e.activeSince[next.ID] = now
	e.lastNotified[next.ID] = now
	e.mu.Unlock()
	metrics.AlertEvaluationsTotal.WithLabelValues("triggered").Inc()
	e.logger.Info("alert re-triggered as new instance", "rule_id", old.RuleID, "alert_id", next.ID)
	if e.notifier != nil {
		e.notifier.Notify(ctx, "triggered", next)
	}
}

// maybeResolve handles a cleared condition: the alert resolves once the
// condition has stayed clear for the cooldown window.
func (e *Engine) maybeResolve(ctx context.Context, a *models.Alert, now time.Time) {
	switch a.Status {
	case models.AlertPending, models.AlertResolved:
		metrics.AlertEvaluationsTotal.WithLabelValues("unchanged").Inc()
		return
	}
	if a.ConditionClearedAt == nil {
		cleared := now
		a.ConditionClearedAt = &cleared
		a.UpdatedAt = now
		if err := e.alerts.Update(ctx, a); err != nil {
			metrics.AlertEvaluationsTotal.WithLabelValues("error").Inc()
		} else {
			metrics.AlertEvaluationsTotal.WithLabelValues("unchanged").Inc()
		}
		return
	}
	if now.Sub(*a.ConditionClearedAt) < e.cooldown {
		metrics.AlertEvaluationsTotal.WithLabelValues("unchanged").Inc()
		return
	}
	a.Status = models.AlertResolved
	a.ResolvedAt = &now
	a.UpdatedAt = now
	if err := e.alerts.Update(ctx, a); err != nil {
		metrics.AlertEvaluationsTotal.WithLabelValues("error").Inc()
		e.logger.Error("alert resolve update failed", "alert_id", a.ID, "error", err)
		return
	}
	e.mu.Lock()
	delete(e.activeSince, a.ID)
	delete(e.lastNotified, a.ID)
	e.mu.Unlock()
	metrics.AlertEvaluationsTotal.WithLabelValues("resolved").Inc()
	e.logger.Info("alert resolved", "alert_id", a.ID, "rule_id", a.RuleID)
	if e.notifier != nil {
		e.notifier.Notify(ctx, "resolved", a)
	}
}

// escalate raises the priority of an alert that has been active for a full
// escalation window, one level per window, capped at critical.
func (e *Engine) escalate(a *models.Alert, now time.Time) {
	if e.escalationAfter <= 0 || a.Priority == models.PriorityCritical {
		return
	}
	e.mu.Lock()
	since, ok := e.activeSince[a.ID]
	if !ok {
		// active before this process started; anchor on what we have
		if a.LastTriggered != nil {
			since = *a.LastTriggered
		} else {
			since = now
		}
		e.activeSince[a.ID] = since
	}
	e.mu.Unlock()
	if now.Sub(since) < e.escalationAfter {
		return
	}
	a.Priority = a.Priority.Next()
	e.mu.Lock()
	e.activeSince[a.ID] = now
	e.mu.Unlock()
	e.logger.Warn("alert escalated", "alert_id", a.ID, "priority", a.Priority)
	if e.notifier != nil {
		e.notifier.Notify(context.Background(), "escalated", a)
	}
}
