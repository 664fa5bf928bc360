// Package report defines, schedules and runs reports. Handlers are keyed by
// report type; the scheduler polls due reports and runs them with exponential
// backoff on failure.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/metrics"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
)

// Handler materializes one report type. The window is the reporting period
// ending at the run instant.
type Handler func(ctx context.Context, r *models.Report, from, to time.Time) (*models.ReportArtifact, error)

// Engine owns report lifecycle, handler dispatch and schedule bookkeeping.
type Engine struct {
	reports repository.ReportRepo
	clk     clock.Clock
	logger  *slog.Logger

	backoffBase time.Duration
	backoffCap  time.Duration
	cronParser  cron.Parser

	mu       sync.RWMutex
	handlers map[string]Handler
}

// New creates a report engine with the given backoff schedule.
func New(reports repository.ReportRepo, clk clock.Clock, logger *slog.Logger, backoffBase, backoffCap time.Duration) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		reports:     reports,
		clk:         clk,
		logger:      logger,
		backoffBase: backoffBase,
		backoffCap:  backoffCap,
		cronParser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		handlers:    make(map[string]Handler),
	}
}

// RegisterHandler binds a report type to its handler. Last registration wins.
func (e *Engine) RegisterHandler(reportType string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[reportType] = h
}

func (e *Engine) handler(reportType string) (Handler, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h, ok := e.handlers[reportType]
	return h, ok
}

// Define persists a new report and computes its initial next run.
func (e *Engine) Define(ctx context.Context, r *models.Report) (*models.Report, error) {
	if r.Name == "" {
		return nil, apperr.Invalid("name", "must not be empty")
	}
	if _, ok := e.handler(r.ReportType); !ok {
		return nil, apperr.Invalid("report_type", fmt.Sprintf("no handler for %q", r.ReportType))
	}
	if r.Schedule == "" {
		r.Schedule = models.ScheduleNone
	}
	if !r.Schedule.Valid() {
		return nil, apperr.Invalid("schedule", "must be none, daily, weekly, monthly or cron")
	}
	if r.Status == "" {
		r.Status = models.ReportActive
	}
	now := e.clk.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	next, err := e.scheduleAdvance(r, now)
	if err != nil {
		return nil, err
	}
	r.NextRun = next
	if err := r.EncodeParameters(); err != nil {
		return nil, apperr.Invalid("parameters", err.Error())
	}
	if err := e.reports.Create(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Get returns a report visible to viewer.
func (e *Engine) Get(ctx context.Context, id, viewer string) (*models.Report, error) {
	r, err := e.reports.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.IsPublic && r.CreatedBy != viewer {
		return nil, apperr.Forbidden("report is private")
	}
	return r, nil
}

// List returns reports matching the filter.
func (e *Engine) List(ctx context.Context, filter models.ReportFilter) ([]*models.Report, error) {
	return e.reports.List(ctx, filter)
}

// Update mutates a report definition. Only the owner may update; a schedule
// change recomputes next_run.
func (e *Engine) Update(ctx context.Context, r *models.Report, actor string) error {
	existing, err := e.reports.Get(ctx, r.ID)
	if err != nil {
		return err
	}
	if existing.CreatedBy != actor {
		return apperr.Forbidden("only the owner can update a report")
	}
	if !r.Schedule.Valid() {
		return apperr.Invalid("schedule", "must be none, daily, weekly, monthly or cron")
	}
	r.CreatedBy = existing.CreatedBy
	r.CreatedAt = existing.CreatedAt
	r.LastRun = existing.LastRun
	r.FailCount = existing.FailCount
	r.UpdatedAt = e.clk.Now()
	if r.Schedule != existing.Schedule || r.ScheduleCron != existing.ScheduleCron {
		next, err := e.scheduleAdvance(r, e.clk.Now())
		if err != nil {
			return err
		}
		r.NextRun = next
	} else {
		r.NextRun = existing.NextRun
	}
	if err := r.EncodeParameters(); err != nil {
		return apperr.Invalid("parameters", err.Error())
	}
	return e.reports.Update(ctx, r)
}

// Delete removes a report. Only the owner may delete.
func (e *Engine) Delete(ctx context.Context, id, actor string) error {
	existing, err := e.reports.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing.CreatedBy != actor {
		return apperr.Forbidden("only the owner can delete a report")
	}
	return e.reports.Delete(ctx, id)
}

// Run executes the report's handler now. On success last_run moves to now and
// next_run advances from it; on failure last_run is untouched and next_run
// backs off exponentially.
func (e *Engine) Run(ctx context.Context, id string) (*models.ReportArtifact, error) {
	r, err := e.reports.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	h, ok := e.handler(r.ReportType)
	if !ok {
		return nil, apperr.Invalid("report_type", fmt.Sprintf("no handler for %q", r.ReportType))
	}

	now := e.clk.Now()
	from := now.Add(-windowFor(r.Schedule))
	artifact, err := h(ctx, r, from, now)
	if err != nil {
		metrics.ReportFailuresTotal.Inc()
		r.FailCount++
		backoff := e.backoff(r.FailCount)
		next := now.Add(backoff)
		r.NextRun = &next
		r.UpdatedAt = now
		if uerr := e.reports.Update(ctx, r); uerr != nil {
			e.logger.Error("report backoff update failed", "report_id", r.ID, "error", uerr)
		}
		e.logger.Error("report run failed",
			"report_id", r.ID,
			"report_type", r.ReportType,
			"attempt", r.FailCount,
			"retry_in", backoff,
			"error", err)
		return nil, err
	}

	r.LastRun = &now
	r.FailCount = 0
	next, serr := e.scheduleAdvance(r, now)
	if serr != nil {
		return nil, serr
	}
	r.NextRun = next
	r.UpdatedAt = now
	if err := e.reports.Update(ctx, r); err != nil {
		return nil, err
	}

	artifact.ReportID = r.ID
	artifact.ReportType = r.ReportType
	artifact.GeneratedAt = now
	artifact.WindowFrom = from
	artifact.WindowTo = now
	return artifact, nil
}

// RunDue runs every active report whose next_run has passed. The scheduler
// calls this on the report poll interval. Individual failures are absorbed;
// Run already logged and backed them off.
func (e *Engine) RunDue(ctx context.Context) error {
	now := e.clk.Now()
	due, err := e.reports.List(ctx, models.ReportFilter{Status: models.ReportActive, DueBefore: now})
	if err != nil {
		return err
	}
	for _, r := range due {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := e.Run(ctx, r.ID); err != nil {
			continue
		}
		e.logger.Info("scheduled report ran", "report_id", r.ID, "report_type", r.ReportType)
	}
	return nil
}

// scheduleAdvance returns the next run after now, or nil for unscheduled
// reports.
func (e *Engine) scheduleAdvance(r *models.Report, now time.Time) (*time.Time, error) {
	var next time.Time
	switch r.Schedule {
	case models.ScheduleNone, "":
		return nil, nil
	case models.ScheduleDaily:
		next = now.Add(24 * time.Hour)
	case models.ScheduleWeekly:
		next = now.Add(7 * 24 * time.Hour)
	case models.ScheduleMonthly:
		next = now.AddDate(0, 1, 0)
	case models.ScheduleCron:
		sched, err := e.cronParser.Parse(r.ScheduleCron)
		if err != nil {
			return nil, apperr.Invalid("schedule_cron", err.Error())
		}
		next = sched.Next(now)
	default:
		return nil, apperr.Invalid("schedule", "unknown schedule")
	}
	return &next, nil
}

// backoff returns base * 2^(attempt-1), capped.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= e.backoffCap {
			return e.backoffCap
		}
	}
	if d > e.backoffCap {
		return e.backoffCap
	}
	return d
}

// windowFor picks the reporting period matching the recurrence; unscheduled
// and cron reports default to a day.
func windowFor(s models.ReportSchedule) time.Duration {
	switch s {
	case models.ScheduleWeekly:
		return 7 * 24 * time.Hour
	case models.ScheduleMonthly:
		return 30 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}
