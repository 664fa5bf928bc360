package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// reportRepo adapts SQLRepository to the ReportRepo port.
type reportRepo struct{ *SQLRepository }

func (r reportRepo) Create(ctx context.Context, rep *models.Report) error {
	if rep.ID == "" {
		rep.ID = uuid.New().String()
	}
	if err := rep.EncodeParameters(); err != nil {
		return apperr.Invalid("parameters", err.Error())
	}
	query := r.rebind(`
		INSERT INTO reports (id, name, report_type, parameters, schedule, schedule_cron, status, is_public, created_by, last_run, next_run, fail_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		rep.ID, rep.Name, rep.ReportType, rep.ParametersRaw, rep.Schedule, rep.ScheduleCron,
		rep.Status, rep.IsPublic, rep.CreatedBy, rep.LastRun, rep.NextRun, rep.FailCount,
		rep.CreatedAt, rep.UpdatedAt,
	)
	if err != nil {
		return apperr.Transient("report create failed", err)
	}
	return nil
}

func (r reportRepo) Get(ctx context.Context, id string) (*models.Report, error) {
	var rep models.Report
	err := r.db.GetContext(ctx, &rep, r.rebind(`SELECT * FROM reports WHERE id = ?`), id)
	if err != nil {
		return nil, mapGetErr(err, "report", id)
	}
	if err := rep.DecodeParameters(); err != nil {
		return nil, apperr.Transient("report parameters decode failed", err)
	}
	return &rep, nil
}

func (r reportRepo) List(ctx context.Context, filter models.ReportFilter) ([]*models.Report, error) {
	query := `SELECT * FROM reports WHERE 1=1`
	args := []interface{}{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.CreatedBy != "" {
		query += " AND created_by = ?"
		args = append(args, filter.CreatedBy)
	}
	if !filter.DueBefore.IsZero() {
		query += " AND next_run IS NOT NULL AND next_run <= ?"
		args = append(args, filter.DueBefore)
	}
	query += " ORDER BY created_at DESC"

	var list []*models.Report
	if err := r.db.SelectContext(ctx, &list, r.rebind(query), args...); err != nil {
		return nil, apperr.Transient("report list failed", err)
	}
	for _, rep := range list {
		if err := rep.DecodeParameters(); err != nil {
			return nil, apperr.Transient("report parameters decode failed", err)
		}
	}
	return list, nil
}

func (r reportRepo) Update(ctx context.Context, rep *models.Report) error {
	if err := rep.EncodeParameters(); err != nil {
		return apperr.Invalid("parameters", err.Error())
	}
	query := r.rebind(`
		UPDATE reports
		SET name = ?, report_type = ?, parameters = ?, schedule = ?, schedule_cron = ?, status = ?, is_public = ?, last_run = ?, next_run = ?, fail_count = ?, updated_at = ?
		WHERE id = ?
	`)
	res, err := r.db.ExecContext(ctx, query,
		rep.Name, rep.ReportType, rep.ParametersRaw, rep.Schedule, rep.ScheduleCron,
		rep.Status, rep.IsPublic, rep.LastRun, rep.NextRun, rep.FailCount, rep.UpdatedAt, rep.ID,
	)
	if err != nil {
		return apperr.Transient("report update failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("report", rep.ID)
	}
	return nil
}

func (r reportRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM reports WHERE id = ?`), id)
	if err != nil {
		return apperr.Transient("report delete failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("report", id)
	}
	return nil
}
