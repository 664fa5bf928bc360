package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// alertRepo adapts SQLRepository to the AlertRepo port.
type alertRepo struct{ *SQLRepository }

func encodeCondition(a *models.Alert) error {
	b, err := json.Marshal(a.Condition)
	if err != nil {
		return apperr.Invalid("condition", err.Error())
	}
	a.ConditionRaw = string(b)
	return nil
}

func decodeCondition(a *models.Alert) error {
	if a.ConditionRaw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(a.ConditionRaw), &a.Condition); err != nil {
		return apperr.Transient("alert condition decode failed", err)
	}
	return nil
}

func (r alertRepo) Create(ctx context.Context, a *models.Alert) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.RuleID == "" {
		a.RuleID = a.ID
	}
	if err := encodeCondition(a); err != nil {
		return err
	}
	query := r.rebind(`
		INSERT INTO alerts (id, rule_id, name, description, condition, threshold, comparator, priority, status, created_by, due_date, triggered_count, last_triggered, condition_cleared_at, resolved_at, acknowledged_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.RuleID, a.Name, a.Description, a.ConditionRaw, a.Threshold, a.Comparator,
		a.Priority, a.Status, a.CreatedBy, a.DueDate, a.TriggeredCount, a.LastTriggered,
		a.ConditionClearedAt, a.ResolvedAt, a.AcknowledgedBy, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return apperr.Transient("alert create failed", err)
	}
	return nil
}

func (r alertRepo) Get(ctx context.Context, id string) (*models.Alert, error) {
	var a models.Alert
	err := r.db.GetContext(ctx, &a, r.rebind(`SELECT * FROM alerts WHERE id = ?`), id)
	if err != nil {
		return nil, mapGetErr(err, "alert", id)
	}
	if err := decodeCondition(&a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r alertRepo) List(ctx context.Context, filter models.AlertFilter) ([]*models.Alert, error) {
	query := `SELECT * FROM alerts WHERE 1=1`
	args := []interface{}{}
	if len(filter.Statuses) > 0 {
		in := make([]interface{}, len(filter.Statuses))
		for i, s := range filter.Statuses {
			in[i] = s
		}
		q, inArgs, err := sqlx.In(" AND status IN (?)", in)
		if err != nil {
			return nil, apperr.Transient("alert list failed", err)
		}
		query += q
		args = append(args, inArgs...)
	}
	if filter.Priority != "" {
		query += " AND priority = ?"
		args = append(args, filter.Priority)
	}
	if filter.CreatedBy != "" {
		query += " AND created_by = ?"
		args = append(args, filter.CreatedBy)
	}
	if filter.RuleID != "" {
		query += " AND rule_id = ?"
		args = append(args, filter.RuleID)
	}
	query += " ORDER BY created_at DESC"

	var list []*models.Alert
	if err := r.db.SelectContext(ctx, &list, r.rebind(query), args...); err != nil {
		return nil, apperr.Transient("alert list failed", err)
	}
	for _, a := range list {
		if err := decodeCondition(a); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (r alertRepo) Update(ctx context.Context, a *models.Alert) error {
	if err := encodeCondition(a); err != nil {
		return err
	}
	query := r.rebind(`
		UPDATE alerts
		SET name = ?, description = ?, condition = ?, threshold = ?, comparator = ?, priority = ?, status = ?, due_date = ?, triggered_count = ?, last_triggered = ?, condition_cleared_at = ?, resolved_at = ?, acknowledged_by = ?, updated_at = ?
		WHERE id = ?
	`)
	res, err := r.db.ExecContext(ctx, query,
		a.Name, a.Description, a.ConditionRaw, a.Threshold, a.Comparator, a.Priority,
		a.Status, a.DueDate, a.TriggeredCount, a.LastTriggered, a.ConditionClearedAt,
		a.ResolvedAt, a.AcknowledgedBy, a.UpdatedAt, a.ID,
	)
	if err != nil {
		return apperr.Transient("alert update failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("alert", a.ID)
	}
	return nil
}

func (r alertRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM alerts WHERE id = ?`), id)
	if err != nil {
		return apperr.Transient("alert delete failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("alert", id)
	}
	return nil
}
