package repository

import (
	"context"
	"strconv"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// metricRepo adapts SQLRepository to the MetricRepo port.
type metricRepo struct{ *SQLRepository }

func (r metricRepo) Create(ctx context.Context, m *models.Metric) error {
	if err := m.EncodeLabelSchema(); err != nil {
		return apperr.Invalid("label_schema", err.Error())
	}
	query := r.rebind(`
		INSERT INTO metrics (name, kind, unit, description, category, label_schema, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	res, err := r.db.ExecContext(ctx, query,
		m.Name, m.Kind, m.Unit, m.Description, m.Category, m.LabelSchemaRaw,
		m.CreatedAt, m.UpdatedAt,
	)
	if isDuplicate(err) {
		return apperr.DuplicateName("metric", m.Name)
	}
	if err != nil {
		return apperr.Transient("metric create failed", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		m.ID = id
	} else if m.ID == 0 {
		// Postgres: lib/pq does not support LastInsertId; read the row back.
		row, gerr := r.GetByName(ctx, m.Name)
		if gerr != nil {
			return gerr
		}
		m.ID = row.ID
	}
	return nil
}

func (r metricRepo) GetByID(ctx context.Context, id int64) (*models.Metric, error) {
	var m models.Metric
	err := r.db.GetContext(ctx, &m, r.rebind(`SELECT * FROM metrics WHERE id = ?`), id)
	if err != nil {
		return nil, mapGetErr(err, "metric", strconv.FormatInt(id, 10))
	}
	if err := m.DecodeLabelSchema(); err != nil {
		return nil, apperr.Transient("metric label schema decode failed", err)
	}
	return &m, nil
}

func (r metricRepo) GetByName(ctx context.Context, name string) (*models.Metric, error) {
	var m models.Metric
	err := r.db.GetContext(ctx, &m, r.rebind(`SELECT * FROM metrics WHERE name = ?`), name)
	if err != nil {
		return nil, mapGetErr(err, "metric", name)
	}
	if err := m.DecodeLabelSchema(); err != nil {
		return nil, apperr.Transient("metric label schema decode failed", err)
	}
	return &m, nil
}

func (r metricRepo) List(ctx context.Context, filter models.MetricFilter) ([]*models.Metric, error) {
	query := `SELECT * FROM metrics WHERE 1=1`
	args := []interface{}{}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if filter.Category != "" {
		query += " AND category = ?"
		args = append(args, filter.Category)
	}
	query += " ORDER BY name ASC"

	var list []*models.Metric
	if err := r.db.SelectContext(ctx, &list, r.rebind(query), args...); err != nil {
		return nil, apperr.Transient("metric list failed", err)
	}
	for _, m := range list {
		if err := m.DecodeLabelSchema(); err != nil {
			return nil, apperr.Transient("metric label schema decode failed", err)
		}
	}
	return list, nil
}

func (r metricRepo) Update(ctx context.Context, m *models.Metric) error {
	if err := m.EncodeLabelSchema(); err != nil {
		return apperr.Invalid("label_schema", err.Error())
	}
	// Kind is immutable: it is deliberately absent from the SET list.
	query := r.rebind(`
		UPDATE metrics
		SET unit = ?, description = ?, category = ?, label_schema = ?, updated_at = ?
		WHERE id = ?
	`)
	res, err := r.db.ExecContext(ctx, query,
		m.Unit, m.Description, m.Category, m.LabelSchemaRaw, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return apperr.Transient("metric update failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("metric", strconv.FormatInt(m.ID, 10))
	}
	return nil
}

func (r metricRepo) Delete(ctx context.Context, id int64) error {
	// Samples cascade via the foreign key.
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM metrics WHERE id = ?`), id)
	if err != nil {
		return apperr.Transient("metric delete failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("metric", strconv.FormatInt(id, 10))
	}
	return nil
}
