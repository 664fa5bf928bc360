package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// dashboardRepo adapts SQLRepository to the DashboardRepo port.
type dashboardRepo struct{ *SQLRepository }

func (r dashboardRepo) Create(ctx context.Context, d *models.Dashboard) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	query := r.rebind(`
		INSERT INTO dashboards (id, user_id, name, description, layout_config, is_public, is_default, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		d.ID, d.UserID, d.Name, d.Description, d.LayoutConfig, d.IsPublic, d.IsDefault,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return apperr.Transient("dashboard create failed", err)
	}
	return nil
}

func (r dashboardRepo) Get(ctx context.Context, id string) (*models.Dashboard, error) {
	var d models.Dashboard
	err := r.db.GetContext(ctx, &d, r.rebind(`SELECT * FROM dashboards WHERE id = ?`), id)
	if err != nil {
		return nil, mapGetErr(err, "dashboard", id)
	}
	return &d, nil
}

// List returns the user's dashboards plus every public one. An empty userID
// lists only public dashboards.
func (r dashboardRepo) List(ctx context.Context, userID string) ([]*models.Dashboard, error) {
	query := r.rebind(`
		SELECT * FROM dashboards
		WHERE user_id = ? OR is_public = ?
		ORDER BY created_at DESC
	`)
	var list []*models.Dashboard
	if err := r.db.SelectContext(ctx, &list, query, userID, true); err != nil {
		return nil, apperr.Transient("dashboard list failed", err)
	}
	return list, nil
}

func (r dashboardRepo) Update(ctx context.Context, d *models.Dashboard) error {
	query := r.rebind(`
		UPDATE dashboards
		SET name = ?, description = ?, layout_config = ?, is_public = ?, is_default = ?, updated_at = ?
		WHERE id = ?
	`)
	res, err := r.db.ExecContext(ctx, query,
		d.Name, d.Description, d.LayoutConfig, d.IsPublic, d.IsDefault, d.UpdatedAt, d.ID,
	)
	if err != nil {
		return apperr.Transient("dashboard update failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("dashboard", d.ID)
	}
	return nil
}

func (r dashboardRepo) Delete(ctx context.Context, id string) error {
	// Widgets cascade via the foreign key.
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM dashboards WHERE id = ?`), id)
	if err != nil {
		return apperr.Transient("dashboard delete failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("dashboard", id)
	}
	return nil
}

func (r dashboardRepo) ClearDefault(ctx context.Context, userID string) error {
	query := r.rebind(`UPDATE dashboards SET is_default = ? WHERE user_id = ? AND is_default = ?`)
	if _, err := r.db.ExecContext(ctx, query, false, userID, true); err != nil {
		return apperr.Transient("dashboard clear default failed", err)
	}
	return nil
}

// widgetRepo adapts SQLRepository to the WidgetRepo port.
type widgetRepo struct{ *SQLRepository }

func (r widgetRepo) Create(ctx context.Context, w *models.Widget) error {
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	if err := w.EncodeConfig(); err != nil {
		return apperr.Invalid("config", err.Error())
	}
	query := r.rebind(`
		INSERT INTO widgets (id, dashboard_id, widget_kind, title, grid_x, grid_y, grid_w, grid_h, config, position, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		w.ID, w.DashboardID, w.Kind, w.Title, w.GridX, w.GridY, w.GridW, w.GridH,
		w.ConfigRaw, w.Position, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return apperr.Transient("widget create failed", err)
	}
	return nil
}

func (r widgetRepo) Get(ctx context.Context, id string) (*models.Widget, error) {
	var w models.Widget
	err := r.db.GetContext(ctx, &w, r.rebind(`SELECT * FROM widgets WHERE id = ?`), id)
	if err != nil {
		return nil, mapGetErr(err, "widget", id)
	}
	if err := w.DecodeConfig(); err != nil {
		return nil, apperr.Transient("widget config decode failed", err)
	}
	return &w, nil
}

func (r widgetRepo) ListByDashboard(ctx context.Context, dashboardID string) ([]*models.Widget, error) {
	query := r.rebind(`SELECT * FROM widgets WHERE dashboard_id = ? ORDER BY position ASC, created_at ASC`)
	var list []*models.Widget
	if err := r.db.SelectContext(ctx, &list, query, dashboardID); err != nil {
		return nil, apperr.Transient("widget list failed", err)
	}
	for _, w := range list {
		if err := w.DecodeConfig(); err != nil {
			return nil, apperr.Transient("widget config decode failed", err)
		}
	}
	return list, nil
}

func (r widgetRepo) Update(ctx context.Context, w *models.Widget) error {
	if err := w.EncodeConfig(); err != nil {
		return apperr.Invalid("config", err.Error())
	}
	query := r.rebind(`
		UPDATE widgets
		SET widget_kind = ?, title = ?, grid_x = ?, grid_y = ?, grid_w = ?, grid_h = ?, config = ?, position = ?, updated_at = ?
		WHERE id = ?
	`)
	res, err := r.db.ExecContext(ctx, query,
		w.Kind, w.Title, w.GridX, w.GridY, w.GridW, w.GridH, w.ConfigRaw, w.Position, w.UpdatedAt, w.ID,
	)
	if err != nil {
		return apperr.Transient("widget update failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("widget", w.ID)
	}
	return nil
}

func (r widgetRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM widgets WHERE id = ?`), id)
	if err != nil {
		return apperr.Transient("widget delete failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("widget", id)
	}
	return nil
}
