package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// eventRepo adapts SQLRepository to the EventRepo port.
type eventRepo struct{ *SQLRepository }

func (r eventRepo) Create(ctx context.Context, e *models.Event) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if err := e.EncodePayload(); err != nil {
		return apperr.Invalid("payload", err.Error())
	}
	query := r.rebind(`
		INSERT INTO events (id, event_type, payload, user_id, user_agent, ip, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.EventType, e.PayloadRaw, e.UserID, e.UserAgent, e.IP, e.Timestamp,
	)
	if err != nil {
		return apperr.Transient("event create failed", err)
	}
	return nil
}

func (r eventRepo) Get(ctx context.Context, id string) (*models.Event, error) {
	var e models.Event
	err := r.db.GetContext(ctx, &e, r.rebind(`SELECT * FROM events WHERE id = ?`), id)
	if err != nil {
		return nil, mapGetErr(err, "event", id)
	}
	if err := e.DecodePayload(); err != nil {
		return nil, apperr.Transient("event payload decode failed", err)
	}
	return &e, nil
}

func (r eventRepo) List(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	query := `SELECT * FROM events WHERE 1=1`
	args := []interface{}{}
	if filter.EventType != "" {
		query += " AND event_type = ?"
		args = append(args, filter.EventType)
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if !filter.Since.IsZero() {
		query += " AND timestamp >= ?"
		args = append(args, filter.Since)
	}
	query += " ORDER BY timestamp DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	var list []*models.Event
	if err := r.db.SelectContext(ctx, &list, r.rebind(query), args...); err != nil {
		return nil, apperr.Transient("event list failed", err)
	}
	for _, e := range list {
		if err := e.DecodePayload(); err != nil {
			return nil, apperr.Transient("event payload decode failed", err)
		}
	}
	return list, nil
}

func (r eventRepo) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM events WHERE timestamp < ?`), before)
	if err != nil {
		return 0, apperr.Transient("event prune failed", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
