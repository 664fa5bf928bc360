package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// sampleRepo adapts SQLRepository to the SampleRepo port.
type sampleRepo struct{ *SQLRepository }

func (r sampleRepo) Append(ctx context.Context, s *models.Sample) error {
	if err := s.EncodeLabels(); err != nil {
		return apperr.Invalid("labels", err.Error())
	}
	query := r.rebind(`
		INSERT INTO samples (metric_id, value, timestamp, labels, labels_hash)
		VALUES (?, ?, ?, ?, ?)
	`)
	_, err := r.db.ExecContext(ctx, query,
		s.MetricID, s.Value, s.Timestamp, s.LabelsRaw, int64(s.LabelsHash),
	)
	if err != nil {
		return apperr.Transient("sample append failed", err)
	}
	return nil
}

func (r sampleRepo) ListRange(ctx context.Context, metricID int64, from, to time.Time) ([]*models.Sample, error) {
	query := r.rebind(`
		SELECT id, metric_id, value, timestamp, labels, labels_hash
		FROM samples
		WHERE metric_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC, id ASC
	`)
	var rows []*sampleRow
	if err := r.db.SelectContext(ctx, &rows, query, metricID, from, to); err != nil {
		return nil, apperr.Transient("sample range read failed", err)
	}
	return decodeSampleRows(rows)
}

func (r sampleRepo) Latest(ctx context.Context, metricID int64) (*models.Sample, error) {
	query := r.rebind(`
		SELECT id, metric_id, value, timestamp, labels, labels_hash
		FROM samples
		WHERE metric_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`)
	var row sampleRow
	err := r.db.GetContext(ctx, &row, query, metricID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // missing data is not an error on the read path
	}
	if err != nil {
		return nil, apperr.Transient("sample latest read failed", err)
	}
	return row.toSample()
}

func (r sampleRepo) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	// The newest pre-cutoff sample of each series survives as the anchor for
	// open-window rate computation.
	query := r.rebind(`
		DELETE FROM samples
		WHERE timestamp < ?
		  AND id NOT IN (
			SELECT anchor_id FROM (
				SELECT MAX(id) AS anchor_id
				FROM samples
				WHERE timestamp < ?
				GROUP BY metric_id, labels_hash
			) anchors
		  )
	`)
	res, err := r.db.ExecContext(ctx, query, before, before)
	if err != nil {
		return 0, apperr.Transient("sample prune failed", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// sampleRow carries the db representation; labels_hash round-trips through
// int64 because SQLite has no unsigned 64-bit column type.
type sampleRow struct {
	ID         int64     `db:"id"`
	MetricID   int64     `db:"metric_id"`
	Value      float64   `db:"value"`
	Timestamp  time.Time `db:"timestamp"`
	LabelsRaw  string    `db:"labels"`
	LabelsHash int64     `db:"labels_hash"`
}

func (row *sampleRow) toSample() (*models.Sample, error) {
	s := &models.Sample{
		ID:         row.ID,
		MetricID:   row.MetricID,
		Value:      row.Value,
		Timestamp:  row.Timestamp,
		LabelsRaw:  row.LabelsRaw,
		LabelsHash: uint64(row.LabelsHash),
	}
	if err := s.DecodeLabels(); err != nil {
		return nil, apperr.Transient("sample labels decode failed", err)
	}
	return s, nil
}

func decodeSampleRows(rows []*sampleRow) ([]*models.Sample, error) {
	out := make([]*models.Sample, 0, len(rows))
	for _, row := range rows {
		s, err := row.toSample()
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
