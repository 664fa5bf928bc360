package repository

import (
	"context"
	"time"

	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/metrics"
)

// instrument times one repository call into the repository duration histogram.
func instrument(entity, op string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RepositoryCallDurationSeconds.WithLabelValues(entity, op).Observe(time.Since(start).Seconds())
	return err
}

// InstrumentedSamples wraps a SampleRepo with call timing. The sample path is
// the hottest repository surface, so it is the one worth measuring.
type InstrumentedSamples struct {
	Inner SampleRepo
}

func (r InstrumentedSamples) Append(ctx context.Context, s *models.Sample) error {
	return instrument("samples", "append", func() error {
		return r.Inner.Append(ctx, s)
	})
}

func (r InstrumentedSamples) ListRange(ctx context.Context, metricID int64, from, to time.Time) ([]*models.Sample, error) {
	var out []*models.Sample
	err := instrument("samples", "list_range", func() error {
		var ierr error
		out, ierr = r.Inner.ListRange(ctx, metricID, from, to)
		return ierr
	})
	return out, err
}

func (r InstrumentedSamples) Latest(ctx context.Context, metricID int64) (*models.Sample, error) {
	var out *models.Sample
	err := instrument("samples", "latest", func() error {
		var ierr error
		out, ierr = r.Inner.Latest(ctx, metricID)
		return ierr
	})
	return out, err
}

func (r InstrumentedSamples) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := instrument("samples", "prune", func() error {
		var ierr error
		n, ierr = r.Inner.PruneBefore(ctx, before)
		return ierr
	})
	return n, err
}
