// Package store is the append-only, label-aware time-series sample store.
// Appends are serialized per metric; queries fold samples into right-open
// buckets aligned to the UTC epoch.
package store

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/metrics"
	"github.com/pulseboard/pulseboard-backend/internal/registry"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
)

const appendStripes = 64

// Store appends and queries samples. Reads never fail on missing data; they
// return empty sequences.
type Store struct {
	samples repository.SampleRepo
	reg     *registry.Registry
	clk     clock.Clock
	logger  *slog.Logger
	closing atomic.Bool

	// appendMu serializes appends per metric id (striped). Cross-metric
	// appends proceed concurrently.
	appendMu [appendStripes]sync.Mutex
	// incrMu serializes IncrBy's read-modify-write per metric.
	incrMu [appendStripes]sync.Mutex

	// lastMu guards lastValue, the cumulative-value cache per series used by
	// IncrBy. Keyed by metric id then labels hash.
	lastMu    sync.Mutex
	lastValue map[int64]map[uint64]float64
}

// New creates a sample store over the given sample repository and registry.
func New(samples repository.SampleRepo, reg *registry.Registry, clk clock.Clock, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		samples:   samples,
		reg:       reg,
		clk:       clk,
		logger:    logger,
		lastValue: make(map[int64]map[uint64]float64),
	}
}

// Shutdown stops the store accepting new appends. Queries keep working so
// in-flight renders can finish.
func (s *Store) Shutdown() { s.closing.Store(true) }

// Draining reports whether Shutdown has been called.
func (s *Store) Draining() bool { return s.closing.Load() }

// Append records one observation. A zero timestamp defaults to now. Fails
// with UnknownMetric when the metric id does not resolve, LabelsRejected when
// label keys violate the metric's schema, and ShuttingDown after Shutdown.
func (s *Store) Append(ctx context.Context, metricID int64, value float64, labels map[string]string, ts time.Time) (*models.Sample, error) {
	if s.closing.Load() {
		return nil, apperr.ShuttingDown()
	}
	m, err := s.reg.GetByID(ctx, metricID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.UnknownMetric(strconv.FormatInt(metricID, 10))
		}
		return nil, err
	}
	return s.append(ctx, m, value, labels, ts)
}

// AppendByName is Append keyed by metric name; the usual entry point for the
// ingestor and the telemetry collector.
func (s *Store) AppendByName(ctx context.Context, name string, value float64, labels map[string]string, ts time.Time) (*models.Sample, error) {
	if s.closing.Load() {
		return nil, apperr.ShuttingDown()
	}
	m, err := s.reg.GetByName(ctx, name)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.UnknownMetric(name)
		}
		return nil, err
	}
	return s.append(ctx, m, value, labels, ts)
}

func (s *Store) append(ctx context.Context, m *models.Metric, value float64, labels map[string]string, ts time.Time) (*models.Sample, error) {
	if !m.AllowsLabels(labels) {
		return nil, apperr.LabelsRejected(m.Name, rejectedKeys(m, labels))
	}
	if ts.IsZero() {
		ts = s.clk.Now()
	}
	sample := &models.Sample{
		MetricID:  m.ID,
		Value:     value,
		Timestamp: ts.UTC(),
		Labels:    labels,
	}
	if err := sample.EncodeLabels(); err != nil {
		return nil, apperr.Invalid("labels", err.Error())
	}

	mu := &s.appendMu[uint64(m.ID)%appendStripes]
	mu.Lock()
	defer mu.Unlock()
	if err := s.samples.Append(ctx, sample); err != nil {
		return nil, err
	}
	metrics.SamplesAppendedTotal.Inc()
	return sample, nil
}

// IncrBy appends the series' previous cumulative value plus delta. Counter
// metrics carry cumulative values per series, so event projections increment
// through here rather than appending raw deltas.
func (s *Store) IncrBy(ctx context.Context, name string, delta float64, labels map[string]string, ts time.Time) (*models.Sample, error) {
	if s.closing.Load() {
		return nil, apperr.ShuttingDown()
	}
	m, err := s.reg.GetByName(ctx, name)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.UnknownMetric(name)
		}
		return nil, err
	}
	if !m.AllowsLabels(labels) {
		return nil, apperr.LabelsRejected(m.Name, rejectedKeys(m, labels))
	}

	// serialize the read-modify-write per metric so concurrent increments
	// never observe the same running total
	incr := &s.incrMu[uint64(m.ID)%appendStripes]
	incr.Lock()
	defer incr.Unlock()

	hash := models.HashLabels(labels)
	s.lastMu.Lock()
	series, ok := s.lastValue[m.ID]
	if !ok {
		series = make(map[uint64]float64)
		s.lastValue[m.ID] = series
	}
	prev, cached := series[hash]
	s.lastMu.Unlock()

	if !cached {
		// cold series: recover the running total from storage
		last, err := s.Latest(ctx, m.ID, labels)
		if err != nil {
			return nil, err
		}
		if last != nil && models.HashLabels(last.Labels) == hash {
			prev = last.Value
		}
	}

	sample, err := s.append(ctx, m, prev+delta, labels, ts)
	if err != nil {
		return nil, err
	}
	s.lastMu.Lock()
	s.lastValue[m.ID][hash] = sample.Value
	s.lastMu.Unlock()
	return sample, nil
}

func rejectedKeys(m *models.Metric, labels map[string]string) []string {
	allowed := make(map[string]bool, len(m.LabelSchema))
	for _, k := range m.LabelSchema {
		allowed[k] = true
	}
	var bad []string
	for k := range labels {
		if !allowed[k] {
			bad = append(bad, k)
		}
	}
	sort.Strings(bad)
	return bad
}

// Query folds samples of one metric into bucket values. A zero To defaults to
// now; a zero Bucket yields a single bucket covering [From, To). Missing data
// is an empty result, never an error.
func (s *Store) Query(ctx context.Context, q models.SampleQuery) ([]models.BucketValue, error) {
	if !q.Agg.Valid() {
		return nil, apperr.Invalid("agg", "unknown aggregation")
	}
	if _, err := s.reg.GetByID(ctx, q.MetricID); err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, apperr.UnknownMetric(strconv.FormatInt(q.MetricID, 10))
		}
		return nil, err
	}
	to := q.To
	if to.IsZero() {
		to = s.clk.Now()
	}
	from := q.From
	if !from.Before(to) {
		return nil, nil
	}

	fetchFrom := from
	if q.Agg == models.AggRate {
		// Pull one extra window back so each series has a baseline sample
		// (the prune anchor) for the first bucket.
		fetchFrom = from.Add(-to.Sub(from))
	}
	rows, err := s.samples.ListRange(ctx, q.MetricID, fetchFrom, to)
	if err != nil {
		return nil, err
	}

	matched := rows[:0:0]
	for _, r := range rows {
		if r.MatchLabels(q.LabelMatch) {
			matched = append(matched, r)
		}
	}
	if len(matched) == 0 {
		return nil, nil
	}

	if q.Agg == models.AggRate {
		return rateBuckets(matched, from, to, q.Bucket), nil
	}
	return foldBuckets(matched, from, to, q.Bucket, q.Agg), nil
}

// Latest returns the newest sample of the metric matching the label
// constraints, or nil when none exists. An empty match takes the repository
// fast path.
func (s *Store) Latest(ctx context.Context, metricID int64, labelMatch map[string]string) (*models.Sample, error) {
	if len(labelMatch) == 0 {
		return s.samples.Latest(ctx, metricID)
	}
	// Matched lookups scan a bounded recent window.
	to := s.clk.Now().Add(time.Second)
	rows, err := s.samples.ListRange(ctx, metricID, to.Add(-24*time.Hour), to)
	if err != nil {
		return nil, err
	}
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].MatchLabels(labelMatch) {
			return rows[i], nil
		}
	}
	return nil, nil
}

// Prune removes samples older than before, keeping one anchor per series for
// open-window rate computation. Returns rows removed.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	n, err := s.samples.PruneBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("samples pruned", "before", before, "removed", n)
	}
	return n, nil
}

// bucketStart aligns ts down to a bucket boundary relative to the UTC epoch.
// A zero bucket collapses everything into one bucket starting at from.
func bucketStart(ts, from time.Time, bucket time.Duration) time.Time {
	if bucket <= 0 {
		return from
	}
	return ts.UTC().Truncate(bucket)
}

func foldBuckets(rows []*models.Sample, from, to time.Time, bucket time.Duration, agg models.Aggregation) []models.BucketValue {
	type acc struct {
		sum   float64
		count int
		min   float64
		max   float64
		last  float64
	}
	buckets := make(map[time.Time]*acc)
	var order []time.Time
	for _, r := range rows {
		if r.Timestamp.Before(from) || !r.Timestamp.Before(to) {
			continue
		}
		bs := bucketStart(r.Timestamp, from, bucket)
		a, ok := buckets[bs]
		if !ok {
			a = &acc{min: r.Value, max: r.Value}
			buckets[bs] = a
			order = append(order, bs)
		}
		a.sum += r.Value
		a.count++
		if r.Value < a.min {
			a.min = r.Value
		}
		if r.Value > a.max {
			a.max = r.Value
		}
		a.last = r.Value // rows arrive ordered by timestamp then id
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	out := make([]models.BucketValue, 0, len(order))
	for _, bs := range order {
		a := buckets[bs]
		var v float64
		switch agg {
		case models.AggSum:
			v = a.sum
		case models.AggAvg:
			v = a.sum / float64(a.count)
		case models.AggMin:
			v = a.min
		case models.AggMax:
			v = a.max
		case models.AggLast:
			v = a.last
		}
		out = append(out, models.BucketValue{BucketStart: bs, Value: v})
	}
	return out
}

// rateBuckets computes per-bucket counter rates. Within a series (one
// labels_hash) a value strictly below its predecessor is a counter reset and
// restarts the segment; rates are never negative. Rates of matching series
// are summed per bucket.
func rateBuckets(rows []*models.Sample, from, to time.Time, bucket time.Duration) []models.BucketValue {
	width := bucket
	if width <= 0 {
		width = to.Sub(from)
	}

	type seg struct {
		first float64
		last  float64
		seen  bool
	}
	// bucket start -> series hash -> segment
	buckets := make(map[time.Time]map[uint64]*seg)
	// carry the newest pre-bucket value per series as the segment baseline
	baseline := make(map[uint64]float64)
	haveBase := make(map[uint64]bool)

	var order []time.Time
	for _, r := range rows {
		h := r.LabelsHash
		if h == 0 && len(r.Labels) > 0 {
			h = models.HashLabels(r.Labels)
		}
		if r.Timestamp.Before(from) {
			baseline[h] = r.Value
			haveBase[h] = true
			continue
		}
		if !r.Timestamp.Before(to) {
			continue
		}
		bs := bucketStart(r.Timestamp, from, bucket)
		series, ok := buckets[bs]
		if !ok {
			series = make(map[uint64]*seg)
			buckets[bs] = series
			order = append(order, bs)
		}
		sg, ok := series[h]
		if !ok {
			first := r.Value
			if haveBase[h] && baseline[h] <= r.Value {
				first = baseline[h]
			}
			sg = &seg{first: first, last: r.Value, seen: true}
			series[h] = sg
		} else {
			if r.Value < sg.last {
				// reset: the segment restarts here
				sg.first = r.Value
			}
			sg.last = r.Value
		}
		baseline[h] = r.Value
		haveBase[h] = true
	}
	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })

	out := make([]models.BucketValue, 0, len(order))
	secs := width.Seconds()
	for _, bs := range order {
		var total float64
		for _, sg := range buckets[bs] {
			d := sg.last - sg.first
			if d > 0 {
				total += d
			}
		}
		out = append(out, models.BucketValue{BucketStart: bs, Value: total / secs})
	}
	return out
}

// IsShuttingDown reports whether err is the store's shutdown refusal.
func IsShuttingDown(err error) bool {
	return errors.Is(err, apperr.ShuttingDown())
}
