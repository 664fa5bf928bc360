// Package aggregate composes query answers for widgets, reports and alerts
// from the sample store. Every operation is a pure function of the store's
// contents at invocation time.
package aggregate

import (
	"context"
	"sort"
	"time"

	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/registry"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
	"github.com/pulseboard/pulseboard-backend/internal/store"
)

// Engine answers snapshot, series, top-k and diff queries.
type Engine struct {
	store   *store.Store
	reg     *registry.Registry
	samples repository.SampleRepo
	clk     clock.Clock
}

// New creates an aggregation engine over the given store.
func New(st *store.Store, reg *registry.Registry, samples repository.SampleRepo, clk clock.Clock) *Engine {
	return &Engine{store: st, reg: reg, samples: samples, clk: clk}
}

// Snapshot returns the latest value for the metric under the label match, or
// nil when the metric has no matching samples.
func (e *Engine) Snapshot(ctx context.Context, metricID int64, labelMatch map[string]string) (*float64, error) {
	s, err := e.store.Latest(ctx, metricID, labelMatch)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	v := s.Value
	return &v, nil
}

// Series returns ordered (bucket_start, value) pairs for the trailing window.
// Buckets are right-open intervals aligned to the UTC epoch.
func (e *Engine) Series(ctx context.Context, metricID int64, labelMatch map[string]string, window, bucket time.Duration, agg models.Aggregation) ([]models.BucketValue, error) {
	now := e.clk.Now()
	return e.store.Query(ctx, models.SampleQuery{
		MetricID:   metricID,
		From:       now.Add(-window),
		To:         now,
		LabelMatch: labelMatch,
		Agg:        agg,
		Bucket:     bucket,
	})
}

// TopK ranks distinct values of the groupBy label key over the trailing
// window and returns the k largest groups, descending by value with ties
// broken by lexicographic group order. Series values are cumulative, so each
// series contributes its window increase; samples lacking the key are
// skipped.
func (e *Engine) TopK(ctx context.Context, metricID int64, groupBy string, k int, window time.Duration) ([]models.GroupValue, error) {
	now := e.clk.Now()
	from := now.Add(-window)
	// one extra window back supplies a baseline per series; a series first
	// seen inside the window counts from zero
	rows, err := e.samples.ListRange(ctx, metricID, from.Add(-window), now)
	if err != nil {
		return nil, err
	}
	type span struct {
		group string
		prev  float64
		inc   float64
	}
	series := make(map[uint64]*span)
	for _, r := range rows {
		g, ok := r.Labels[groupBy]
		if !ok {
			continue
		}
		h := r.LabelsHash
		if h == 0 && len(r.Labels) > 0 {
			h = models.HashLabels(r.Labels)
		}
		sp, ok := series[h]
		if !ok {
			sp = &span{group: g}
			series[h] = sp
		}
		if r.Timestamp.Before(from) {
			sp.prev = r.Value
		} else if r.Value >= sp.prev {
			sp.inc += r.Value - sp.prev
		} else {
			// counter reset: the new value is the whole increase
			sp.inc += r.Value
		}
		if !r.Timestamp.Before(from) {
			sp.prev = r.Value
		}
	}
	totals := make(map[string]float64)
	for _, sp := range series {
		totals[sp.group] += sp.inc
	}
	out := make([]models.GroupValue, 0, len(totals))
	for g, v := range totals {
		out = append(out, models.GroupValue{Group: g, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Group < out[j].Group
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Period is a closed-open time interval for comparison queries.
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// DiffResult compares one aggregation across two periods.
type DiffResult struct {
	PeriodA Period  `json:"period_a"`
	PeriodB Period  `json:"period_b"`
	ValueA  float64 `json:"value_a"`
	ValueB  float64 `json:"value_b"`
	Delta   float64 `json:"delta"`
}

// Diff folds the metric over two periods with the same aggregation and
// reports both values and their difference (B minus A). A period with no
// samples contributes zero.
func (e *Engine) Diff(ctx context.Context, metricID int64, labelMatch map[string]string, agg models.Aggregation, a, b Period) (*DiffResult, error) {
	va, err := e.foldPeriod(ctx, metricID, labelMatch, agg, a)
	if err != nil {
		return nil, err
	}
	vb, err := e.foldPeriod(ctx, metricID, labelMatch, agg, b)
	if err != nil {
		return nil, err
	}
	return &DiffResult{PeriodA: a, PeriodB: b, ValueA: va, ValueB: vb, Delta: vb - va}, nil
}

func (e *Engine) foldPeriod(ctx context.Context, metricID int64, labelMatch map[string]string, agg models.Aggregation, p Period) (float64, error) {
	buckets, err := e.store.Query(ctx, models.SampleQuery{
		MetricID:   metricID,
		From:       p.From,
		To:         p.To,
		LabelMatch: labelMatch,
		Agg:        agg,
	})
	if err != nil {
		return 0, err
	}
	if len(buckets) == 0 {
		return 0, nil
	}
	return buckets[0].Value, nil
}
