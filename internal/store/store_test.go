package store_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/registry"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
	"github.com/pulseboard/pulseboard-backend/internal/store"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*store.Store, *registry.Registry, *clock.Fake) {
	t.Helper()
	ports := repository.NewMemory().Ports()
	clk := clock.NewFake(testStart)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(ports.Metrics, clk, log)
	return store.New(ports.Samples, reg, clk, log), reg, clk
}

func defineMetric(t *testing.T, reg *registry.Registry, name string, kind models.MetricKind, schema ...string) *models.Metric {
	t.Helper()
	m, err := reg.Define(context.Background(), &models.Metric{
		Name:        name,
		Kind:        kind,
		LabelSchema: schema,
	})
	require.NoError(t, err)
	return m
}

func TestAppendAndQuerySum(t *testing.T) {
	st, reg, _ := newTestStore(t)
	ctx := context.Background()
	m := defineMetric(t, reg, "response_time_ms", models.MetricGauge)

	for i, v := range []float64{10, 20, 30} {
		_, err := st.Append(ctx, m.ID, v, nil, testStart.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	points, err := st.Query(ctx, models.SampleQuery{
		MetricID: m.ID,
		From:     testStart,
		To:       testStart.Add(5 * time.Minute),
		Agg:      models.AggSum,
		Bucket:   time.Minute,
	})
	require.NoError(t, err)
	require.Len(t, points, 3)
	assert.Equal(t, 10.0, points[0].Value)
	assert.Equal(t, 20.0, points[1].Value)
	assert.Equal(t, 30.0, points[2].Value)
	assert.True(t, points[0].BucketStart.Before(points[1].BucketStart))
}

func TestQuerySingleBucketAggregations(t *testing.T) {
	st, reg, _ := newTestStore(t)
	ctx := context.Background()
	m := defineMetric(t, reg, "cpu_percent", models.MetricGauge)

	for i, v := range []float64{40, 80, 60} {
		_, err := st.Append(ctx, m.ID, v, nil, testStart.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}
	q := models.SampleQuery{
		MetricID: m.ID,
		From:     testStart,
		To:       testStart.Add(time.Minute),
	}

	cases := map[models.Aggregation]float64{
		models.AggSum:  180,
		models.AggAvg:  60,
		models.AggMin:  40,
		models.AggMax:  80,
		models.AggLast: 60,
	}
	for agg, want := range cases {
		q.Agg = agg
		points, err := st.Query(ctx, q)
		require.NoError(t, err, "agg %s", agg)
		require.Len(t, points, 1, "agg %s", agg)
		assert.Equal(t, want, points[0].Value, "agg %s", agg)
	}
}

func TestQueryEmptyWindowReturnsNoBuckets(t *testing.T) {
	st, reg, _ := newTestStore(t)
	m := defineMetric(t, reg, "empty_metric", models.MetricGauge)

	points, err := st.Query(context.Background(), models.SampleQuery{
		MetricID: m.ID,
		From:     testStart,
		To:       testStart.Add(time.Hour),
		Agg:      models.AggSum,
	})
	require.NoError(t, err)
	assert.Empty(t, points)
}

func TestAppendRejectsLabelsOutsideSchema(t *testing.T) {
	st, reg, _ := newTestStore(t)
	m := defineMetric(t, reg, "page_views", models.MetricCounter, "page", "user_id")

	_, err := st.Append(context.Background(), m.ID, 1, map[string]string{
		"page":  "home",
		"bogus": "x",
	}, time.Time{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindLabelsRejected, apperr.KindOf(err))

	_, err = st.Append(context.Background(), m.ID, 1, map[string]string{"page": "home"}, time.Time{})
	assert.NoError(t, err)
}

func TestAppendUnknownMetric(t *testing.T) {
	st, _, _ := newTestStore(t)

	_, err := st.Append(context.Background(), 999, 1, nil, time.Time{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnknownMetric, apperr.KindOf(err))

	_, err = st.AppendByName(context.Background(), "nope", 1, nil, time.Time{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnknownMetric, apperr.KindOf(err))
}

func TestShutdownRefusesAppendsButServesQueries(t *testing.T) {
	st, reg, _ := newTestStore(t)
	ctx := context.Background()
	m := defineMetric(t, reg, "requests", models.MetricCounter)

	_, err := st.Append(ctx, m.ID, 1, nil, testStart)
	require.NoError(t, err)

	st.Shutdown()
	assert.True(t, st.Draining())

	_, err = st.Append(ctx, m.ID, 2, nil, testStart.Add(time.Second))
	assert.Equal(t, apperr.KindShuttingDown, apperr.KindOf(err))
	_, err = st.AppendByName(ctx, "requests", 2, nil, time.Time{})
	assert.Equal(t, apperr.KindShuttingDown, apperr.KindOf(err))

	points, err := st.Query(ctx, models.SampleQuery{
		MetricID: m.ID,
		From:     testStart.Add(-time.Minute),
		To:       testStart.Add(time.Minute),
		Agg:      models.AggSum,
	})
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestRateHandlesCounterReset(t *testing.T) {
	st, reg, _ := newTestStore(t)
	ctx := context.Background()
	m := defineMetric(t, reg, "reset_counter", models.MetricCounter)

	// Cumulative series with a reset: 10, 20, then the process restarts and
	// the counter rebuilds from 5 to 15.
	for i, v := range []float64{10, 20, 5, 15} {
		_, err := st.Append(ctx, m.ID, v, nil, testStart.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	from := testStart
	to := testStart.Add(4 * time.Minute)
	points, err := st.Query(ctx, models.SampleQuery{
		MetricID: m.ID,
		From:     from,
		To:       to,
		Agg:      models.AggRate,
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	// The segment after the reset runs 5 -> 15; earlier increase is lost but
	// the rate never goes negative.
	assert.InDelta(t, 10.0/240.0, points[0].Value, 1e-9)
}

func TestRateUsesPreWindowAnchorAsBaseline(t *testing.T) {
	st, reg, _ := newTestStore(t)
	ctx := context.Background()
	m := defineMetric(t, reg, "anchored_counter", models.MetricCounter)

	// Anchor before the query window, then growth inside it.
	_, err := st.Append(ctx, m.ID, 100, nil, testStart.Add(-30*time.Minute))
	require.NoError(t, err)
	_, err = st.Append(ctx, m.ID, 160, nil, testStart.Add(30*time.Minute))
	require.NoError(t, err)

	points, err := st.Query(ctx, models.SampleQuery{
		MetricID: m.ID,
		From:     testStart,
		To:       testStart.Add(time.Hour),
		Agg:      models.AggRate,
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 60.0/3600.0, points[0].Value, 1e-9)
}

func TestRateSumsAcrossSeries(t *testing.T) {
	st, reg, _ := newTestStore(t)
	ctx := context.Background()
	m := defineMetric(t, reg, "multi_series_counter", models.MetricCounter, "page")

	for i, v := range []float64{1, 2, 3} {
		_, err := st.Append(ctx, m.ID, v, map[string]string{"page": "a"}, testStart.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}
	for i, v := range []float64{10, 14} {
		_, err := st.Append(ctx, m.ID, v, map[string]string{"page": "b"}, testStart.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	points, err := st.Query(ctx, models.SampleQuery{
		MetricID: m.ID,
		From:     testStart,
		To:       testStart.Add(10 * time.Minute),
		Agg:      models.AggRate,
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	// series a grows by 2, series b by 4, over a 600s window
	assert.InDelta(t, 6.0/600.0, points[0].Value, 1e-9)
}

func TestQueryFiltersByLabelMatch(t *testing.T) {
	st, reg, _ := newTestStore(t)
	ctx := context.Background()
	m := defineMetric(t, reg, "latency_ms", models.MetricGauge, "route")

	_, err := st.Append(ctx, m.ID, 5, map[string]string{"route": "/a"}, testStart)
	require.NoError(t, err)
	_, err = st.Append(ctx, m.ID, 50, map[string]string{"route": "/b"}, testStart.Add(time.Second))
	require.NoError(t, err)

	points, err := st.Query(ctx, models.SampleQuery{
		MetricID:   m.ID,
		From:       testStart,
		To:         testStart.Add(time.Minute),
		LabelMatch: map[string]string{"route": "/a"},
		Agg:        models.AggSum,
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 5.0, points[0].Value)
}

func TestIncrByAccumulatesPerSeries(t *testing.T) {
	st, reg, clk := newTestStore(t)
	ctx := context.Background()
	defineMetric(t, reg, "page_views", models.MetricCounter, "page")

	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		_, err := st.IncrBy(ctx, "page_views", 1, map[string]string{"page": "dashboard"}, time.Time{})
		require.NoError(t, err)
	}
	clk.Advance(time.Second)
	s, err := st.IncrBy(ctx, "page_views", 1, map[string]string{"page": "settings"}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1.0, s.Value)

	latest, err := st.Latest(ctx, s.MetricID, map[string]string{"page": "dashboard"})
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3.0, latest.Value)
}

func TestIncrByColdSeriesReadsLatest(t *testing.T) {
	ports := repository.NewMemory().Ports()
	clk := clock.NewFake(testStart)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(ports.Metrics, clk, log)
	m := defineMetric(t, reg, "orders", models.MetricCounter)
	ctx := context.Background()

	warm := store.New(ports.Samples, reg, clk, log)
	_, err := warm.Append(ctx, m.ID, 5, nil, testStart.Add(-time.Hour))
	require.NoError(t, err)

	// A new store has no cached running total and must recover it.
	cold := store.New(ports.Samples, reg, clk, log)
	s, err := cold.IncrBy(ctx, "orders", 2, nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 7.0, s.Value)
}

func TestPruneKeepsNewestAnchorPerSeries(t *testing.T) {
	st, reg, _ := newTestStore(t)
	ctx := context.Background()
	m := defineMetric(t, reg, "prunable", models.MetricCounter)

	cutoff := testStart
	for i, v := range []float64{1, 2, 3} {
		_, err := st.Append(ctx, m.ID, v, nil, cutoff.Add(time.Duration(i-3)*time.Hour))
		require.NoError(t, err)
	}
	_, err := st.Append(ctx, m.ID, 4, nil, cutoff.Add(time.Hour))
	require.NoError(t, err)

	removed, err := st.Prune(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	// The anchor (value 3) survives and still baselines rate queries.
	points, err := st.Query(ctx, models.SampleQuery{
		MetricID: m.ID,
		From:     cutoff,
		To:       cutoff.Add(2 * time.Hour),
		Agg:      models.AggRate,
	})
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.InDelta(t, 1.0/7200.0, points[0].Value, 1e-9)
}

func TestLatestWithoutMatchTakesFastPath(t *testing.T) {
	st, reg, _ := newTestStore(t)
	ctx := context.Background()
	m := defineMetric(t, reg, "signal", models.MetricGauge)

	latest, err := st.Latest(ctx, m.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, latest)

	_, err = st.Append(ctx, m.ID, 42, nil, testStart)
	require.NoError(t, err)
	latest, err = st.Latest(ctx, m.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 42.0, latest.Value)
}

func TestQueryRejectsUnknownAggregation(t *testing.T) {
	st, reg, _ := newTestStore(t)
	m := defineMetric(t, reg, "anything", models.MetricGauge)

	_, err := st.Query(context.Background(), models.SampleQuery{
		MetricID: m.ID,
		From:     testStart,
		To:       testStart.Add(time.Minute),
		Agg:      "median",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}
