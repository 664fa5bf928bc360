package aggregate_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-backend/internal/aggregate"
	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/registry"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
	"github.com/pulseboard/pulseboard-backend/internal/store"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	engine *aggregate.Engine
	store  *store.Store
	reg    *registry.Registry
	clk    *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ports := repository.NewMemory().Ports()
	clk := clock.NewFake(testNow)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(ports.Metrics, clk, log)
	st := store.New(ports.Samples, reg, clk, log)
	return &fixture{
		engine: aggregate.New(st, reg, ports.Samples, clk),
		store:  st,
		reg:    reg,
		clk:    clk,
	}
}

func (f *fixture) metric(t *testing.T, name string, kind models.MetricKind, schema ...string) *models.Metric {
	t.Helper()
	m, err := f.reg.Define(context.Background(), &models.Metric{Name: name, Kind: kind, LabelSchema: schema})
	require.NoError(t, err)
	return m
}

func (f *fixture) append(t *testing.T, id int64, v float64, labels map[string]string, ts time.Time) {
	t.Helper()
	_, err := f.store.Append(context.Background(), id, v, labels, ts)
	require.NoError(t, err)
}

func TestSnapshotReturnsLatestValue(t *testing.T) {
	f := newFixture(t)
	m := f.metric(t, "memory_percent", models.MetricGauge)

	v, err := f.engine.Snapshot(context.Background(), m.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, v, "no samples yet")

	f.append(t, m.ID, 41.5, nil, testNow.Add(-2*time.Minute))
	f.append(t, m.ID, 43.0, nil, testNow.Add(-time.Minute))

	v, err = f.engine.Snapshot(context.Background(), m.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 43.0, *v)
}

func TestSnapshotHonorsLabelMatch(t *testing.T) {
	f := newFixture(t)
	m := f.metric(t, "disk_percent", models.MetricGauge, "mount")

	f.append(t, m.ID, 70, map[string]string{"mount": "/"}, testNow.Add(-time.Minute))
	f.append(t, m.ID, 20, map[string]string{"mount": "/data"}, testNow.Add(-30*time.Second))

	v, err := f.engine.Snapshot(context.Background(), m.ID, map[string]string{"mount": "/"})
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, 70.0, *v)
}

func TestSeriesCoversTrailingWindow(t *testing.T) {
	f := newFixture(t)
	m := f.metric(t, "load1", models.MetricGauge)

	f.append(t, m.ID, 1.0, nil, testNow.Add(-90*time.Minute)) // outside window
	f.append(t, m.ID, 2.0, nil, testNow.Add(-30*time.Minute))
	f.append(t, m.ID, 4.0, nil, testNow.Add(-10*time.Minute))

	points, err := f.engine.Series(context.Background(), m.ID, nil, time.Hour, 10*time.Minute, models.AggAvg)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 2.0, points[0].Value)
	assert.Equal(t, 4.0, points[1].Value)
}

func TestTopKRanksByWindowIncrease(t *testing.T) {
	f := newFixture(t)
	m := f.metric(t, "page_views", models.MetricCounter, "page")
	window := time.Hour
	in := testNow.Add(-30 * time.Minute)

	// Cumulative values: each series' contribution is its increase inside the
	// window, not its absolute total.
	f.append(t, m.ID, 100, map[string]string{"page": "home"}, testNow.Add(-2*window))
	f.append(t, m.ID, 103, map[string]string{"page": "home"}, in)
	f.append(t, m.ID, 5, map[string]string{"page": "pricing"}, in)
	f.append(t, m.ID, 12, map[string]string{"page": "pricing"}, in.Add(time.Minute))
	f.append(t, m.ID, 1, map[string]string{"page": "docs"}, in)

	out, err := f.engine.TopK(context.Background(), m.ID, "page", 2, window)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, models.GroupValue{Group: "pricing", Value: 12}, out[0])
	assert.Equal(t, models.GroupValue{Group: "home", Value: 3}, out[1])
}

func TestTopKBreaksTiesLexicographically(t *testing.T) {
	f := newFixture(t)
	m := f.metric(t, "user_logins", models.MetricCounter, "user_id")
	in := testNow.Add(-5 * time.Minute)

	f.append(t, m.ID, 2, map[string]string{"user_id": "beta"}, in)
	f.append(t, m.ID, 2, map[string]string{"user_id": "alpha"}, in)

	out, err := f.engine.TopK(context.Background(), m.ID, "user_id", 10, time.Hour)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "alpha", out[0].Group)
	assert.Equal(t, "beta", out[1].Group)
}

func TestTopKSkipsSamplesWithoutGroupKey(t *testing.T) {
	f := newFixture(t)
	m := f.metric(t, "api_errors", models.MetricCounter, "endpoint")
	in := testNow.Add(-5 * time.Minute)

	f.append(t, m.ID, 7, nil, in)
	f.append(t, m.ID, 3, map[string]string{"endpoint": "/v1/orders"}, in)

	out, err := f.engine.TopK(context.Background(), m.ID, "endpoint", 0, time.Hour)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "/v1/orders", out[0].Group)
}

func TestTopKCountsResetAsFullIncrease(t *testing.T) {
	f := newFixture(t)
	m := f.metric(t, "restart_counter", models.MetricCounter, "host")
	in := testNow.Add(-30 * time.Minute)

	f.append(t, m.ID, 50, map[string]string{"host": "a"}, in)
	f.append(t, m.ID, 55, map[string]string{"host": "a"}, in.Add(time.Minute))
	// reset to 2, then growth to 6: increase is 5 + 2 + 4
	f.append(t, m.ID, 2, map[string]string{"host": "a"}, in.Add(2*time.Minute))
	f.append(t, m.ID, 6, map[string]string{"host": "a"}, in.Add(3*time.Minute))

	out, err := f.engine.TopK(context.Background(), m.ID, "host", 1, time.Hour)
	require.NoError(t, err)
	require.Len(t, out, 1)
	// first in-window sample has no baseline so it counts from zero: 50
	assert.Equal(t, 50.0+5+2+4, out[0].Value)
}

func TestDiffComparesPeriods(t *testing.T) {
	f := newFixture(t)
	m := f.metric(t, "signups", models.MetricGauge)

	a := aggregate.Period{From: testNow.Add(-2 * time.Hour), To: testNow.Add(-time.Hour)}
	b := aggregate.Period{From: testNow.Add(-time.Hour), To: testNow}

	f.append(t, m.ID, 10, nil, a.From.Add(time.Minute))
	f.append(t, m.ID, 20, nil, a.From.Add(2*time.Minute))
	f.append(t, m.ID, 50, nil, b.From.Add(time.Minute))

	res, err := f.engine.Diff(context.Background(), m.ID, nil, models.AggSum, a, b)
	require.NoError(t, err)
	assert.Equal(t, 30.0, res.ValueA)
	assert.Equal(t, 50.0, res.ValueB)
	assert.Equal(t, 20.0, res.Delta)
}

func TestDiffEmptyPeriodContributesZero(t *testing.T) {
	f := newFixture(t)
	m := f.metric(t, "refunds", models.MetricGauge)

	a := aggregate.Period{From: testNow.Add(-2 * time.Hour), To: testNow.Add(-time.Hour)}
	b := aggregate.Period{From: testNow.Add(-time.Hour), To: testNow}
	f.append(t, m.ID, 8, nil, b.From.Add(time.Minute))

	res, err := f.engine.Diff(context.Background(), m.ID, nil, models.AggSum, a, b)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.ValueA)
	assert.Equal(t, 8.0, res.ValueB)
	assert.Equal(t, 8.0, res.Delta)
}
