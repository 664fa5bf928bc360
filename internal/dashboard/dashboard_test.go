package dashboard_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-backend/internal/aggregate"
	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/dashboard"
	"github.com/pulseboard/pulseboard-backend/internal/ingest"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/registry"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
	"github.com/pulseboard/pulseboard-backend/internal/store"
)

var dashNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type dashFixture struct {
	engine *dashboard.Engine
	reg    *registry.Registry
	store  *store.Store
	clk    *clock.Fake
}

func newDashFixture(t *testing.T) *dashFixture {
	t.Helper()
	ports := repository.NewMemory().Ports()
	clk := clock.NewFake(dashNow)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(ports.Metrics, clk, log)
	st := store.New(ports.Samples, reg, clk, log)
	agg := aggregate.New(st, reg, ports.Samples, clk)
	ing := ingest.New(ports.Events, st, nil, clk, log, nil, 0)
	return &dashFixture{
		engine: dashboard.New(ports.Dashboards, ports.Widgets, agg, reg, ing, clk, log),
		reg:    reg,
		store:  st,
		clk:    clk,
	}
}

func (f *dashFixture) dashboard(t *testing.T, owner string, public bool) *models.Dashboard {
	t.Helper()
	d, err := f.engine.Create(context.Background(), &models.Dashboard{
		Name:     "ops overview",
		UserID:   owner,
		IsPublic: public,
	})
	require.NoError(t, err)
	return d
}

func (f *dashFixture) widget(t *testing.T, dashID, owner string, w *models.Widget) *models.Widget {
	t.Helper()
	w.DashboardID = dashID
	created, err := f.engine.AddWidget(context.Background(), w, owner)
	require.NoError(t, err)
	return created
}

func TestCreateValidatesDashboard(t *testing.T) {
	f := newDashFixture(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, &models.Dashboard{UserID: "alice"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = f.engine.Create(ctx, &models.Dashboard{Name: "ops"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestCreateDefaultClearsPreviousDefault(t *testing.T) {
	f := newDashFixture(t)
	ctx := context.Background()

	first, err := f.engine.Create(ctx, &models.Dashboard{Name: "old home", UserID: "alice", IsDefault: true})
	require.NoError(t, err)

	_, err = f.engine.Create(ctx, &models.Dashboard{Name: "new home", UserID: "alice", IsDefault: true})
	require.NoError(t, err)

	got, err := f.engine.Get(ctx, first.ID, "alice")
	require.NoError(t, err)
	assert.False(t, got.IsDefault)
}

func TestGetEnforcesVisibility(t *testing.T) {
	f := newDashFixture(t)
	ctx := context.Background()
	private := f.dashboard(t, "alice", false)
	public := f.dashboard(t, "alice", true)

	_, err := f.engine.Get(ctx, private.ID, "bob")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	got, err := f.engine.Get(ctx, public.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, public.ID, got.ID)
}

func TestUpdateAndDeleteAreOwnerOnly(t *testing.T) {
	f := newDashFixture(t)
	ctx := context.Background()
	d := f.dashboard(t, "alice", true)

	d.Name = "renamed"
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(f.engine.Update(ctx, d, "bob")))
	require.NoError(t, f.engine.Update(ctx, d, "alice"))

	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(f.engine.Delete(ctx, d.ID, "bob")))
	require.NoError(t, f.engine.Delete(ctx, d.ID, "alice"))

	_, err := f.engine.Get(ctx, d.ID, "alice")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteCascadesWidgets(t *testing.T) {
	f := newDashFixture(t)
	ctx := context.Background()
	d := f.dashboard(t, "alice", true)
	w := f.widget(t, d.ID, "alice", &models.Widget{
		Kind: models.WidgetActivityFeed, Title: "feed", GridW: 4, GridH: 2,
	})

	require.NoError(t, f.engine.Delete(ctx, d.ID, "alice"))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(f.engine.DeleteWidget(ctx, w.ID, "alice")))
}

func TestAddWidgetValidatesGrid(t *testing.T) {
	f := newDashFixture(t)
	ctx := context.Background()
	d := f.dashboard(t, "alice", false)

	_, err := f.engine.AddWidget(ctx, &models.Widget{
		DashboardID: d.ID, Kind: models.WidgetChart, GridW: 0, GridH: 2,
	}, "alice")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = f.engine.AddWidget(ctx, &models.Widget{
		DashboardID: d.ID, Kind: models.WidgetChart, GridW: 13, GridH: 2,
	}, "alice")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = f.engine.AddWidget(ctx, &models.Widget{
		DashboardID: d.ID, Kind: "gauge_cluster", GridW: 2, GridH: 2,
	}, "alice")
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = f.engine.AddWidget(ctx, &models.Widget{
		DashboardID: d.ID, Kind: models.WidgetChart, GridW: 2, GridH: 2,
	}, "bob")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
}

func TestAddWidgetRejectsOverlap(t *testing.T) {
	f := newDashFixture(t)
	ctx := context.Background()
	d := f.dashboard(t, "alice", false)
	f.widget(t, d.ID, "alice", &models.Widget{
		Kind: models.WidgetChart, GridX: 0, GridY: 0, GridW: 4, GridH: 4,
	})

	_, err := f.engine.AddWidget(ctx, &models.Widget{
		DashboardID: d.ID, Kind: models.WidgetChart, GridX: 2, GridY: 2, GridW: 4, GridH: 4,
	}, "alice")
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	// touching edges do not overlap
	_, err = f.engine.AddWidget(ctx, &models.Widget{
		DashboardID: d.ID, Kind: models.WidgetChart, GridX: 4, GridY: 0, GridW: 4, GridH: 4,
	}, "alice")
	assert.NoError(t, err)
}

func TestUpdateWidgetSkipsSelfInOverlapCheck(t *testing.T) {
	f := newDashFixture(t)
	ctx := context.Background()
	d := f.dashboard(t, "alice", false)
	w := f.widget(t, d.ID, "alice", &models.Widget{
		Kind: models.WidgetChart, GridX: 0, GridY: 0, GridW: 4, GridH: 4,
	})

	w.Title = "retitled"
	assert.NoError(t, f.engine.UpdateWidget(ctx, w, "alice"))
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(f.engine.UpdateWidget(ctx, w, "bob")))
}

func TestWidgetsHonorDashboardVisibility(t *testing.T) {
	f := newDashFixture(t)
	ctx := context.Background()
	d := f.dashboard(t, "alice", false)
	f.widget(t, d.ID, "alice", &models.Widget{
		Kind: models.WidgetActivityFeed, GridW: 4, GridH: 2,
	})

	_, err := f.engine.Widgets(ctx, d.ID, "bob")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	list, err := f.engine.Widgets(ctx, d.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRenderResolvesMetricCard(t *testing.T) {
	f := newDashFixture(t)
	ctx := context.Background()

	_, err := f.reg.Define(ctx, &models.Metric{Name: "active_sessions", Kind: models.MetricGauge, Unit: "sessions"})
	require.NoError(t, err)
	_, err = f.store.AppendByName(ctx, "active_sessions", 17, nil, f.clk.Now())
	require.NoError(t, err)

	d := f.dashboard(t, "alice", false)
	f.widget(t, d.ID, "alice", &models.Widget{
		Kind: models.WidgetMetricCard, Title: "sessions", GridW: 2, GridH: 2,
		Config: models.WidgetConfig{MetricName: "active_sessions"},
	})

	res, err := f.engine.Render(ctx, d.ID, "alice")
	require.NoError(t, err)
	require.Len(t, res.Widgets, 1)
	require.Empty(t, res.Widgets[0].Error)

	card, ok := res.Widgets[0].Data.(*dashboard.MetricCardData)
	require.True(t, ok)
	require.NotNil(t, card.Value)
	assert.Equal(t, 17.0, *card.Value)
	assert.Equal(t, "sessions", card.Unit)
}

func TestRenderTagsUnknownMetricWithoutFailing(t *testing.T) {
	f := newDashFixture(t)
	ctx := context.Background()
	d := f.dashboard(t, "alice", false)
	f.widget(t, d.ID, "alice", &models.Widget{
		Kind: models.WidgetMetricCard, GridX: 0, GridY: 0, GridW: 2, GridH: 2, Position: 0,
		Config: models.WidgetConfig{MetricName: "no_such_metric"},
	})
	f.widget(t, d.ID, "alice", &models.Widget{
		Kind: models.WidgetActivityFeed, GridX: 4, GridY: 0, GridW: 4, GridH: 2, Position: 1,
	})

	res, err := f.engine.Render(ctx, d.ID, "alice")
	require.NoError(t, err)
	require.Len(t, res.Widgets, 2)
	assert.Equal(t, "unknown_metric", res.Widgets[0].Error)
	assert.Nil(t, res.Widgets[0].Data)
	assert.Empty(t, res.Widgets[1].Error)
}

func TestRenderChartUsesLastByDefault(t *testing.T) {
	f := newDashFixture(t)
	ctx := context.Background()

	_, err := f.reg.Define(ctx, &models.Metric{Name: "queue_depth", Kind: models.MetricGauge})
	require.NoError(t, err)
	base := f.clk.Now().Add(-10 * time.Minute)
	for i, v := range []float64{3, 9, 6} {
		_, err = f.store.AppendByName(ctx, "queue_depth", v, nil, base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	d := f.dashboard(t, "alice", false)
	f.widget(t, d.ID, "alice", &models.Widget{
		Kind: models.WidgetChart, GridW: 6, GridH: 4,
		Config: models.WidgetConfig{MetricName: "queue_depth", WindowSec: 3600, BucketSec: 3600, ChartType: "line"},
	})

	res, err := f.engine.Render(ctx, d.ID, "alice")
	require.NoError(t, err)
	require.Len(t, res.Widgets, 1)
	require.Empty(t, res.Widgets[0].Error)

	chart, ok := res.Widgets[0].Data.(*dashboard.ChartData)
	require.True(t, ok)
	require.Len(t, chart.Datasets, 1)
	require.Len(t, chart.Datasets[0].Data, 1)
	assert.Equal(t, 6.0, chart.Datasets[0].Data[0])
}
