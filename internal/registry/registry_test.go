package registry_test

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
)

var regNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	ports := repository.NewMemory().Ports()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return registry.New(ports.Metrics, clock.NewFake(regNow), log)
}

func TestDefineAssignsIDAndTimestamps(t *testing.T) {
	reg := newTestRegistry(t)

	m, err := reg.Define(context.Background(), &models.Metric{
		Name: "response_time_ms",
		Kind: models.MetricGauge,
		Unit: "ms",
	})
	require.NoError(t, err)
	assert.NotZero(t, m.ID)
	assert.Equal(t, regNow, m.CreatedAt)
	assert.Equal(t, regNow, m.UpdatedAt)
}

func TestDefineValidatesNameAndKind(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Define(ctx, &models.Metric{Kind: models.MetricGauge})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))

	_, err = reg.Define(ctx, &models.Metric{Name: "x", Kind: "histogram"})
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestDefineRejectsDuplicateName(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Define(ctx, &models.Metric{Name: "page_views", Kind: models.MetricCounter})
	require.NoError(t, err)

	_, err = reg.Define(ctx, &models.Metric{Name: "page_views", Kind: models.MetricGauge})
	require.Error(t, err)
	assert.Equal(t, apperr.KindDuplicateName, apperr.KindOf(err))
}

func TestEnsureTolerateExisting(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()
	def := &models.Metric{Name: "page_views", Kind: models.MetricCounter}

	require.NoError(t, reg.Ensure(ctx, def))
	require.NoError(t, reg.Ensure(ctx, &models.Metric{Name: "page_views", Kind: models.MetricCounter}))

	list, err := reg.List(ctx, models.MetricFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestGetByNameAndID(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Define(ctx, &models.Metric{Name: "cpu_percent", Kind: models.MetricGauge})
	require.NoError(t, err)

	byName, err := reg.GetByName(ctx, "cpu_percent")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	byID, err := reg.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "cpu_percent", byID.Name)

	_, err = reg.GetByName(ctx, "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestListFilters(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.Define(ctx, &models.Metric{Name: "page_views", Kind: models.MetricCounter, Category: "activity"})
	require.NoError(t, err)
	_, err = reg.Define(ctx, &models.Metric{Name: "cpu_percent", Kind: models.MetricGauge, Category: "system"})
	require.NoError(t, err)

	counters, err := reg.List(ctx, models.MetricFilter{Kind: models.MetricCounter})
	require.NoError(t, err)
	require.Len(t, counters, 1)
	assert.Equal(t, "page_views", counters[0].Name)

	system, err := reg.List(ctx, models.MetricFilter{Category: "system"})
	require.NoError(t, err)
	require.Len(t, system, 1)
	assert.Equal(t, "cpu_percent", system[0].Name)
}

func TestUpdateInvalidatesCache(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	m, err := reg.Define(ctx, &models.Metric{Name: "latency_ms", Kind: models.MetricGauge, Unit: "ms"})
	require.NoError(t, err)

	// warm the cache
	_, err = reg.GetByID(ctx, m.ID)
	require.NoError(t, err)

	m.Description = "p99 request latency"
	require.NoError(t, reg.Update(ctx, m))

	got, err := reg.GetByID(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "p99 request latency", got.Description)
}

func TestDeleteRemovesDefinition(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	m, err := reg.Define(ctx, &models.Metric{Name: "obsolete", Kind: models.MetricGauge})
	require.NoError(t, err)
	require.NoError(t, reg.Delete(ctx, m.ID))

	_, err = reg.GetByID(ctx, m.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(reg.Delete(ctx, m.ID)))
}

func TestNameForIDFallsBackToNumeric(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	m, err := reg.Define(ctx, &models.Metric{Name: "known", Kind: models.MetricGauge})
	require.NoError(t, err)
	assert.Equal(t, "known", reg.NameForID(ctx, m.ID))
	assert.Equal(t, "404", reg.NameForID(ctx, 404))
}
