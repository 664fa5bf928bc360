package ingest_test

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/ingest"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/registry"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
	"github.com/pulseboard/pulseboard-backend/internal/store"
)

var ingestNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type capturePublisher struct {
	mu     sync.Mutex
	events []*models.Event
}

func (p *capturePublisher) Publish(e *models.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *capturePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type ingestFixture struct {
	ingestor  *ingest.Ingestor
	store     *store.Store
	reg       *registry.Registry
	clk       *clock.Fake
	publisher *capturePublisher
}

func newIngestFixture(t *testing.T, maxPayload int) *ingestFixture {
	t.Helper()
	ports := repository.NewMemory().Ports()
	clk := clock.NewFake(ingestNow)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(ports.Metrics, clk, log)
	for _, m := range ingest.BuiltinMetrics() {
		require.NoError(t, reg.Ensure(context.Background(), m))
	}
	st := store.New(ports.Samples, reg, clk, log)
	pub := &capturePublisher{}
	return &ingestFixture{
		ingestor:  ingest.New(ports.Events, st, ingest.DefaultRoutes(), clk, log, pub, maxPayload),
		store:     st,
		reg:       reg,
		clk:       clk,
		publisher: pub,
	}
}

func TestIngestPersistsAndProjects(t *testing.T) {
	f := newIngestFixture(t, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.clk.Advance(time.Second)
		id, err := f.ingestor.Ingest(ctx, &models.Event{
			EventType: "page_view",
			Payload:   map[string]string{"page": "dashboard"},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, id)
	}

	m, err := f.reg.GetByName(ctx, "page_views")
	require.NoError(t, err)
	latest, err := f.store.Latest(ctx, m.ID, map[string]string{"page": "dashboard"})
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3.0, latest.Value, "projection keeps a cumulative per-series total")

	events, err := f.ingestor.List(ctx, models.EventFilter{EventType: "page_view"})
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, 3, f.publisher.count())
}

func TestIngestUnknownTypePersistsWithoutProjection(t *testing.T) {
	f := newIngestFixture(t, 0)
	ctx := context.Background()

	id, err := f.ingestor.Ingest(ctx, &models.Event{EventType: "custom_thing"})
	require.NoError(t, err)

	e, err := f.ingestor.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "custom_thing", e.EventType)
	assert.Equal(t, 1, f.publisher.count())
}

func TestIngestRejectsEmptyType(t *testing.T) {
	f := newIngestFixture(t, 0)

	_, err := f.ingestor.Ingest(context.Background(), &models.Event{})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
}

func TestIngestEnforcesPayloadSizeLimit(t *testing.T) {
	f := newIngestFixture(t, 64)

	_, err := f.ingestor.Ingest(context.Background(), &models.Event{
		EventType: "page_view",
		Payload:   map[string]string{"page": strings.Repeat("x", 100)},
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindInvalid, apperr.KindOf(err))
	assert.Equal(t, 0, f.publisher.count())
}

func TestIngestDefaultsTimestamp(t *testing.T) {
	f := newIngestFixture(t, 0)

	id, err := f.ingestor.Ingest(context.Background(), &models.Event{EventType: "user_signup"})
	require.NoError(t, err)
	e, err := f.ingestor.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ingestNow, e.Timestamp)
}

func TestProjectionParsesValueKey(t *testing.T) {
	f := newIngestFixture(t, 0)
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, &models.Event{
		EventType: "order_placed",
		Payload:   map[string]string{"amount": "24.50"},
	})
	require.NoError(t, err)
	_, err = f.ingestor.Ingest(ctx, &models.Event{
		EventType: "order_placed",
		Payload:   map[string]string{"amount": "10.00"},
	})
	require.NoError(t, err)

	revenue, err := f.reg.GetByName(ctx, "order_revenue")
	require.NoError(t, err)
	latest, err := f.store.Latest(ctx, revenue.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.InDelta(t, 34.50, latest.Value, 1e-9)

	placed, err := f.reg.GetByName(ctx, "orders_placed")
	require.NoError(t, err)
	latest, err = f.store.Latest(ctx, placed.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 2.0, latest.Value)
}

func TestProjectionFailureDoesNotBlockEvent(t *testing.T) {
	f := newIngestFixture(t, 0)
	ctx := context.Background()

	// amount is not numeric: the revenue projection fails, the event and the
	// occurrence projection still land
	id, err := f.ingestor.Ingest(ctx, &models.Event{
		EventType: "order_placed",
		Payload:   map[string]string{"amount": "free"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	placed, err := f.reg.GetByName(ctx, "orders_placed")
	require.NoError(t, err)
	latest, err := f.store.Latest(ctx, placed.ID, nil)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 1.0, latest.Value)

	revenue, err := f.reg.GetByName(ctx, "order_revenue")
	require.NoError(t, err)
	latest, err = f.store.Latest(ctx, revenue.ID, nil)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestProjectionFallsBackToEventUserID(t *testing.T) {
	f := newIngestFixture(t, 0)
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, &models.Event{
		EventType: "user_login",
		UserID:    "u-42",
	})
	require.NoError(t, err)

	logins, err := f.reg.GetByName(ctx, "user_logins")
	require.NoError(t, err)
	latest, err := f.store.Latest(ctx, logins.ID, map[string]string{"user_id": "u-42"})
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 1.0, latest.Value)
}

func TestPruneRemovesOldEvents(t *testing.T) {
	f := newIngestFixture(t, 0)
	ctx := context.Background()

	_, err := f.ingestor.Ingest(ctx, &models.Event{
		EventType: "page_view",
		Timestamp: ingestNow.AddDate(0, 0, -40),
	})
	require.NoError(t, err)
	_, err = f.ingestor.Ingest(ctx, &models.Event{
		EventType: "page_view",
		Timestamp: ingestNow,
	})
	require.NoError(t, err)

	removed, err := f.ingestor.Prune(ctx, ingestNow.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	events, err := f.ingestor.List(ctx, models.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
