// Package ingest accepts domain events, persists them, and projects each
// event to zero or more samples through a declarative routing table keyed by
// event type. Unknown event types persist but project nothing.
package ingest

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/clock"
	"github.com/pulseboard/pulseboard-backend/internal/models"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/metrics"
	"github.com/pulseboard/pulseboard-backend/internal/repository"
	"github.com/pulseboard/pulseboard-backend/internal/store"
)

// Projection maps one event occurrence onto one sample append.
type Projection struct {
	// MetricName is the registry name the sample lands on.
	MetricName string
	// Labels maps payload keys to label keys. A missing payload key simply
	// omits the label.
	Labels map[string]string
	// ValueKey names a payload key parsed as float64 for the sample value.
	// Empty means a constant 1 (occurrence counting).
	ValueKey string
}

// Routes is the routing table: event type to its projections.
type Routes map[string][]Projection

// DefaultRoutes returns the built-in event-to-sample projections covering
// the standard activity rollups.
func DefaultRoutes() Routes {
	return Routes{
		"page_view": {
			{MetricName: "page_views", Labels: map[string]string{"page": "page"}},
		},
		"user_login": {
			{MetricName: "user_logins", Labels: map[string]string{"user_id": "user_id"}},
		},
		"user_signup": {
			{MetricName: "user_signups"},
		},
		"api_error": {
			{MetricName: "api_errors", Labels: map[string]string{"endpoint": "endpoint", "error_class": "error_class"}},
		},
		"order_placed": {
			{MetricName: "orders_placed"},
			{MetricName: "order_revenue", ValueKey: "amount"},
		},
	}
}

// Publisher receives every accepted event; the websocket hub implements it.
type Publisher interface {
	Publish(e *models.Event)
}

// Ingestor persists events and applies their projections.
type Ingestor struct {
	events     repository.EventRepo
	store      *store.Store
	routes     Routes
	clk        clock.Clock
	logger     *slog.Logger
	publisher  Publisher
	maxPayload int
}

// New creates an ingestor. publisher may be nil; maxPayload <= 0 disables the
// size limit.
func New(events repository.EventRepo, st *store.Store, routes Routes, clk clock.Clock, logger *slog.Logger, publisher Publisher, maxPayload int) *Ingestor {
	if logger == nil {
		logger = slog.Default()
	}
	if routes == nil {
		routes = DefaultRoutes()
	}
	return &Ingestor{
		events:     events,
		store:      st,
		routes:     routes,
		clk:        clk,
		logger:     logger,
		publisher:  publisher,
		maxPayload: maxPayload,
	}
}

// Ingest persists the event and applies its projections. Only persistence
// failures and the payload size limit surface to the caller; projection
// failures are logged and counted.
func (i *Ingestor) Ingest(ctx context.Context, e *models.Event) (string, error) {
	if e.EventType == "" {
		return "", apperr.Invalid("event_type", "must not be empty")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = i.clk.Now()
	}
	if err := e.EncodePayload(); err != nil {
		return "", apperr.Invalid("payload", err.Error())
	}
	if i.maxPayload > 0 && len(e.PayloadRaw) > i.maxPayload {
		return "", apperr.Invalid("payload", "exceeds size limit")
	}
	if err := i.events.Create(ctx, e); err != nil {
		return "", err
	}
	metrics.EventsIngestedTotal.WithLabelValues(e.EventType).Inc()

	i.project(ctx, e)
	if i.publisher != nil {
		i.publisher.Publish(e)
	}
	return e.ID, nil
}

// List returns recent events for activity feeds.
func (i *Ingestor) List(ctx context.Context, filter models.EventFilter) ([]*models.Event, error) {
	return i.events.List(ctx, filter)
}

// Get returns one event by id.
func (i *Ingestor) Get(ctx context.Context, id string) (*models.Event, error) {
	return i.events.Get(ctx, id)
}

// Prune removes events older than before. Returns rows removed.
func (i *Ingestor) Prune(ctx context.Context, before time.Time) (int64, error) {
	n, err := i.events.PruneBefore(ctx, before)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		i.logger.Info("events pruned", "before", before, "removed", n)
	}
	return n, nil
}

func (i *Ingestor) project(ctx context.Context, e *models.Event) {
	for _, p := range i.routes[e.EventType] {
		value := 1.0
		if p.ValueKey != "" {
			raw, ok := e.Payload[p.ValueKey]
			if !ok {
				i.projectionFailed(e, p, "value key missing: "+p.ValueKey)
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				i.projectionFailed(e, p, "value not numeric: "+raw)
				continue
			}
			value = v
		}
		labels := make(map[string]string, len(p.Labels)+1)
		for payloadKey, labelKey := range p.Labels {
			if labelKey == "user_id" && e.Payload[payloadKey] == "" && e.UserID != "" {
				labels[labelKey] = e.UserID
				continue
			}
			if v, ok := e.Payload[payloadKey]; ok {
				labels[labelKey] = v
			}
		}
		// projections increment counters: the store keeps the cumulative
		// series value, so deltas go through IncrBy
		if _, err := i.store.IncrBy(ctx, p.MetricName, value, labels, e.Timestamp); err != nil {
			i.projectionFailed(e, p, err.Error())
		}
	}
}

func (i *Ingestor) projectionFailed(e *models.Event, p Projection, reason string) {
	metrics.ProjectionFailuresTotal.WithLabelValues(e.EventType).Inc()
	i.logger.Warn("event projection failed",
		"event_type", e.EventType,
		"event_id", e.ID,
		"metric", p.MetricName,
		"reason", reason)
}

// BuiltinMetrics are the metric definitions backing DefaultRoutes, seeded at
// startup through the registry.
func BuiltinMetrics() []*models.Metric {
	return []*models.Metric{
		{Name: "page_views", Kind: models.MetricCounter, Unit: "views", Description: "Page views by page", Category: "activity", LabelSchema: []string{"page"}},
		{Name: "user_logins", Kind: models.MetricCounter, Unit: "logins", Description: "User logins by user", Category: "activity", LabelSchema: []string{"user_id"}},
		{Name: "user_signups", Kind: models.MetricCounter, Unit: "signups", Description: "New user signups", Category: "activity"},
		{Name: "api_errors", Kind: models.MetricCounter, Unit: "errors", Description: "API errors by endpoint", Category: "activity", LabelSchema: []string{"endpoint", "error_class"}},
		{Name: "orders_placed", Kind: models.MetricCounter, Unit: "orders", Description: "Orders placed", Category: "commerce"},
		{Name: "order_revenue", Kind: models.MetricCounter, Unit: "currency", Description: "Cumulative order revenue", Category: "commerce"},
	}
}
