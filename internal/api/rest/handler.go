// Package rest exposes the analytics core over HTTP: event ingestion, metric
// registry CRUD plus series queries, dashboards with render, reports, alerts
// and health probes. Routing is gorilla/mux; errors map kind to status.
package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulseboard/pulseboard-backend/internal/alert"
	"github.com/pulseboard/pulseboard-backend/internal/dashboard"
	"github.com/pulseboard/pulseboard-backend/internal/ingest"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/logger"
	"github.com/pulseboard/pulseboard-backend/internal/registry"
	"github.com/pulseboard/pulseboard-backend/internal/report"
	"github.com/pulseboard/pulseboard-backend/internal/scheduler"
	"github.com/pulseboard/pulseboard-backend/internal/store"
	"github.com/pulseboard/pulseboard-backend/internal/telemetry"
)

// Handler aggregates the engines behind the REST surface.
type Handler struct {
	ingestor   *ingest.Ingestor
	registry   *registry.Registry
	store      *store.Store
	dashboards *dashboard.Engine
	reports    *report.Engine
	alerts     *alert.Engine
	collector  *telemetry.Collector
	sched      *scheduler.Scheduler
}

// NewHandler creates the REST handler.
func NewHandler(
	ingestor *ingest.Ingestor,
	reg *registry.Registry,
	st *store.Store,
	dashboards *dashboard.Engine,
	reports *report.Engine,
	alerts *alert.Engine,
	collector *telemetry.Collector,
	sched *scheduler.Scheduler,
) *Handler {
	return &Handler{
		ingestor:   ingestor,
		registry:   reg,
		store:      st,
		dashboards: dashboards,
		reports:    reports,
		alerts:     alerts,
		collector:  collector,
		sched:      sched,
	}
}

// RegisterRoutes wires all API routes onto the router. ingestLimit wraps the
// event ingestion endpoint only.
func (h *Handler) RegisterRoutes(r *mux.Router, ingestLimit func(http.Handler) http.Handler) {
	api := r.PathPrefix("/api/v1").Subrouter()

	ingestHandler := http.HandlerFunc(h.IngestEvent)
	if ingestLimit != nil {
		api.Handle("/events", ingestLimit(ingestHandler)).Methods(http.MethodPost)
	} else {
		api.Handle("/events", ingestHandler).Methods(http.MethodPost)
	}
	api.HandleFunc("/events", h.ListEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/{id}", h.GetEvent).Methods(http.MethodGet)

	api.HandleFunc("/metrics", h.CreateMetric).Methods(http.MethodPost)
	api.HandleFunc("/metrics", h.ListMetrics).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{id}", h.GetMetric).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{id}", h.UpdateMetric).Methods(http.MethodPut)
	api.HandleFunc("/metrics/{id}", h.DeleteMetric).Methods(http.MethodDelete)
	api.HandleFunc("/metrics/{id}/series", h.MetricSeries).Methods(http.MethodGet)
	api.HandleFunc("/metrics/{id}/samples", h.AppendSample).Methods(http.MethodPost)

	api.HandleFunc("/dashboards", h.CreateDashboard).Methods(http.MethodPost)
	api.HandleFunc("/dashboards", h.ListDashboards).Methods(http.MethodGet)
	api.HandleFunc("/dashboards/{id}", h.GetDashboard).Methods(http.MethodGet)
	api.HandleFunc("/dashboards/{id}", h.UpdateDashboard).Methods(http.MethodPut)
	api.HandleFunc("/dashboards/{id}", h.DeleteDashboard).Methods(http.MethodDelete)
	api.HandleFunc("/dashboards/{id}/render", h.RenderDashboard).Methods(http.MethodGet)
	api.HandleFunc("/dashboards/{id}/widgets", h.AddWidget).Methods(http.MethodPost)
	api.HandleFunc("/dashboards/{id}/widgets", h.ListWidgets).Methods(http.MethodGet)
	api.HandleFunc("/dashboards/{id}/widgets/{wid}", h.UpdateWidget).Methods(http.MethodPut)
	api.HandleFunc("/dashboards/{id}/widgets/{wid}", h.DeleteWidget).Methods(http.MethodDelete)

	api.HandleFunc("/reports", h.CreateReport).Methods(http.MethodPost)
	api.HandleFunc("/reports", h.ListReports).Methods(http.MethodGet)
	api.HandleFunc("/reports/{id}", h.GetReport).Methods(http.MethodGet)
	api.HandleFunc("/reports/{id}", h.UpdateReport).Methods(http.MethodPut)
	api.HandleFunc("/reports/{id}", h.DeleteReport).Methods(http.MethodDelete)
	api.HandleFunc("/reports/{id}/run", h.RunReport).Methods(http.MethodPost)

	api.HandleFunc("/alerts", h.CreateAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts", h.ListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}", h.GetAlert).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}", h.UpdateAlert).Methods(http.MethodPut)
	api.HandleFunc("/alerts/{id}", h.DeleteAlert).Methods(http.MethodDelete)
	api.HandleFunc("/alerts/{id}/acknowledge", h.AcknowledgeAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/silence", h.SilenceAlert).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/unsilence", h.UnsilenceAlert).Methods(http.MethodPost)

	api.HandleFunc("/system/snapshot", h.SystemSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/system/tasks", h.SchedulerTasks).Methods(http.MethodGet)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/ready", h.Ready).Methods(http.MethodGet)
	r.HandleFunc("/live", h.Live).Methods(http.MethodGet)
}

// caller returns the authenticated user from the request context.
func caller(r *http.Request) string {
	return logger.UserIDFromContext(r.Context())
}
