package rest

import (
	"net/http"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// Health handles GET /health: the full dependency and resource report.
// Degraded still answers 200 so load balancers keep routing.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	report := h.collector.Health(r.Context())
	status := http.StatusOK
	if report.Overall == models.HealthUnhealthy {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, report)
}

// Ready handles GET /ready: 200 only when dependencies are healthy and the
// process is not draining.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.sched.IsShuttingDown() || h.store.Draining() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
		return
	}
	report := h.collector.Health(r.Context())
	if report.Overall == models.HealthUnhealthy {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Live handles GET /live: the process is up and serving.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// SystemSnapshot handles GET /api/v1/system/snapshot: the latest collected
// system telemetry. 404 until the first collection round lands.
func (h *Handler) SystemSnapshot(w http.ResponseWriter, r *http.Request) {
	snap := h.collector.LastSnapshot()
	if snap == nil {
		respondError(w, r, apperr.NotFound("system_snapshot", "latest"))
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// SchedulerTasks handles GET /api/v1/system/tasks: every background task with
// its last run, failure streak and disabled flag.
func (h *Handler) SchedulerTasks(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.sched.Status())
}
