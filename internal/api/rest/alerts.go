package rest

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// CreateAlert handles POST /api/v1/alerts. The new rule starts pending.
func (h *Handler) CreateAlert(w http.ResponseWriter, r *http.Request) {
	var a models.Alert
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		respondBadRequest(w, r, "invalid request body")
		return
	}
	a.CreatedBy = caller(r)
	created, err := h.alerts.Create(r.Context(), &a)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// ListAlerts handles GET /api/v1/alerts. Query params: status (comma
// separated), priority, rule_id, created_by.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.AlertFilter{
		Priority:  models.AlertPriority(q.Get("priority")),
		CreatedBy: q.Get("created_by"),
		RuleID:    q.Get("rule_id"),
	}
	if s := q.Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			filter.Statuses = append(filter.Statuses, models.AlertStatus(strings.TrimSpace(part)))
		}
	}
	alerts, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, alerts)
}

// GetAlert handles GET /api/v1/alerts/{id}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.alerts.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// UpdateAlert handles PUT /api/v1/alerts/{id}. Only rule fields change;
// lifecycle state moves through the dedicated transition endpoints.
func (h *Handler) UpdateAlert(w http.ResponseWriter, r *http.Request) {
	var a models.Alert
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		respondBadRequest(w, r, "invalid request body")
		return
	}
	a.ID = mux.Vars(r)["id"]
	if err := h.alerts.Update(r.Context(), &a, caller(r)); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, &a)
}

// DeleteAlert handles DELETE /api/v1/alerts/{id}.
func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	if err := h.alerts.Delete(r.Context(), mux.Vars(r)["id"], caller(r)); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AcknowledgeAlert handles POST /api/v1/alerts/{id}/acknowledge.
func (h *Handler) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.alerts.Acknowledge(r.Context(), mux.Vars(r)["id"], caller(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// SilenceAlert handles POST /api/v1/alerts/{id}/silence.
func (h *Handler) SilenceAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.alerts.Silence(r.Context(), mux.Vars(r)["id"], caller(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}

// UnsilenceAlert handles POST /api/v1/alerts/{id}/unsilence.
func (h *Handler) UnsilenceAlert(w http.ResponseWriter, r *http.Request) {
	a, err := h.alerts.Unsilence(r.Context(), mux.Vars(r)["id"], caller(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, a)
}
