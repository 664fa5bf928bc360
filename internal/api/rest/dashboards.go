package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// CreateDashboard handles POST /api/v1/dashboards.
func (h *Handler) CreateDashboard(w http.ResponseWriter, r *http.Request) {
	var d models.Dashboard
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		respondBadRequest(w, r, "invalid request body")
		return
	}
	d.UserID = caller(r)
	created, err := h.dashboards.Create(r.Context(), &d)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// ListDashboards handles GET /api/v1/dashboards.
func (h *Handler) ListDashboards(w http.ResponseWriter, r *http.Request) {
	dashboards, err := h.dashboards.List(r.Context(), caller(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, dashboards)
}

// GetDashboard handles GET /api/v1/dashboards/{id}.
func (h *Handler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.dashboards.Get(r.Context(), mux.Vars(r)["id"], caller(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, d)
}

// UpdateDashboard handles PUT /api/v1/dashboards/{id}.
func (h *Handler) UpdateDashboard(w http.ResponseWriter, r *http.Request) {
	var d models.Dashboard
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		respondBadRequest(w, r, "invalid request body")
		return
	}
	d.ID = mux.Vars(r)["id"]
	if err := h.dashboards.Update(r.Context(), &d, caller(r)); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, &d)
}

// DeleteDashboard handles DELETE /api/v1/dashboards/{id}.
func (h *Handler) DeleteDashboard(w http.ResponseWriter, r *http.Request) {
	if err := h.dashboards.Delete(r.Context(), mux.Vars(r)["id"], caller(r)); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RenderDashboard handles GET /api/v1/dashboards/{id}/render. Widget-level
// failures are reported per widget; the response itself is always 200 when
// the dashboard is visible.
func (h *Handler) RenderDashboard(w http.ResponseWriter, r *http.Request) {
	result, err := h.dashboards.Render(r.Context(), mux.Vars(r)["id"], caller(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// AddWidget handles POST /api/v1/dashboards/{id}/widgets.
func (h *Handler) AddWidget(w http.ResponseWriter, r *http.Request) {
	var wg models.Widget
	if err := json.NewDecoder(r.Body).Decode(&wg); err != nil {
		respondBadRequest(w, r, "invalid request body")
		return
	}
	wg.DashboardID = mux.Vars(r)["id"]
	created, err := h.dashboards.AddWidget(r.Context(), &wg, caller(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// ListWidgets handles GET /api/v1/dashboards/{id}/widgets.
func (h *Handler) ListWidgets(w http.ResponseWriter, r *http.Request) {
	widgets, err := h.dashboards.Widgets(r.Context(), mux.Vars(r)["id"], caller(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, widgets)
}

// UpdateWidget handles PUT /api/v1/dashboards/{id}/widgets/{wid}.
func (h *Handler) UpdateWidget(w http.ResponseWriter, r *http.Request) {
	var wg models.Widget
	if err := json.NewDecoder(r.Body).Decode(&wg); err != nil {
		respondBadRequest(w, r, "invalid request body")
		return
	}
	vars := mux.Vars(r)
	wg.ID = vars["wid"]
	wg.DashboardID = vars["id"]
	if err := h.dashboards.UpdateWidget(r.Context(), &wg, caller(r)); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, &wg)
}

// DeleteWidget handles DELETE /api/v1/dashboards/{id}/widgets/{wid}.
func (h *Handler) DeleteWidget(w http.ResponseWriter, r *http.Request) {
	if err := h.dashboards.DeleteWidget(r.Context(), mux.Vars(r)["wid"], caller(r)); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
