package rest

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// CreateReport handles POST /api/v1/reports.
func (h *Handler) CreateReport(w http.ResponseWriter, r *http.Request) {
	var rep models.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		respondBadRequest(w, r, "invalid request body")
		return
	}
	rep.CreatedBy = caller(r)
	created, err := h.reports.Define(r.Context(), &rep)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// ListReports handles GET /api/v1/reports. Private reports of other users
// are filtered out.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.ReportFilter{
		Status:    models.ReportStatus(q.Get("status")),
		CreatedBy: q.Get("created_by"),
	}
	reports, err := h.reports.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	viewer := caller(r)
	visible := make([]*models.Report, 0, len(reports))
	for _, rep := range reports {
		if rep.IsPublic || rep.CreatedBy == viewer {
			visible = append(visible, rep)
		}
	}
	respondJSON(w, http.StatusOK, visible)
}

// GetReport handles GET /api/v1/reports/{id}.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	rep, err := h.reports.Get(r.Context(), mux.Vars(r)["id"], caller(r))
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, rep)
}

// UpdateReport handles PUT /api/v1/reports/{id}.
func (h *Handler) UpdateReport(w http.ResponseWriter, r *http.Request) {
	var rep models.Report
	if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
		respondBadRequest(w, r, "invalid request body")
		return
	}
	rep.ID = mux.Vars(r)["id"]
	if err := h.reports.Update(r.Context(), &rep, caller(r)); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, &rep)
}

// DeleteReport handles DELETE /api/v1/reports/{id}.
func (h *Handler) DeleteReport(w http.ResponseWriter, r *http.Request) {
	if err := h.reports.Delete(r.Context(), mux.Vars(r)["id"], caller(r)); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunReport handles POST /api/v1/reports/{id}/run: an immediate on-demand
// run, independent of the schedule.
func (h *Handler) RunReport(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.reports.Get(r.Context(), id, caller(r)); err != nil {
		respondError(w, r, err)
		return
	}
	artifact, err := h.reports.Run(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, artifact)
}
