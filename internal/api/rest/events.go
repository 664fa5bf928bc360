package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/pulseboard/pulseboard-backend/internal/models"
)

// IngestEvent handles POST /api/v1/events.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventType string         `json:"event_type"`
		EventData map[string]any `json:"event_data"`
		UserAgent string         `json:"user_agent"`
		IPAddress string         `json:"ip_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, r, "invalid request body")
		return
	}
	if req.EventType == "" {
		respondBadRequest(w, r, "event_type is required")
		return
	}
	e := &models.Event{
		EventType: req.EventType,
		Payload:   payloadStrings(req.EventData),
		UserID:    caller(r),
		UserAgent: req.UserAgent,
		IP:        req.IPAddress,
	}
	if e.UserAgent == "" {
		e.UserAgent = r.UserAgent()
	}
	id, err := h.ingestor.Ingest(r.Context(), e)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// payloadStrings flattens a decoded JSON object into the string-valued
// payload the ingestor persists. Scalars keep their JSON text; nested arrays
// and objects are re-encoded as JSON. Payload shape never rejects an event.
func payloadStrings(data map[string]any) map[string]string {
	if len(data) == 0 {
		return nil
	}
	out := make(map[string]string, len(data))
	for k, v := range data {
		switch t := v.(type) {
		case string:
			out[k] = t
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			out[k] = strconv.FormatBool(t)
		case nil:
			out[k] = ""
		default:
			b, err := json.Marshal(t)
			if err != nil {
				continue
			}
			out[k] = string(b)
		}
	}
	return out
}

// ListEvents handles GET /api/v1/events (activity feed).
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.EventFilter{
		EventType: q.Get("type"),
		UserID:    q.Get("user_id"),
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 {
			respondBadRequest(w, r, "limit must be a positive integer")
			return
		}
		filter.Limit = n
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondBadRequest(w, r, "since must be RFC3339")
			return
		}
		filter.Since = t
	}
	events, err := h.ingestor.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, events)
}

// GetEvent handles GET /api/v1/events/{id}.
func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	e, err := h.ingestor.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, e)
}
