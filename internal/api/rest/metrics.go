package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/pulseboard/pulseboard-backend/internal/models"
)

const (
	defaultSeriesWindow = time.Hour
	defaultSeriesBucket = time.Minute
)

// CreateMetric handles POST /api/v1/metrics.
func (h *Handler) CreateMetric(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string   `json:"name"`
		Kind        string   `json:"kind"`
		Unit        string   `json:"unit"`
		Description string   `json:"description"`
		Category    string   `json:"category"`
		LabelSchema []string `json:"label_schema"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, r, "invalid request body")
		return
	}
	m := &models.Metric{
		Name:        req.Name,
		Kind:        models.MetricKind(req.Kind),
		Unit:        req.Unit,
		Description: req.Description,
		Category:    req.Category,
		LabelSchema: req.LabelSchema,
	}
	created, err := h.registry.Define(r.Context(), m)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

// ListMetrics handles GET /api/v1/metrics.
func (h *Handler) ListMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.MetricFilter{
		Kind:     models.MetricKind(q.Get("kind")),
		Category: q.Get("category"),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		respondBadRequest(w, r, "unknown metric kind "+string(filter.Kind))
		return
	}
	metrics, err := h.registry.List(r.Context(), filter)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, metrics)
}

// GetMetric handles GET /api/v1/metrics/{id}.
func (h *Handler) GetMetric(w http.ResponseWriter, r *http.Request) {
	id, ok := metricID(w, r)
	if !ok {
		return
	}
	m, err := h.registry.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// UpdateMetric handles PUT /api/v1/metrics/{id}. Kind is immutable and name
// renames are not supported; both are taken from the stored definition.
func (h *Handler) UpdateMetric(w http.ResponseWriter, r *http.Request) {
	id, ok := metricID(w, r)
	if !ok {
		return
	}
	var req struct {
		Unit        string   `json:"unit"`
		Description string   `json:"description"`
		Category    string   `json:"category"`
		LabelSchema []string `json:"label_schema"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, r, "invalid request body")
		return
	}
	m, err := h.registry.GetByID(r.Context(), id)
	if err != nil {
		respondError(w, r, err)
		return
	}
	updated := *m
	updated.Unit = req.Unit
	updated.Description = req.Description
	updated.Category = req.Category
	updated.LabelSchema = req.LabelSchema
	if err := updated.EncodeLabelSchema(); err != nil {
		respondError(w, r, err)
		return
	}
	if err := h.registry.Update(r.Context(), &updated); err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, &updated)
}

// DeleteMetric handles DELETE /api/v1/metrics/{id}.
func (h *Handler) DeleteMetric(w http.ResponseWriter, r *http.Request) {
	id, ok := metricID(w, r)
	if !ok {
		return
	}
	if err := h.registry.Delete(r.Context(), id); err != nil {
		respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// MetricSeries handles GET /api/v1/metrics/{id}/series. Query params:
// window, bucket (Go durations), agg, and label.<key>=<value> matchers.
func (h *Handler) MetricSeries(w http.ResponseWriter, r *http.Request) {
	id, ok := metricID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	window := defaultSeriesWindow
	if s := q.Get("window"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			respondBadRequest(w, r, "window must be a positive duration")
			return
		}
		window = d
	}
	bucket := defaultSeriesBucket
	if s := q.Get("bucket"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			respondBadRequest(w, r, "bucket must be a duration")
			return
		}
		bucket = d
	}
	agg := models.AggLast
	if s := q.Get("agg"); s != "" {
		agg = models.Aggregation(s)
		if !agg.Valid() {
			respondBadRequest(w, r, "unknown aggregation "+s)
			return
		}
	}
	match := map[string]string{}
	for key, vals := range q {
		if strings.HasPrefix(key, "label.") && len(vals) > 0 {
			match[strings.TrimPrefix(key, "label.")] = vals[0]
		}
	}

	now := time.Now().UTC()
	points, err := h.store.Query(r.Context(), models.SampleQuery{
		MetricID:   id,
		From:       now.Add(-window),
		To:         now,
		LabelMatch: match,
		Agg:        agg,
		Bucket:     bucket,
	})
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"metric_id": id,
		"agg":       agg,
		"points":    points,
	})
}

// AppendSample handles POST /api/v1/metrics/{id}/samples.
func (h *Handler) AppendSample(w http.ResponseWriter, r *http.Request) {
	id, ok := metricID(w, r)
	if !ok {
		return
	}
	var req struct {
		Value     float64           `json:"value"`
		Labels    map[string]string `json:"labels"`
		Timestamp time.Time         `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondBadRequest(w, r, "invalid request body")
		return
	}
	s, err := h.store.Append(r.Context(), id, req.Value, req.Labels, req.Timestamp)
	if err != nil {
		respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, s)
}

func metricID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondBadRequest(w, r, "metric id must be an integer")
		return 0, false
	}
	return id, true
}
