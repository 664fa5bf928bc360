package rest

import (
	"encoding/json"
	"net/http"

	"github.com/pulseboard/pulseboard-backend/internal/apperr"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/logger"
)

// APIError is the structured error response body.
type APIError struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// respondError maps a structured error kind onto an HTTP status. Unknown
// errors become 500 without leaking internals.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := http.StatusInternalServerError
	message := "internal server error"

	switch kind {
	case apperr.KindNotFound:
		status = http.StatusNotFound
		message = err.Error()
	case apperr.KindDuplicateName:
		status = http.StatusConflict
		message = err.Error()
	case apperr.KindInvalid, apperr.KindLabelsRejected, apperr.KindUnknownMetric:
		status = http.StatusBadRequest
		message = err.Error()
	case apperr.KindForbidden:
		status = http.StatusForbidden
		message = err.Error()
	case apperr.KindShuttingDown:
		status = http.StatusServiceUnavailable
		message = err.Error()
	case apperr.KindTransient:
		status = http.StatusServiceUnavailable
		message = "temporary backend failure"
	}

	respondJSON(w, status, APIError{
		Error:     message,
		Code:      string(kind),
		RequestID: logger.RequestIDFromContext(r.Context()),
	})
}

// respondBadRequest is the shortcut for malformed request bodies.
func respondBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	respondJSON(w, http.StatusBadRequest, APIError{
		Error:     message,
		Code:      string(apperr.KindInvalid),
		RequestID: logger.RequestIDFromContext(r.Context()),
	})
}
