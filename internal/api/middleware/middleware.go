// Package middleware provides HTTP middleware for request ID, caller
// identity, structured logging, Prometheus metrics, rate limiting, tracing
// and panic recovery.
package middleware

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/pulseboard/pulseboard-backend/internal/pkg/logger"
	"github.com/pulseboard/pulseboard-backend/internal/pkg/metrics"
)

const (
	ResponseRequestIDHeader = "X-Request-ID"
	UserIDHeader            = "X-User-ID"
)

var requestLogOut = os.Stderr

// RequestID adds a unique request ID to the context and response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(ResponseRequestIDHeader)
		if reqID == "" {
			reqID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), logger.RequestIDKey, reqID)
		w.Header().Set(ResponseRequestIDHeader, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Identity lifts the authenticated caller from the X-User-ID header into the
// context. Authentication itself happens upstream; the header is trusted.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID := r.Header.Get(UserIDHeader); userID != "" {
			ctx := context.WithValue(r.Context(), logger.UserIDKey, userID)
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

// responseWriter captures status code for logging.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestStats accumulates request counters for the telemetry collector.
type RequestStats struct {
	total      atomic.Int64
	errors     atomic.Int64
	durationUs atomic.Int64
}

// NewRequestStats creates an empty stats recorder.
func NewRequestStats() *RequestStats { return &RequestStats{} }

func (s *RequestStats) record(status int, d time.Duration) {
	s.total.Add(1)
	if status >= 400 {
		s.errors.Add(1)
	}
	s.durationUs.Add(d.Microseconds())
}

// RequestStats returns totals since process start plus the average response
// time in milliseconds.
func (s *RequestStats) RequestStats() (total, errors int64, avgMs float64) {
	total = s.total.Load()
	errors = s.errors.Load()
	if total > 0 {
		avgMs = float64(s.durationUs.Load()) / float64(total) / 1000.0
	}
	return total, errors, avgMs
}

// errorClass buckets a status code for the error counter.
func errorClass(status int) string {
	switch {
	case status >= 500:
		return "server_error"
	case status == http.StatusTooManyRequests:
		return "rate_limited"
	case status == http.StatusForbidden:
		return "forbidden"
	case status == http.StatusNotFound:
		return "not_found"
	default:
		return "client_error"
	}
}

// StructuredLog logs each request as a single JSON line (request_id, user_id,
// method, path, status, duration) and feeds the Prometheus request counters.
// stats may be nil.
func StructuredLog(stats *RequestStats) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := logger.RequestIDFromContext(r.Context())
			userID := logger.UserIDFromContext(r.Context())
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)
			duration := time.Since(start)
			errMsg := ""
			if rw.status >= 400 {
				errMsg = http.StatusText(rw.status)
			}
			logger.RequestLog(requestLogOut, reqID, userID, r.Method, r.URL.Path, rw.status, duration, errMsg)

			// Prometheus: path normalized via route template to avoid high cardinality
			pathLabel := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil && tpl != "" {
					pathLabel = tpl
				}
			}
			statusStr := strconv.Itoa(rw.status)
			metrics.HTTPRequestTotal.WithLabelValues(r.Method, pathLabel, statusStr).Inc()
			metrics.HTTPRequestDurationSeconds.WithLabelValues(r.Method, pathLabel).Observe(duration.Seconds())
			if rw.status >= 400 {
				metrics.HTTPErrorsTotal.WithLabelValues(r.Method, pathLabel, errorClass(rw.status)).Inc()
			}
			if stats != nil {
				stats.record(rw.status, duration)
			}
		})
	}
}

// Recovery converts handler panics into 500 responses so one bad request
// never takes the process down.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				reqID := logger.RequestIDFromContext(r.Context())
				logger.RequestLog(requestLogOut, reqID, "", r.Method, r.URL.Path, http.StatusInternalServerError, 0, "panic recovered")
				http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
