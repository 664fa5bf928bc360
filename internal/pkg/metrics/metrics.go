// Package metrics provides Prometheus process metrics for the Pulseboard
// backend (RED + ingestion + background tasks). Scrapeable at /metrics;
// runbooks and dashboards can rely on these names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pulseboard"

var (
	// HTTPRequestTotal counts requests by method, path, status (RED: rate).
	HTTPRequestTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by method, path, and status.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPErrorsTotal counts 4xx/5xx responses by error class.
	HTTPErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP error responses by method, path, and error class.",
		},
		[]string{"method", "path", "error_class"},
	)

	// HTTPRequestDurationSeconds is request latency histogram (RED: duration).
	HTTPRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2.5, 10), // 1ms to ~9.3s
		},
		[]string{"method", "path"},
	)

	// EventsIngestedTotal counts accepted events by type.
	EventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_ingested_total",
			Help:      "Total number of ingested events by event type.",
		},
		[]string{"event_type"},
	)

	// ProjectionFailuresTotal counts event-to-sample projection failures.
	// Projection failures never block ingestion; this is their only trace.
	ProjectionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_failures_total",
			Help:      "Total number of event projection failures by event type.",
		},
		[]string{"event_type"},
	)

	// SamplesAppendedTotal counts samples written to the sample store.
	SamplesAppendedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_appended_total",
			Help:      "Total number of samples appended to the sample store.",
		},
	)

	// TaskFailuresTotal counts background task failures by task name.
	TaskFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_failures_total",
			Help:      "Total number of background task failures by task.",
		},
		[]string{"task"},
	)

	// ReportFailuresTotal counts report handler failures.
	ReportFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "report_failures_total",
			Help:      "Total number of report handler failures.",
		},
	)

	// AlertEvaluationsTotal counts alert evaluation rounds by outcome.
	AlertEvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_evaluations_total",
			Help:      "Total number of alert rule evaluations by outcome.",
		},
		[]string{"outcome"},
	)

	// RegistryCacheHitsTotal counts metric registry cache hits.
	RegistryCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_cache_hits_total",
			Help:      "Total number of metric registry cache hits.",
		},
	)

	// RegistryCacheMissesTotal counts metric registry cache misses.
	RegistryCacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_cache_misses_total",
			Help:      "Total number of metric registry cache misses.",
		},
	)

	// RepositoryCallDurationSeconds times repository calls by entity and op.
	RepositoryCallDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repository_call_duration_seconds",
			Help:      "Repository call duration in seconds by entity and operation.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.5, 10),
		},
		[]string{"entity", "op"},
	)

	// WebSocketConnectionsActive is current number of event-stream clients.
	WebSocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections_active",
			Help:      "Number of active WebSocket connections.",
		},
	)
)
