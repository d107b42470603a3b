// FleetIQ - Fleet Management Dashboard and GPS Tracking Platform
// Copyright 2026 FleetIQ Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/fleetiq/fleetiq

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for:
// - GP51 API calls and circuit breaker state
// - Vendor session lifecycle
// - Position poller throughput and data quality
// - Bulk sync operations and conflicts
// - Database query performance (PostgreSQL)
// - API endpoints and WebSocket connections

var (
	// GP51 Session Metrics
	SessionStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gp51_session_status",
			Help: "Current GP51 session status (1 for the active status label, 0 otherwise)",
		},
		[]string{"status"}, // connected, connecting, degraded, disconnected, auth_error
	)

	SessionLogins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gp51_session_logins_total",
			Help: "Total number of GP51 login attempts",
		},
		[]string{"result"}, // "success", "auth_error", "transport_error"
	)

	SessionRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gp51_session_refreshes_total",
			Help: "Total number of proactive token refreshes",
		},
	)

	SessionHealthCheckLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gp51_health_check_latency_seconds",
			Help:    "Latency of GP51 session health probes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Position Poller Metrics
	PollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poller_poll_duration_seconds",
			Help:    "Duration of position poll cycles in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_polls_total",
			Help: "Total number of position poll cycles",
		},
		[]string{"result"}, // "success", "error", "skipped"
	)

	PositionsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poller_positions_stored_total",
			Help: "Total number of device positions upserted",
		},
	)

	PositionsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_positions_dropped_total",
			Help: "Total number of vendor records dropped during coercion",
		},
		[]string{"reason"}, // "missing_device_id", "invalid_coordinate"
	)

	FleetDevices = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fleet_devices",
			Help: "Fleet device counts by activity class",
		},
		[]string{"state"}, // "total", "active", "moving", "parked", "offline"
	)

	// Bulk Sync Metrics
	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_duration_seconds",
			Help:    "Duration of bulk sync operations in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	SyncRecordsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_records_processed_total",
			Help: "Total number of device records processed during bulk sync",
		},
	)

	SyncOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_operations_total",
			Help: "Total number of bulk sync operations by terminal status",
		},
		[]string{"status"}, // "completed", "failed", "cancelled"
	)

	SyncConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_conflicts_total",
			Help: "Total number of sync conflicts detected",
		},
		[]string{"type"},
	)

	SyncConflictsResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_conflicts_resolved_total",
			Help: "Total number of sync conflicts resolved",
		},
		[]string{"resolution"}, // "prefer_local", "prefer_remote", "merge"
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of last completed bulk sync",
		},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postgres_query_duration_seconds",
			Help:    "Duration of PostgreSQL queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postgres_query_errors_total",
			Help: "Total number of PostgreSQL query errors",
		},
		[]string{"operation", "table"},
	)

	DBConnectionsInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "postgres_connections_in_use",
			Help: "Current number of database connections in use",
		},
	)

	DBNotificationsReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "postgres_notifications_received_total",
			Help: "Total number of LISTEN/NOTIFY change notifications received",
		},
	)

	// API Endpoint Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	// WebSocket Metrics
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_sent_total",
			Help: "Total number of WebSocket messages sent",
		},
	)

	WSErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_errors_total",
			Help: "Total number of WebSocket errors",
		},
		[]string{"error_type"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current number of consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)
)

// SetSessionStatus sets the session status gauge so exactly one status
// label reads 1.
func SetSessionStatus(current string) {
	for _, s := range []string{"connected", "connecting", "degraded", "disconnected", "auth_error"} {
		v := 0.0
		if s == current {
			v = 1.0
		}
		SessionStatus.WithLabelValues(s).Set(v)
	}
}

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordAPIRequest records an API request metric.
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordFleetMetrics publishes the derived fleet counts as gauges.
func RecordFleetMetrics(total, active, moving, parked, offline int) {
	FleetDevices.WithLabelValues("total").Set(float64(total))
	FleetDevices.WithLabelValues("active").Set(float64(active))
	FleetDevices.WithLabelValues("moving").Set(float64(moving))
	FleetDevices.WithLabelValues("parked").Set(float64(parked))
	FleetDevices.WithLabelValues("offline").Set(float64(offline))
}
