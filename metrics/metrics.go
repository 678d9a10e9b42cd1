// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledgesite_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pledgesite_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Tracking
	TrackingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledgesite_tracking_events_total",
			Help: "Total number of tracking records written, by collection",
		},
		[]string{"collection"},
	)

	TrackingFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledgesite_tracking_failures_total",
			Help: "Total number of swallowed tracking failures, by operation",
		},
		[]string{"operation"},
	)

	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pledgesite_dispatch_queue_depth",
			Help: "Number of tracking jobs waiting in the dispatch queue",
		},
	)

	DispatchDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pledgesite_dispatch_dropped_total",
			Help: "Total number of tracking jobs dropped because the queue was full",
		},
	)

	// Document store
	StoreOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pledgesite_store_operation_duration_seconds",
			Help:    "Duration of document store operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "collection"},
	)

	StoreOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledgesite_store_operation_errors_total",
			Help: "Total number of failed document store operations",
		},
		[]string{"operation", "collection"},
	)

	StoreListenerReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pledgesite_store_listener_reconnects_total",
			Help: "Total number of change listener reconnects",
		},
	)

	// Live feeds
	FeedSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pledgesite_feed_subscriptions",
			Help: "Current number of live feed subscriptions",
		},
	)

	FeedDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledgesite_feed_deliveries_total",
			Help: "Total number of snapshots delivered to subscribers",
		},
		[]string{"collection"},
	)

	FeedErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledgesite_feed_errors_total",
			Help: "Total number of failed snapshot loads",
		},
		[]string{"collection"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pledgesite_websocket_connections",
			Help: "Current number of websocket feed connections",
		},
	)

	// Analytics sink
	AnalyticsEventsLogged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledgesite_analytics_events_total",
			Help: "Total number of analytics events accepted by the sink",
		},
		[]string{"event"},
	)

	AnalyticsEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledgesite_analytics_events_dropped_total",
			Help: "Total number of analytics events dropped",
		},
		[]string{"reason"},
	)

	AnalyticsFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pledgesite_analytics_flush_duration_seconds",
			Help:    "Duration of analytics batch flushes in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pledgesite_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// Dashboard
	DashboardRecomputes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pledgesite_dashboard_recomputes_total",
			Help: "Total number of dashboard snapshot recomputations",
		},
	)

	// Supervision
	ServiceRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledgesite_service_restarts_total",
			Help: "Total number of supervised service restarts",
		},
		[]string{"service"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledgesite_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"endpoint"},
	)
)

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordStoreOperation records a document store operation
func RecordStoreOperation(operation, collection string, duration time.Duration, err error) {
	StoreOperationDuration.WithLabelValues(operation, collection).Observe(duration.Seconds())
	if err != nil {
		StoreOperationErrors.WithLabelValues(operation, collection).Inc()
	}
}

func RecordTrackingFailure(operation string) {
	TrackingFailures.WithLabelValues(operation).Inc()
}
