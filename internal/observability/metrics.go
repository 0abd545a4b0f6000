// Package observability provides metrics and tracing.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldfront_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coldfront_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// StorageClaimsTotal counts claim attempts by outcome (claimed, reclaimed, empty, error).
	StorageClaimsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldfront_storage_claims_total",
		Help: "Storage request claim attempts by outcome",
	}, []string{"outcome"})

	// StorageCompletionsTotal counts completion calls by outcome (completed, noop, error).
	StorageCompletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldfront_storage_completions_total",
		Help: "Storage request completions by outcome",
	}, []string{"outcome"})

	// StorageReviewTransitions counts overall status transitions caused by reviews.
	StorageReviewTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldfront_storage_review_transitions_total",
		Help: "Storage request status transitions by target status",
	}, []string{"to"})

	// StorageQueueDepth is the number of storage requests per status.
	StorageQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coldfront_storage_requests",
		Help: "Number of storage requests by status",
	}, []string{"status"})

	// StorageClaimLatency records time from approval to claim.
	StorageClaimLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "coldfront_storage_claim_wait_seconds",
		Help:    "Seconds between approval and claim of a storage request",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	// NotificationsPublished counts published events by type and result.
	NotificationsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldfront_notifications_published_total",
		Help: "Published notification events by type and result",
	}, []string{"event", "result"})

	// WebSocketConnections is the gauge of active event feed connections.
	WebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "coldfront_websocket_connections",
		Help: "Number of active storage request event feed connections",
	})

	// WebSocketBackpressureDrops counts event feed messages dropped per hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "coldfront_websocket_backpressure_drops_total",
		Help: "Total number of websocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})
)

// TrackQuery returns a function that records query latency when called (e.g. defer).
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	}
}
