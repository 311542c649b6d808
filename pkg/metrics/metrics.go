package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neowatch_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// UpstreamRequests counts NeoWs calls by endpoint (feed|lookup) and result (ok|error|not_found).
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neowatch_upstream_requests_total",
			Help: "Total number of requests sent to the upstream NEO feed",
		},
		[]string{"endpoint", "result"},
	)

	UpstreamLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neowatch_upstream_latency_seconds",
			Help:    "Upstream NEO feed latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"endpoint"},
	)

	// FeedCacheLookups records cache outcomes by key family (range|entity) and result (hit|miss|error).
	FeedCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neowatch_feed_cache_lookups_total",
			Help: "Feed cache lookups by outcome",
		},
		[]string{"family", "result"},
	)

	// FeedCacheSharedFetches counts callers that joined an in-flight fetch instead of issuing their own.
	FeedCacheSharedFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neowatch_feed_cache_shared_fetches_total",
			Help: "Callers served by an in-flight upstream fetch",
		},
		[]string{"family"},
	)

	// AlertsDelivered counts alerts handed off per channel (live|digest).
	AlertsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neowatch_alerts_delivered_total",
			Help: "Alerts successfully handed to a delivery channel",
		},
		[]string{"channel"},
	)

	AlertDeliveryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neowatch_alert_delivery_failures_total",
			Help: "Alert handoffs that failed",
		},
		[]string{"channel"},
	)

	// DispatchTicks counts loop executions by loop (live|digest) and outcome (ok|error|idle).
	DispatchTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "neowatch_dispatch_ticks_total",
			Help: "Dispatch loop executions",
		},
		[]string{"loop", "outcome"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "neowatch_dispatch_duration_seconds",
			Help:    "Duration of a dispatch loop tick",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"loop"},
	)

	// ConnectedUsers tracks users with at least one live connection.
	ConnectedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "neowatch_connected_users",
			Help: "Users with at least one live connection",
		},
	)
)
