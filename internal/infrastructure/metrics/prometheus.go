// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "fetchbay"

var (
	// CacheOperationsTotal tracks result cache and session cache operations.
	// Labels:
	//   - operation: get, set, delete
	//   - status: hit, miss, stale, success, error
	//   - cache_type: result, session
	CacheOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_operations_total",
			Help:      "Total number of cache operations",
		},
		[]string{"operation", "status", "cache_type"},
	)

	// SingleflightRequestsTotal tracks metadata resolution coalescing.
	// Labels:
	//   - result: initiated (new execution), shared (reused result)
	SingleflightRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "singleflight_requests_total",
			Help:      "Total number of singleflight resolution requests",
		},
		[]string{"result"},
	)

	// QueueActive reports download slots currently executing.
	QueueActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_active",
			Help:      "Number of downloads currently executing",
		},
	)

	// QueueWaiting reports submissions parked behind busy slots.
	QueueWaiting = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_waiting",
			Help:      "Number of downloads waiting for a slot",
		},
	)

	// QueueRejectionsTotal counts submissions rejected at admission.
	QueueRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_rejections_total",
			Help:      "Total number of downloads rejected because the queue was full",
		},
	)

	// DedupRejectionsTotal counts submissions dropped as duplicates of an
	// in-flight download.
	DedupRejectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_rejections_total",
			Help:      "Total number of downloads rejected as in-flight duplicates",
		},
	)

	// FetchDurationSeconds observes end-to-end fetch time per media kind.
	// Labels:
	//   - kind: video, audio
	//   - status: success, error
	FetchDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of artifact fetches",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68m
		},
		[]string{"kind", "status"},
	)

	// DeliveriesTotal counts delivered artifacts by source.
	// Labels:
	//   - source: cache, fetch, direct
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "Total number of delivered artifacts",
		},
		[]string{"source"},
	)
)

// Cache operation status constants.
const (
	CacheStatusHit     = "hit"
	CacheStatusMiss    = "miss"
	CacheStatusStale   = "stale"
	CacheStatusSuccess = "success"
	CacheStatusError   = "error"
)

// Cache operation type constants.
const (
	CacheOpGet    = "get"
	CacheOpSet    = "set"
	CacheOpDelete = "delete"
)

// Cache type constants.
const (
	CacheTypeResult  = "result"
	CacheTypeSession = "session"
)

// Singleflight result constants.
const (
	SingleflightInitiated = "initiated"
	SingleflightShared    = "shared"
)

// Fetch status constants.
const (
	FetchStatusSuccess = "success"
	FetchStatusError   = "error"
)

// Delivery source constants.
const (
	DeliverySourceCache  = "cache"
	DeliverySourceFetch  = "fetch"
	DeliverySourceDirect = "direct"
)
