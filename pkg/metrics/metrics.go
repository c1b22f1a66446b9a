package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheOperations counts store operations by name and result (ok|error).
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcache_operations_total",
			Help: "Total number of cache store operations",
		},
		[]string{"op", "result"},
	)

	// CacheOperationLatency measures store operation latency including storage round trips.
	CacheOperationLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbcache_operation_latency_seconds",
			Help:    "Cache store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// CacheLookups counts point and bulk lookups per key by outcome (hit|miss).
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcache_lookups_total",
			Help: "Total number of key lookups by outcome",
		},
		[]string{"result"},
	)

	// CacheEvictions counts rows removed by bulk eviction, labelled by reason (matched|stale).
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbcache_evictions_total",
			Help: "Total number of cache entries removed by bulk eviction",
		},
		[]string{"reason"},
	)

	// CacheTouches counts row ids whose freshness timestamp was refreshed.
	CacheTouches = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dbcache_touched_entries_total",
			Help: "Total number of entry ids passed to touch",
		},
	)

	// PendingTouches tracks ids buffered by the recency tracker awaiting a flush.
	PendingTouches = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dbcache_pending_touches",
			Help: "Number of entry ids buffered for the next touch flush",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbcache_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
