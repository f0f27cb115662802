package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesExported tracks exported messages per target
	MessagesExported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_messages_exported_total",
			Help: "Total number of messages exported",
		},
		[]string{"target"},
	)

	// PagesFetched tracks history pages fetched per target and shard
	PagesFetched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_pages_fetched_total",
			Help: "Total number of history pages fetched",
		},
		[]string{"target", "shard"},
	)

	// RemoteCallsTotal tracks gateway calls per connection and method
	RemoteCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_remote_calls_total",
			Help: "Total number of gateway API calls",
		},
		[]string{"connection", "method"},
	)

	// RemoteErrorsTotal tracks gateway errors per connection, method and kind
	RemoteErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_remote_errors_total",
			Help: "Total number of gateway API errors",
		},
		[]string{"connection", "method", "kind"},
	)

	// RemoteCallLatency tracks gateway call latency
	RemoteCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvester_remote_call_latency_seconds",
			Help:    "Gateway API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"connection", "method"},
	)

	// BackoffSeconds accumulates backoff delay handed to retry loops
	BackoffSeconds = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_backoff_seconds_total",
			Help: "Total backoff delay computed for retries, in seconds",
		},
		[]string{"operation"},
	)

	// CacheHits tracks cache hits by cache name
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache"},
	)

	// CacheMisses tracks cache misses by cache name
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvester_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache"},
	)

	// ShardsActive tracks currently running shard workers per target
	ShardsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "harvester_shards_active",
			Help: "Number of shard workers currently fetching",
		},
		[]string{"target"},
	)
)
