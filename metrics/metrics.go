package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// FlushTotal counts change manager flushes by manager, trigger and result
	FlushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqorm_flush_total",
			Help: "Total number of change manager flushes",
		},
		[]string{"manager", "trigger", "result"},
	)

	// FlushBatchSize tracks the number of entities handed to the update sink per flush
	FlushBatchSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tqorm_flush_batch_size",
			Help:    "Number of entities per flushed batch",
			Buckets: []float64{1, 2, 3, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"manager"},
	)

	// FlushLatency tracks how long the update sink takes per batch
	FlushLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tqorm_flush_latency_seconds",
			Help:    "Update sink latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"manager"},
	)

	// PendingEntities is the size of the pending set after each registration or flush
	PendingEntities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tqorm_pending_entities",
			Help: "Dirty entities waiting for the next flush",
		},
		[]string{"manager"},
	)

	// CacheHits counts cache hits by cache name
	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqorm_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	// CacheMisses counts cache misses by cache name
	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqorm_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	// CacheExpired counts entries dropped because their TTL passed
	CacheExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqorm_cache_expired_total",
			Help: "Total number of expired cache entries removed",
		},
		[]string{"cache"},
	)

	// PoolConnections reports database/sql pool stats by pool and state
	PoolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tqorm_pool_connections",
			Help: "Connections per pool by state (active, idle, total, pending)",
		},
		[]string{"pool", "state"},
	)

	// StatementsTotal counts statements executed through the builders and the SQL sink
	StatementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tqorm_statements_total",
			Help: "Total statements executed",
		},
		[]string{"query_type", "table"},
	)

	once sync.Once
)

// Init registers all metrics with Prometheus
func Init() {
	once.Do(func() {
		prometheus.MustRegister(FlushTotal)
		prometheus.MustRegister(FlushBatchSize)
		prometheus.MustRegister(FlushLatency)
		prometheus.MustRegister(PendingEntities)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(CacheExpired)
		prometheus.MustRegister(PoolConnections)
		prometheus.MustRegister(StatementsTotal)
	})
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// ForgetManager drops every series labelled with the given change manager.
func ForgetManager(name string) {
	labels := prometheus.Labels{"manager": name}
	FlushTotal.DeletePartialMatch(labels)
	FlushBatchSize.DeletePartialMatch(labels)
	FlushLatency.DeletePartialMatch(labels)
	PendingEntities.DeletePartialMatch(labels)
}
