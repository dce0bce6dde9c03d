// Package metrics defines the Prometheus collectors of the motif index and
// search engine and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	BucketReadsTotal      *prometheus.CounterVec
	CorruptBucketsTotal   prometheus.Counter
	IndexWritesTotal      *prometheus.CounterVec
	IndexWriteDuration    *prometheus.HistogramVec
	IndexedDescriptors    prometheus.Gauge
	IndexGeneration       prometheus.Gauge
	SearchQueriesTotal    *prometheus.CounterVec
	SearchLatency         *prometheus.HistogramVec
	SearchHitsCount       prometheus.Histogram
	CandidateDescriptors  prometheus.Histogram
	CacheHitsTotal        prometheus.Counter
	CacheMissesTotal      prometheus.Counter
	StructuresUpdated     *prometheus.CounterVec
	UpdateDuration        *prometheus.HistogramVec
	CircuitBreakerState   *prometheus.GaugeVec
	KafkaMessagesConsumed *prometheus.CounterVec
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BucketReadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motif_bucket_reads_total",
				Help: "Bucket lookups by outcome (cached, loaded, absent, corrupt).",
			},
			[]string{"outcome"},
		),
		CorruptBucketsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "motif_corrupt_buckets_total",
				Help: "Buckets whose stored bytes failed to decode.",
			},
		),
		IndexWritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motif_index_writes_total",
				Help: "Index commits and deletes by operation and status.",
			},
			[]string{"op", "status"},
		),
		IndexWriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "motif_index_write_duration_seconds",
				Help:    "Duration of index commits and deletes in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"op"},
		),
		IndexedDescriptors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "motif_indexed_descriptors",
				Help: "Number of descriptors with a non-empty bucket.",
			},
		),
		IndexGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "motif_index_generation",
				Help: "Generation number of the live index bundle.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motif_search_queries_total",
				Help: "Search queries by result (complete, truncated, rejected, error).",
			},
			[]string{"result"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "motif_search_latency_seconds",
				Help:    "Search latency in seconds.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 90},
			},
			[]string{"cache_status"},
		),
		SearchHitsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "motif_search_hits",
				Help:    "Hits returned per search.",
				Buckets: []float64{0, 1, 10, 100, 1000, 10000},
			},
		),
		CandidateDescriptors: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "motif_candidate_descriptors",
				Help:    "Expanded candidate descriptors per path step.",
				Buckets: []float64{1, 5, 25, 100, 500, 2500},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "motif_cache_hits_total",
				Help: "Search result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "motif_cache_misses_total",
				Help: "Search result cache misses.",
			},
		),
		StructuresUpdated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motif_structures_updated_total",
				Help: "Structures added to or removed from the index.",
			},
			[]string{"op"},
		),
		UpdateDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "motif_update_duration_seconds",
				Help:    "Duration of update operations (add, remove, recover) in seconds.",
				Buckets: []float64{0.1, 1, 10, 60, 300, 1800, 3600},
			},
			[]string{"op"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
		KafkaMessagesConsumed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motif_kafka_messages_consumed_total",
				Help: "Update commands consumed from Kafka by status.",
			},
			[]string{"status"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "motif_http_requests_total",
				Help: "Probe endpoint requests by method, path and status code.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "motif_http_request_duration_seconds",
				Help:    "Probe endpoint latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "motif_http_requests_in_flight",
				Help: "Probe endpoint requests currently being served.",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.BucketReadsTotal,
			m.CorruptBucketsTotal,
			m.IndexWritesTotal,
			m.IndexWriteDuration,
			m.IndexedDescriptors,
			m.IndexGeneration,
			m.SearchQueriesTotal,
			m.SearchLatency,
			m.SearchHitsCount,
			m.CandidateDescriptors,
			m.CacheHitsTotal,
			m.CacheMissesTotal,
			m.StructuresUpdated,
			m.UpdateDuration,
			m.CircuitBreakerState,
			m.KafkaMessagesConsumed,
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.HTTPRequestsInFlight,
		)
	}

	return m
}

// Handler returns the Prometheus scrape HTTP handler for the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
