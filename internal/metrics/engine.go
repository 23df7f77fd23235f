package metrics

import "github.com/prometheus/client_golang/prometheus"

// Engine Prometheus metrics.
var (
	ChunkWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chunkdex",
			Name:      "chunk_writes_total",
			Help:      "Total number of chunk upserts",
		},
		[]string{"status"}, // "created" / "updated" / "rejected"
	)

	ChunkDeletesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chunkdex",
			Name:      "chunk_deletes_total",
			Help:      "Total number of chunk deletions",
		},
	)

	ChunksStored = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chunkdex",
			Name:      "chunks_stored",
			Help:      "Number of chunks currently stored",
		},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chunkdex",
			Name:      "query_duration_seconds",
			Help:      "Query execution duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"mode"}, // "text" / "vector" / "hybrid"
	)

	VectorIndexTombstoneRatio = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chunkdex",
			Name:      "vector_index_tombstone_ratio",
			Help:      "Fraction of vector index slots occupied by deleted entries",
		},
	)

	ReplicationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "chunkdex",
			Name:      "replication_failures_total",
			Help:      "Writes that failed to reach all replicas",
		},
	)

	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chunkdex",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chunkdex",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	EmbeddingBudgetTokensRemaining = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "chunkdex",
			Name:      "embedding_budget_tokens_remaining",
			Help:      "Embedding tokens left in the budget window",
		},
		[]string{"provider", "window"}, // window: "day" / "month"
	)
)

var engineMetricsRegistered bool

// RegisterEngineMetrics registers Prometheus engine and HTTP metrics.
// Must be called once from main.
func RegisterEngineMetrics() {
	if engineMetricsRegistered {
		return
	}
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(ChunkWritesTotal)
	prometheus.MustRegister(ChunkDeletesTotal)
	prometheus.MustRegister(ChunksStored)
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(VectorIndexTombstoneRatio)
	prometheus.MustRegister(ReplicationFailuresTotal)
	prometheus.MustRegister(EmbeddingRequestsTotal)
	prometheus.MustRegister(EmbeddingCacheTotal)
	prometheus.MustRegister(EmbeddingBudgetTokensRemaining)
	engineMetricsRegistered = true
}
