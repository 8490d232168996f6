// Package metrics holds the Prometheus instruments shared by the chunk
// store, the query cache and the aggregation engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "chunkagg"

// Metrics is a set of instruments registered on one registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ChunkReads  prometheus.Counter
	ChunkWrites prometheus.Counter
	RowsWritten prometheus.Counter

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	CacheEvictions prometheus.Counter

	// Retries counts aggregations restarted after a concurrent write.
	Retries prometheus.Counter

	OpDuration *prometheus.HistogramVec
}

// New registers the instruments on reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ChunkReads: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_reads_total",
			Help:      "Chunks read from the store.",
		}),
		ChunkWrites: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_writes_total",
			Help:      "Chunks written to the store.",
		}),
		RowsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_written_total",
			Help:      "Rows committed by BatchInsert and Append.",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Query cache lookups answered from cache.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Query cache lookups that missed or found an expired entry.",
		}),
		CacheEvictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Expired cache entries removed.",
		}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregate_retries_total",
			Help:      "Aggregations restarted because the dataset changed mid-scan.",
		}),
		OpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "op_duration_seconds",
			Help:      "Duration of store and engine operations.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
	}
}

func inc(c prometheus.Counter, n float64) {
	if c != nil && n > 0 {
		c.Add(n)
	}
}

// ChunkRead records n chunk reads.
func (m *Metrics) ChunkRead(n int) {
	if m != nil {
		inc(m.ChunkReads, float64(n))
	}
}

// ChunkWrite records n chunk writes carrying rows rows.
func (m *Metrics) ChunkWrite(n, rows int) {
	if m != nil {
		inc(m.ChunkWrites, float64(n))
		inc(m.RowsWritten, float64(rows))
	}
}

// CacheHit records a cache hit.
func (m *Metrics) CacheHit() {
	if m != nil {
		inc(m.CacheHits, 1)
	}
}

// CacheMiss records a cache miss.
func (m *Metrics) CacheMiss() {
	if m != nil {
		inc(m.CacheMisses, 1)
	}
}

// CacheEvict records n evicted cache entries.
func (m *Metrics) CacheEvict(n int) {
	if m != nil {
		inc(m.CacheEvictions, float64(n))
	}
}

// Retry records one restarted aggregation.
func (m *Metrics) Retry() {
	if m != nil {
		inc(m.Retries, 1)
	}
}

// Observe records the duration of op in seconds.
func (m *Metrics) Observe(op string, seconds float64) {
	if m != nil {
		m.OpDuration.WithLabelValues(op).Observe(seconds)
	}
}
