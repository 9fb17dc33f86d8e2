package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// ingestion engine. Vector labels use the source name (household, weather,
// grid) so per-feed behavior is visible on one dashboard.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec // labels: source, status={success,partial_success,failed}
	RecordsFetched   *prometheus.CounterVec // labels: source
	RecordsRejected  *prometheus.CounterVec // labels: source
	RecordsUpserted  *prometheus.CounterVec // labels: source
	FetchRetries     *prometheus.CounterVec // labels: source
	SyntheticBatches *prometheus.CounterVec // labels: source, tier
	ChunkFailures    *prometheus.CounterVec // labels: source

	RunDuration *prometheus.HistogramVec // labels: source
	BatchSize   *prometheus.HistogramVec // labels: source

	StreamingRunning prometheus.Gauge
}

// NewMetrics creates and registers all ingestion metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.RunsTotal,
		m.RecordsFetched,
		m.RecordsRejected,
		m.RecordsUpserted,
		m.FetchRetries,
		m.SyntheticBatches,
		m.ChunkFailures,
		m.RunDuration,
		m.BatchSize,
		m.StreamingRunning,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energy_ingest",
			Name:      "runs_total",
			Help:      "Completed ingestion runs by source and terminal status.",
		}, []string{"source", "status"}),
		RecordsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energy_ingest",
			Name:      "records_fetched_total",
			Help:      "Normalized records produced by source clients.",
		}, []string{"source"}),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energy_ingest",
			Name:      "records_rejected_total",
			Help:      "Records dropped by validation.",
		}, []string{"source"}),
		RecordsUpserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energy_ingest",
			Name:      "records_upserted_total",
			Help:      "Records written to the store (inserted or updated).",
		}, []string{"source"}),
		FetchRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energy_ingest",
			Name:      "fetch_retries_total",
			Help:      "Fetch attempts beyond the first, per source.",
		}, []string{"source"}),
		SyntheticBatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energy_ingest",
			Name:      "synthetic_batches_total",
			Help:      "Batches served by synthetic fallback generators.",
		}, []string{"source", "tier"}),
		ChunkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "energy_ingest",
			Name:      "chunk_failures_total",
			Help:      "Upsert chunks that failed after exhausting chunk retries.",
		}, []string{"source"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "energy_ingest",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-validate-write run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"source"}),
		BatchSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "energy_ingest",
			Name:      "batch_size",
			Help:      "Normalized records per fetched batch.",
			Buckets:   []float64{10, 50, 100, 500, 1000, 5000, 10000, 50000},
		}, []string{"source"}),
		StreamingRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "energy_ingest",
			Name:      "streaming_running",
			Help:      "1 when the streaming manager is dispatching, 0 when stopped.",
		}),
	}
}
