package observability

import (
	"time"

	"github.com/mcravero/statement-ingest/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the ingestion pipeline.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	stageDuration  *prometheus.HistogramVec
	externalErrors *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	tokensUsed     *prometheus.CounterVec
	importsTotal   *prometheus.CounterVec
	txnsTotal      *prometheus.CounterVec
	breakerTrips   *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		stageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_stage_duration_seconds",
				Help:    "Duration of pipeline stages.",
				Buckets: []float64{.05, .25, 1, 5, 15, 30, 60, 120, 180},
			},
			[]string{"stage"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_external_errors_total",
				Help: "Total errors from external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		tokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_llm_tokens_total",
				Help: "Total LLM tokens consumed by structuring.",
			},
			[]string{"type"},
		),
		importsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_imports_total",
				Help: "Statement imports by terminal status.",
			},
			[]string{"status"},
		),
		txnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_transactions_total",
				Help: "Transactions by pipeline outcome.",
			},
			[]string{"outcome"},
		),
		breakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_breaker_transitions_total",
				Help: "Circuit breaker state transitions.",
			},
			[]string{"service", "state"},
		),
	}
}

// RecordStageDuration records the duration of a pipeline stage.
func (m *Metrics) RecordStageDuration(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// IncrExternalError increments the external error counter.
func (m *Metrics) IncrExternalError(service string) {
	m.externalErrors.WithLabelValues(service).Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// RecordTokens records prompt and completion token usage.
func (m *Metrics) RecordTokens(prompt, completion int) {
	m.tokensUsed.WithLabelValues("prompt").Add(float64(prompt))
	m.tokensUsed.WithLabelValues("completion").Add(float64(completion))
}

// IncrImport increments the import counter with a terminal status label.
func (m *Metrics) IncrImport(status string) {
	m.importsTotal.WithLabelValues(status).Inc()
}

// AddTransactions adds n to the transaction outcome counter.
// Outcomes: validated, rejected, inserted, failed, duplicate.
func (m *Metrics) AddTransactions(outcome string, n int) {
	if n > 0 {
		m.txnsTotal.WithLabelValues(outcome).Add(float64(n))
	}
}

// IncrBreakerTransition counts a breaker state change for a service.
func (m *Metrics) IncrBreakerTransition(service, state string) {
	m.breakerTrips.WithLabelValues(service, state).Inc()
}

// PipelineSnapshot returns a snapshot of pipeline metrics suitable for the
// GET /v1/metrics/pipeline endpoint.
func (m *Metrics) PipelineSnapshot() *domain.PipelineMetrics {
	// Gather current values from Prometheus counters.
	// Note: Prometheus counters expose cumulative values.
	completed := getCounterValue(m.importsTotal, "completed")
	failed := getCounterValue(m.importsTotal, "failed")
	promptTokens := getCounterValue(m.tokensUsed, "prompt")
	completionTokens := getCounterValue(m.tokensUsed, "completion")
	inserted := getCounterValue(m.txnsTotal, "inserted")
	rejected := getCounterValue(m.txnsTotal, "rejected")
	duplicates := getCounterValue(m.txnsTotal, "duplicate")
	cacheHits := getCounterValue(m.cacheHits, "ocr_result")
	cacheMisses := getCounterValue(m.cacheMisses, "ocr_result")

	errorRate := float64(0)
	if completed+failed > 0 {
		errorRate = failed / (completed + failed)
	}
	cacheHitRate := float64(0)
	if cacheHits+cacheMisses > 0 {
		cacheHitRate = cacheHits / (cacheHits + cacheMisses)
	}

	// Estimated cost: ~$0.15/1M prompt tokens, ~$0.60/1M completion tokens
	estimatedCost := (promptTokens/1_000_000)*0.15 + (completionTokens/1_000_000)*0.60

	return &domain.PipelineMetrics{
		ImportsCompleted:     int64(completed),
		ImportsFailed:        int64(failed),
		ErrorRate:            errorRate,
		TransactionsInserted: int64(inserted),
		TransactionsRejected: int64(rejected),
		DuplicatesSkipped:    int64(duplicates),
		CacheHitRate:         cacheHitRate,
		TokensUsed:           int64(promptTokens + completionTokens),
		EstimatedCostUSD:     estimatedCost,
		Period:               "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label set.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
