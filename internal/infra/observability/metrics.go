package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/mfbaptista/billcycle/internal/domain"
)

// Metrics holds all Prometheus metrics for the billing engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	Registry *prometheus.Registry

	generationDuration   *prometheus.HistogramVec
	statementsGenerated  *prometheus.CounterVec
	balanceEffects       *prometheus.CounterVec
	settlementRejections prometheus.Counter
	cacheHits            *prometheus.CounterVec
	cacheMisses          *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// engine metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		generationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billcycle_operation_duration_seconds",
				Help:    "Duration of engine operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		statementsGenerated: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billcycle_statements_total",
				Help: "Statement generation outcomes per candidate month.",
			},
			[]string{"outcome"}, // created, skipped_existing, skipped_empty
		),
		balanceEffects: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billcycle_balance_effects_total",
				Help: "Balance effect applications by result.",
			},
			[]string{"result"}, // applied, duplicate, failed
		),
		settlementRejections: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billcycle_settlement_rejections_total",
				Help: "Statement settlements rejected before any mutation.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billcycle_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billcycle_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordOperationDuration records the duration of an engine operation.
func (m *Metrics) RecordOperationDuration(operation string, d time.Duration) {
	m.generationDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrStatementOutcome counts one candidate-month outcome.
func (m *Metrics) IncrStatementOutcome(outcome string) {
	m.statementsGenerated.WithLabelValues(outcome).Inc()
}

// IncrBalanceEffect counts one balance effect result.
func (m *Metrics) IncrBalanceEffect(result string) {
	m.balanceEffects.WithLabelValues(result).Inc()
}

// IncrSettlementRejection counts a settlement rejected pre-mutation.
func (m *Metrics) IncrSettlementRejection() {
	m.settlementRejections.Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// GenerationSnapshot returns current counter values for the worker's
// periodic status log.
func (m *Metrics) GenerationSnapshot() *domain.GenerationStats {
	return &domain.GenerationStats{
		StatementsCreated: getCounterValue(m.statementsGenerated, "created"),
		SkippedExisting:   getCounterValue(m.statementsGenerated, "skipped_existing"),
		SkippedEmpty:      getCounterValue(m.statementsGenerated, "skipped_empty"),
		EffectsApplied:    getCounterValue(m.balanceEffects, "applied"),
		EffectsDuplicate:  getCounterValue(m.balanceEffects, "duplicate"),
		EffectsFailed:     getCounterValue(m.balanceEffects, "failed"),
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for a given label.
func getCounterValue(cv *prometheus.CounterVec, label string) float64 {
	counter := cv.WithLabelValues(label)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
