package observability

import (
	"time"

	"github.com/boddenberg/fincontrol-bfa-go/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"
)

// Metrics holds all Prometheus metrics for the billing service.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration *prometheus.HistogramVec
	externalErrors  *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	cacheMisses     *prometheus.CounterVec
	transitions     *prometheus.CounterVec
	rollbacks       *prometheus.CounterVec
	reconcileDrifts prometheus.Counter
	balanceRetries  prometheus.Counter
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_operation_duration_seconds",
				Help:    "Duration of billing operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		externalErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_external_errors_total",
				Help: "Total errors from the persistent store and other external services.",
			},
			[]string{"service"},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_invoice_actions_total",
				Help: "Fatura state machine actions by action and result.",
			},
			[]string{"acao", "result"},
		),
		rollbacks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_invoice_rollbacks_total",
				Help: "Unit-of-work rollbacks by action and outcome.",
			},
			[]string{"acao", "outcome"},
		),
		reconcileDrifts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_limit_reconcile_drift_total",
				Help: "Cards whose cached limite_usado drifted beyond the tolerance.",
			},
		),
		balanceRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_balance_cas_retries_total",
				Help: "Settlement balance compare-and-swap conflicts that were retried.",
			},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
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

// IncrTransition counts a state machine action. result is one of
// success, invalid, precondition, conflict, error.
func (m *Metrics) IncrTransition(action, result string) {
	m.transitions.WithLabelValues(action, result).Inc()
}

// IncrRollback counts a unit-of-work rollback; outcome is clean or partial.
func (m *Metrics) IncrRollback(action, outcome string) {
	m.rollbacks.WithLabelValues(action, outcome).Inc()
}

// IncrReconcileDrift counts a card whose cached used limit had drifted.
func (m *Metrics) IncrReconcileDrift() {
	m.reconcileDrifts.Inc()
}

// IncrBalanceRetry counts a retried balance compare-and-swap.
func (m *Metrics) IncrBalanceRetry() {
	m.balanceRetries.Inc()
}

// GetBillingSnapshot returns a snapshot suitable for GET /v1/metrics/billing.
func (m *Metrics) GetBillingSnapshot() *domain.BillingMetrics {
	transitions := make(map[string]float64)
	var failed, conflicts float64
	for _, action := range []domain.InvoiceAction{domain.ActionClose, domain.ActionPay, domain.ActionReopen} {
		a := string(action)
		transitions[a] = getCounterValue(m.transitions, a, "success")
		failed += getCounterValue(m.transitions, a, "error")
		conflicts += getCounterValue(m.transitions, a, "conflict")
	}

	var rollbacks float64
	for _, action := range []domain.InvoiceAction{domain.ActionClose, domain.ActionPay, domain.ActionReopen} {
		rollbacks += getCounterValue(m.rollbacks, string(action), "clean") +
			getCounterValue(m.rollbacks, string(action), "partial")
	}

	hits := getCounterValue(m.cacheHits, "category")
	misses := getCounterValue(m.cacheMisses, "category")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.BillingMetrics{
		Transitions:      transitions,
		FailedActions:    failed,
		Conflicts:        conflicts,
		Rollbacks:        rollbacks,
		ReconcileDrifts:  readCounter(m.reconcileDrifts),
		BalanceCASRetry:  readCounter(m.balanceRetries),
		ExternalErrors:   getCounterValue(m.externalErrors, "store"),
		CategoryCacheHit: hitRate,
		Period:           "all_time",
	}
}

// getCounterValue extracts the current float64 value from a CounterVec for the given labels.
func getCounterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	return readCounter(cv.WithLabelValues(labels...))
}

func readCounter(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
