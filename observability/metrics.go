package observability

import (
	"math"
	"math/big"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type moduleMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type vaultMetrics struct {
	yieldDistributed prometheus.Counter
	distributions    prometheus.Counter
	usersProcessed   prometheus.Counter
	totalDebt        prometheus.Gauge
	activeBorrowers  prometheus.Gauge
}

var (
	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics

	vaultMetricsOnce sync.Once
	vaultRegistry    *vaultMetrics
)

// ModuleMetrics returns the lazily-initialised registry used to record
// JSON-RPC module activity.
func ModuleMetrics() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendvault",
				Subsystem: "module",
				Name:      "requests_total",
				Help:      "Total JSON-RPC module requests segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendvault",
				Subsystem: "module",
				Name:      "errors_total",
				Help:      "Total JSON-RPC module errors segmented by method and code.",
			}, []string{"method", "code"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendvault",
				Subsystem: "module",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC module handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
		)
	})
	return moduleRegistry
}

func (m *moduleMetrics) ObserveRequest(method, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(seconds)
}

func (m *moduleMetrics) ObserveError(method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, code).Inc()
}

// VaultMetrics returns the lazily-initialised registry tracking ledger
// business activity.
func VaultMetrics() *vaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &vaultMetrics{
			yieldDistributed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lendvault",
				Subsystem: "vault",
				Name:      "yield_distributed_wei_total",
				Help:      "Cumulative yield applied to outstanding debt, in wei.",
			}),
			distributions: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lendvault",
				Subsystem: "vault",
				Name:      "distributions_total",
				Help:      "Count of completed yield distribution passes.",
			}),
			usersProcessed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "lendvault",
				Subsystem: "vault",
				Name:      "users_processed_total",
				Help:      "Cumulative borrowers whose debt was reduced by distributions.",
			}),
			totalDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendvault",
				Subsystem: "vault",
				Name:      "total_debt_wei",
				Help:      "Outstanding debt across all positions, in wei.",
			}),
			activeBorrowers: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "lendvault",
				Subsystem: "vault",
				Name:      "active_borrowers",
				Help:      "Number of accounts with strictly positive remaining debt.",
			}),
		}
		prometheus.MustRegister(
			vaultRegistry.yieldDistributed,
			vaultRegistry.distributions,
			vaultRegistry.usersProcessed,
			vaultRegistry.totalDebt,
			vaultRegistry.activeBorrowers,
		)
	})
	return vaultRegistry
}

func (m *vaultMetrics) ObserveDistribution(totalYield *big.Int, users uint64) {
	if m == nil {
		return
	}
	m.distributions.Inc()
	m.usersProcessed.Add(float64(users))
	m.yieldDistributed.Add(approximate(totalYield))
}

func (m *vaultMetrics) SetLedgerTotals(totalDebt *big.Int, borrowers uint64) {
	if m == nil {
		return
	}
	m.totalDebt.Set(approximate(totalDebt))
	m.activeBorrowers.Set(float64(borrowers))
}

// approximate converts a wei amount to float64 for gauge export. Metrics are
// observational only; ledger arithmetic never passes through here.
func approximate(v *big.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v).Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
