// Prometheus metrics for observability.
//
// Primary metrics updated during operation:
//   • engine_orders_total{mode,side,status}  – orders by terminal outcome
//   • engine_signals_total{result}           – signals by execution result
//   • engine_open_positions                  – open position count (gauge)
//   • engine_circuit_breaker_active          – 1 while either breaker blocks
//   • engine_slippage_pct                    – per-fill slippage distribution
//   • engine_poll_latency_seconds            – submit-to-terminal latency
//
// Registered in init() and served by promhttp at /metrics.
package infra

import "github.com/prometheus/client_golang/prometheus"

var (
	mtxOrders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_total",
			Help: "Orders by mode, side and terminal status",
		},
		[]string{"mode", "side", "status"},
	)

	mtxSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_signals_total",
			Help: "Signals by execution result",
		},
		[]string{"result"},
	)

	mtxOpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_open_positions",
			Help: "Currently open positions",
		},
	)

	mtxBreaker = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_circuit_breaker_active",
			Help: "1 while a circuit breaker blocks execution",
		},
	)

	mtxSlippage = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_slippage_pct",
			Help:    "Signed slippage percentage per observed fill",
			Buckets: []float64{-2, -1, -0.5, -0.1, 0, 0.1, 0.5, 1, 2, 5},
		},
	)

	mtxLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "engine_poll_latency_seconds",
			Help:    "Order submit-to-terminal latency",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(
		mtxOrders,
		mtxSignals,
		mtxOpenPositions,
		mtxBreaker,
		mtxSlippage,
		mtxLatency,
	)
}

// ObserveOrder counts one order reaching a terminal status.
func ObserveOrder(mode, side, status string) {
	mtxOrders.WithLabelValues(mode, side, status).Inc()
}

// ObserveSignal counts one signal outcome ("success" or "failure").
func ObserveSignal(result string) {
	mtxSignals.WithLabelValues(result).Inc()
}

// SetOpenPositions updates the open position gauge.
func SetOpenPositions(n int) {
	mtxOpenPositions.Set(float64(n))
}

// SetBreakerActive flips the breaker gauge.
func SetBreakerActive(active bool) {
	if active {
		mtxBreaker.Set(1)
	} else {
		mtxBreaker.Set(0)
	}
}

// ObserveSlippage records one fill's slippage percentage.
func ObserveSlippage(pct float64) {
	mtxSlippage.Observe(pct)
}

// ObserveLatency records one order's submit-to-terminal latency in seconds.
func ObserveLatency(seconds float64) {
	mtxLatency.Observe(seconds)
}
