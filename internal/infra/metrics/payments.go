package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		callbacksTotal,
		reconciliationsTotal,
		paymentsRevenueTotal,
		staleSweepTotal,
	)
}

var (
	// result: accepted|rejected|error
	callbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_callbacks_total",
			Help:      "Inbound gateway callbacks by verification result.",
		},
		[]string{"gateway", "result"},
	)

	// outcome: processed|received|error|duplicate|unresolved
	reconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconciliations_total",
			Help:      "Reconciliation outcomes per gateway.",
		},
		[]string{"gateway", "outcome"},
	)

	paymentsRevenueTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_revenue_minor_total",
			Help:      "Credited funds in minor units, labeled by currency.",
		},
		[]string{"currency"},
	)

	staleSweepTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_stale_sweep_total",
			Help:      "Stale received transactions revisited by the sweeper.",
		},
		[]string{"result"},
	)
)

func IncCallback(gateway, result string) {
	callbacksTotal.WithLabelValues(norm(gateway), result).Inc()
}

func IncReconciliation(gateway, outcome string) {
	reconciliationsTotal.WithLabelValues(norm(gateway), outcome).Inc()
}

func AddPaymentRevenue(currency string, amount int64) {
	paymentsRevenueTotal.WithLabelValues(norm(currency)).Add(float64(amount))
}

func IncStaleSweep(result string) {
	staleSweepTotal.WithLabelValues(result).Inc()
}
