package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		gatewayCallDuration,
		gatewayCallsTotal,
	)
}

var (
	// Latency of outbound gateway API calls.
	// op: create_order|capture|fetch|refund|token|...
	gatewayCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gateway_call_duration_seconds",
			Help:      "Duration of outbound payment gateway API calls.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"gateway", "op"},
	)

	// result: ok|http_error|transport_error|bad_response
	gatewayCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Outbound payment gateway API calls by result.",
		},
		[]string{"gateway", "op", "result"},
	)
)

func ObserveGatewayCall(gateway, op, result string, d time.Duration) {
	gatewayCallDuration.WithLabelValues(norm(gateway), op).Observe(d.Seconds())
	gatewayCallsTotal.WithLabelValues(norm(gateway), op, result).Inc()
}
