package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(adminActionsTotal) }

// result: ok|denied|error
var adminActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "admin_actions_total",
		Help:      "Admin API actions by result.",
	},
	[]string{"action", "result"},
)

func IncAdminAction(action, result string) {
	adminActionsTotal.WithLabelValues(action, result).Inc()
}
