package resilience

import "github.com/prometheus/client_golang/prometheus"

var (
	BreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pos_backend_breaker_state",
			Help: "Current breaker state per backend target: 0=closed,1=open,2=half-open",
		},
		[]string{"target"},
	)
	BreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_backend_breaker_transition_total",
			Help: "Count of breaker state transitions",
		},
		[]string{"target", "from", "to"},
	)
	BreakerOpenedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_backend_breaker_open_total",
			Help: "Number of times a breaker opened",
		},
		[]string{"target"},
	)
	BackendCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pos_backend_calls_total",
			Help: "Outbound backend calls by target and result",
		},
		[]string{"target", "result"},
	)
)

func init() {
	prometheus.MustRegister(BreakerState, BreakerTransitions, BreakerOpenedTotal, BackendCallsTotal)
}
