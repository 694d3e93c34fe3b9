package circuit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// stateGauge shows the current state of each breaker.
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opossum_circuit_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"backend"},
	)

	// requestsTotal counts gating decisions.
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opossum_circuit_requests_total",
			Help: "Total requests evaluated by circuit breakers",
		},
		[]string{"backend", "result"},
	)

	// failuresTotal counts counted failures.
	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opossum_circuit_failures_total",
			Help: "Total failures recorded by circuit breakers",
		},
		[]string{"backend"},
	)

	// successesTotal counts recorded successes.
	successesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opossum_circuit_successes_total",
			Help: "Total successes recorded by circuit breakers",
		},
		[]string{"backend"},
	)

	// stateChangesTotal counts transitions.
	stateChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opossum_circuit_state_changes_total",
			Help: "Total circuit breaker state transitions",
		},
		[]string{"backend", "from", "to"},
	)
)

func recordRequest(backend string, allowed bool) {
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	requestsTotal.WithLabelValues(backend, result).Inc()
}

func recordFailure(backend string) {
	failuresTotal.WithLabelValues(backend).Inc()
}

func recordSuccess(backend string) {
	successesTotal.WithLabelValues(backend).Inc()
}

func recordStateChange(backend string, from, to State) {
	stateChangesTotal.WithLabelValues(backend, from.String(), to.String()).Inc()
	stateGauge.WithLabelValues(backend).Set(float64(to))
}
