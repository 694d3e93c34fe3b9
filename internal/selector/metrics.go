package selector

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// selectionsTotal counts successful routings per backend.
	selectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opossum_selections_total",
			Help: "Total successful backend selections",
		},
		[]string{"backend", "mode"},
	)

	// fallbacksTotal counts fallback-chain advances.
	fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opossum_fallbacks_total",
			Help: "Total fallback attempts to alternate backends",
		},
		[]string{"backend"},
	)

	// jitterTotal counts degraded-mode next-best substitutions.
	jitterTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opossum_jitter_substitutions_total",
			Help: "Total degraded-mode next-best selection substitutions",
		},
	)

	// exhaustedTotal counts requests that failed every candidate.
	exhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "opossum_exhausted_total",
			Help: "Total requests that exhausted all backends",
		},
	)

	// executionDuration tracks invocation latency per backend and outcome.
	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opossum_execution_duration_seconds",
			Help:    "Duration of backend invocations",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"backend", "outcome"},
	)
)

func observeSelection(backend string, fallback bool) {
	mode := "primary"
	if fallback {
		mode = "fallback"
	}
	selectionsTotal.WithLabelValues(backend, mode).Inc()
}

func observeFallback(backend string) {
	fallbacksTotal.WithLabelValues(backend).Inc()
}

func observeJitter() { jitterTotal.Inc() }

func observeExhausted() { exhaustedTotal.Inc() }

func observeExecution(backend string, elapsed time.Duration, ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	executionDuration.WithLabelValues(backend, outcome).Observe(elapsed.Seconds())
}
