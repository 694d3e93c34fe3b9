package availability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// availableGauge shows the last probe verdict per backend.
	availableGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opossum_backend_available",
			Help: "Whether the backend's last probe succeeded (1) or failed (0)",
		},
		[]string{"backend"},
	)

	// probeDuration tracks probe latency.
	probeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "opossum_probe_duration_seconds",
			Help:    "Duration of backend availability probes",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"backend"},
	)

	// probeFailuresTotal counts failed probes.
	probeFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opossum_probe_failures_total",
			Help: "Total failed backend availability probes",
		},
		[]string{"backend"},
	)
)

func observeProbe(backend string, elapsed time.Duration, ok bool) {
	probeDuration.WithLabelValues(backend).Observe(elapsed.Seconds())
	if ok {
		availableGauge.WithLabelValues(backend).Set(1)
	} else {
		availableGauge.WithLabelValues(backend).Set(0)
		probeFailuresTotal.WithLabelValues(backend).Inc()
	}
}
