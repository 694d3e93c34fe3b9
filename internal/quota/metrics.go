package quota

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// usageGauge shows current window usage per backend and resource.
	usageGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opossum_quota_usage",
			Help: "Current usage count in the active quota window",
		},
		[]string{"backend", "resource", "window"},
	)

	// limitGauge shows the configured limit per window.
	limitGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opossum_quota_limit",
			Help: "Configured limit of the quota window",
		},
		[]string{"backend", "resource", "window"},
	)

	// rejectionsTotal counts requests blocked by quota exhaustion.
	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opossum_quota_rejections_total",
			Help: "Total requests rejected by quota windows",
		},
		[]string{"backend", "resource"},
	)
)

func observeUsage(backend, resource string, window time.Duration, count, limit int) {
	usageGauge.WithLabelValues(backend, resource, window.String()).Set(float64(count))
	limitGauge.WithLabelValues(backend, resource, window.String()).Set(float64(limit))
}

func observeRejection(backend, resource string) {
	rejectionsTotal.WithLabelValues(backend, resource).Inc()
}
