package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// hitsTotal counts cache hits per store.
	hitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opossum_cache_hits_total",
			Help: "Total number of response cache hits",
		},
		[]string{"store"},
	)

	// missesTotal counts cache misses per store.
	missesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opossum_cache_misses_total",
			Help: "Total number of response cache misses",
		},
		[]string{"store"},
	)

	// evictionsTotal counts LRU evictions.
	evictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opossum_cache_evictions_total",
			Help: "Total number of response cache evictions",
		},
		[]string{"store"},
	)

	// sizeGauge shows current entry counts.
	sizeGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "opossum_cache_size",
			Help: "Current number of entries in the response cache",
		},
		[]string{"store"},
	)

	// errorsTotal counts store operation failures.
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "opossum_cache_errors_total",
			Help: "Total number of response cache store errors",
		},
		[]string{"store", "operation"},
	)
)

func observeHit(store string)  { hitsTotal.WithLabelValues(store).Inc() }
func observeMiss(store string) { missesTotal.WithLabelValues(store).Inc() }

func observeEviction(store string) { evictionsTotal.WithLabelValues(store).Inc() }

func observeSize(store string, size int) {
	sizeGauge.WithLabelValues(store).Set(float64(size))
}

func observeError(store, operation string) {
	errorsTotal.WithLabelValues(store, operation).Inc()
}
