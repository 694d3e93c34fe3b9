package selector

import "math/rand/v2"

// Rand is the randomness source for degraded-mode jitter. Injectable so tests
// can force either branch deterministically.
type Rand interface {
	Float64() float64
}

type systemRand struct{}

func (systemRand) Float64() float64 {
	//nolint:gosec // G404: load-spreading jitter is not security-sensitive
	return rand.Float64()
}
