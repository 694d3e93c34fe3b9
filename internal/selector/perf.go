package selector

import (
	"sync"
	"time"
)

const (
	// perfAlpha is the smoothing factor for the latency moving average.
	perfAlpha = 0.2

	// neutralPerfScore is assumed for backends with no samples yet, so a new
	// backend is neither favored nor penalized.
	neutralPerfScore = 0.5
)

// perfTracker keeps an exponential moving average of invocation latency per
// backend and converts it to a score against the backend's execution timeout.
type perfTracker struct {
	mu  sync.Mutex
	ema map[string]float64 // seconds
}

func newPerfTracker() *perfTracker {
	return &perfTracker{ema: make(map[string]float64)}
}

// Observe folds one latency sample into the backend's moving average.
func (p *perfTracker) Observe(backend string, elapsed time.Duration) {
	seconds := elapsed.Seconds()

	p.mu.Lock()
	defer p.mu.Unlock()

	if prev, ok := p.ema[backend]; ok {
		p.ema[backend] = perfAlpha*seconds + (1-perfAlpha)*prev
	} else {
		p.ema[backend] = seconds
	}
}

// Score maps the latency average into [0,1]: 1 at zero latency, 0 at the
// execution timeout. No samples yields the neutral score.
func (p *perfTracker) Score(backend string, timeout time.Duration) float64 {
	p.mu.Lock()
	ema, ok := p.ema[backend]
	p.mu.Unlock()

	if !ok {
		return neutralPerfScore
	}
	if timeout <= 0 {
		return neutralPerfScore
	}

	score := 1 - ema/timeout.Seconds()
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}
