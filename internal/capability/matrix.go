// Package capability scores how well each backend covers named quality
// dimensions (reasoning, multimodal input, ...). Scores start from static
// configuration and drift with observed outcomes via exponential moving
// adjustment; selection reads are copy-free snapshots and never mutate.
package capability

import (
	"sync"

	"github.com/bilalobe/opossum-router/internal/observability"
)

// Adjustment step defaults. Failures move scores faster than successes so a
// misbehaving backend loses a capability quicker than it earns one back.
const (
	DefaultSuccessStep = 0.05
	DefaultFailureStep = 0.15

	// DefaultCriticalPenalty is subtracted from a backend's aggregate score
	// when it lacks a capability the request flags as critical.
	DefaultCriticalPenalty = 0.5
)

// Requirement names a capability a request needs, with an importance weight
// and a critical flag.
type Requirement struct {
	Name     string
	Weight   float64
	Critical bool
}

// Matrix holds per-(backend, capability) scores in [0,1].
type Matrix struct {
	mu     sync.RWMutex
	scores map[string]map[string]float64

	successStep     float64
	failureStep     float64
	criticalPenalty float64

	logger observability.Logger
}

// Option configures a Matrix.
type Option func(*Matrix)

// WithSteps overrides the adjustment step sizes.
func WithSteps(success, failure float64) Option {
	return func(m *Matrix) {
		m.successStep = success
		m.failureStep = failure
	}
}

// WithCriticalPenalty overrides the missing-critical-capability penalty.
func WithCriticalPenalty(penalty float64) Option {
	return func(m *Matrix) {
		m.criticalPenalty = penalty
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(m *Matrix) {
		m.logger = logger
	}
}

// NewMatrix creates a matrix seeded with static per-backend capability scores.
func NewMatrix(static map[string]map[string]float64, opts ...Option) *Matrix {
	m := &Matrix{
		scores:          make(map[string]map[string]float64, len(static)),
		successStep:     DefaultSuccessStep,
		failureStep:     DefaultFailureStep,
		criticalPenalty: DefaultCriticalPenalty,
		logger:          observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	for backend, caps := range static {
		entry := make(map[string]float64, len(caps))
		for name, score := range caps {
			entry[name] = clamp(score)
		}
		m.scores[backend] = entry
	}

	return m
}

// Score returns the score for (backend, capability), 0.0 if unknown.
func (m *Matrix) Score(backend, capability string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scores[backend][capability]
}

// ScoreBackend computes the weighted average of the backend's scores over the
// required capabilities. A missing critical capability applies the configured
// penalty to the aggregate rather than merely contributing zero. The result
// is clamped to [0,1].
func (m *Matrix) ScoreBackend(backend string, required []Requirement) float64 {
	if len(required) == 0 {
		return 1
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	caps := m.scores[backend]

	var weighted, totalWeight, penalty float64
	for _, req := range required {
		weight := req.Weight
		if weight <= 0 {
			weight = 1
		}

		score := caps[req.Name]
		weighted += score * weight
		totalWeight += weight

		if req.Critical && score == 0 {
			penalty += m.criticalPenalty
		}
	}

	return clamp(weighted/totalWeight - penalty)
}

// Adjust applies an exponential moving update to (backend, capability):
// a small step toward 1 on success, a larger step toward 0 on failure.
// This is the only mutation path.
func (m *Matrix) Adjust(backend, capability string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	caps, ok := m.scores[backend]
	if !ok {
		caps = make(map[string]float64)
		m.scores[backend] = caps
	}

	old := caps[capability]
	var updated float64
	if success {
		updated = clamp(old + m.successStep*(1-old))
	} else {
		updated = clamp(old - m.failureStep*old)
	}
	caps[capability] = updated

	m.logger.Debug("capability adjusted",
		observability.Backend(backend),
		observability.String("capability", capability),
		observability.Bool("success", success),
		observability.Float64("score", updated),
	)
}

// Snapshot returns a copy of a backend's capability scores.
func (m *Matrix) Snapshot(backend string) map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	caps := m.scores[backend]
	out := make(map[string]float64, len(caps))
	for name, score := range caps {
		out[name] = score
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
