// Package selector is the routing core: it gates the backend set through
// availability, quota, and circuit checks, ranks what survives by a weighted
// blend of capability, performance, and cost, and executes requests with a
// bounded fallback chain behind a response cache.
package selector

import (
	"context"
	"sort"
	"time"

	"github.com/bilalobe/opossum-router/internal/availability"
	"github.com/bilalobe/opossum-router/internal/backend"
	"github.com/bilalobe/opossum-router/internal/cache"
	"github.com/bilalobe/opossum-router/internal/capability"
	"github.com/bilalobe/opossum-router/internal/circuit"
	"github.com/bilalobe/opossum-router/internal/config"
	"github.com/bilalobe/opossum-router/internal/observability"
	"github.com/bilalobe/opossum-router/internal/quota"
	"github.com/bilalobe/opossum-router/internal/util"
)

// ResourceRequests is the quota resource metered per invocation.
const ResourceRequests = "requests"

// Selection is the outcome of ranking: the chosen backend plus the ordered
// chain of alternates Execute may fall back to.
type Selection struct {
	// BackendID is the chosen backend.
	BackendID string

	// Score is the blended score of the choice; zero for forced selections.
	Score float64

	// IsFallback marks selections that did not come from normal ranking.
	IsFallback bool

	// Forced marks emergency-chain and safety-valve selections, which bypass
	// quota and circuit gating.
	Forced bool

	// Jittered marks a degraded-mode next-best substitution.
	Jittered bool

	chain []string
}

// Chain returns the ordered fallback candidates after the chosen backend.
func (s *Selection) Chain() []string {
	out := make([]string, len(s.chain))
	copy(out, s.chain)
	return out
}

// Result is the outcome of executing a request.
type Result struct {
	Payload    []byte
	BackendID  string
	IsFallback bool
	Jittered   bool
	FromCache  bool
}

// Selector routes requests across the backend set.
type Selector struct {
	cfg      config.SelectorConfig
	backends map[string]config.BackendConfig
	registry *backend.Registry
	monitor  *availability.Monitor
	circuits *circuit.Registry
	quotas   *quota.Tracker
	matrix   *capability.Matrix
	store    cache.Cache
	perf     *perfTracker
	rng      Rand
	logger   observability.Logger
	events   observability.Events
}

// Option configures a Selector.
type Option func(*Selector)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(s *Selector) { s.logger = logger }
}

// WithEvents sets the telemetry event sink.
func WithEvents(events observability.Events) Option {
	return func(s *Selector) { s.events = events }
}

// WithCache enables response memoization.
func WithCache(store cache.Cache) Option {
	return func(s *Selector) { s.store = store }
}

// WithRand overrides the jitter randomness source.
func WithRand(rng Rand) Option {
	return func(s *Selector) { s.rng = rng }
}

// New creates a selector over the given collaborators.
func New(
	cfg *config.Config,
	registry *backend.Registry,
	monitor *availability.Monitor,
	circuits *circuit.Registry,
	quotas *quota.Tracker,
	matrix *capability.Matrix,
	opts ...Option,
) *Selector {
	s := &Selector{
		cfg:      cfg.Selector,
		backends: make(map[string]config.BackendConfig, len(cfg.Backends)),
		registry: registry,
		monitor:  monitor,
		circuits: circuits,
		quotas:   quotas,
		matrix:   matrix,
		perf:     newPerfTracker(),
		rng:      systemRand{},
		logger:   observability.NopLogger(),
		events:   observability.NopEvents(),
	}
	for _, bc := range cfg.Backends {
		s.backends[bc.ID] = bc
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Select picks the best backend for the request. Candidates must be
// available, within quota, and admissible by their circuit breaker; survivors
// are ranked by the weighted capability/performance/cost blend. An empty
// candidate set falls through to the emergency chain and finally the safety
// valve. Only when even the valve is missing does selection fail.
func (s *Selector) Select(ctx context.Context, req backend.Request, required []capability.Requirement) (*Selection, error) {
	candidates := s.gate(ctx)

	if len(candidates) > 0 {
		ranked := s.rank(candidates, req, required)

		jittered := false
		if len(ranked) > 1 && s.degraded() && s.rng.Float64() < s.cfg.JitterProbability {
			ranked[0], ranked[1] = ranked[1], ranked[0]
			jittered = true
			observeJitter()
			s.events.Emit(observability.EventBackendJittered,
				observability.Backend(ranked[0].id),
				observability.String("displaced", ranked[1].id),
			)
		}

		top := ranked[0]
		chain := make([]string, 0, len(ranked))
		for _, c := range ranked[1:] {
			chain = append(chain, c.id)
		}
		chain = s.appendValve(chain, top.id)

		s.logger.Debug("backend selected",
			observability.Backend(top.id),
			observability.Float64("score", top.score),
			observability.Bool("jittered", jittered),
			observability.Int("candidates", len(ranked)))

		return &Selection{
			BackendID: top.id,
			Score:     top.score,
			Jittered:  jittered,
			chain:     chain,
		}, nil
	}

	// Every backend failed gating: walk the emergency chain in its configured
	// order, relaxed to an availability check only.
	for i, id := range s.cfg.EmergencyChain {
		if _, err := s.registry.Get(id); err != nil {
			continue
		}
		if !s.monitor.IsAvailable(ctx, id) {
			continue
		}

		chain := make([]string, 0, len(s.cfg.EmergencyChain)-i)
		chain = append(chain, s.cfg.EmergencyChain[i+1:]...)
		chain = s.appendValve(chain, id)

		s.logger.Warn("selection degraded to emergency chain",
			observability.Backend(id))

		return &Selection{
			BackendID:  id,
			IsFallback: true,
			Forced:     true,
			chain:      chain,
		}, nil
	}

	// Last resort: the embedded safety valve, selected unconditionally.
	if s.cfg.SafetyValve != "" {
		s.logger.Warn("selection degraded to safety valve",
			observability.Backend(s.cfg.SafetyValve))

		return &Selection{
			BackendID:  s.cfg.SafetyValve,
			IsFallback: true,
			Forced:     true,
		}, nil
	}

	return nil, util.NewExhaustedError(0, util.ErrUnavailable)
}

type scoredCandidate struct {
	id    string
	score float64
}

// gate returns the backend ids that pass availability, quota, and circuit
// admission, in configuration order.
func (s *Selector) gate(ctx context.Context) []string {
	var out []string
	for _, id := range s.registry.IDs() {
		if !s.monitor.IsAvailable(ctx, id) {
			continue
		}
		if !s.quotas.CanProceed(id, ResourceRequests) {
			continue
		}
		if br := s.circuits.Get(id); br != nil && !br.CanAttempt() {
			continue
		}
		out = append(out, id)
	}
	return out
}

// rank scores the candidates and sorts them best-first. Sorting is stable, so
// ties keep configuration order.
func (s *Selector) rank(candidates []string, req backend.Request, required []capability.Requirement) []scoredCandidate {
	costs := make(map[string]float64, len(candidates))
	var maxCost float64
	for _, id := range candidates {
		b, err := s.registry.Get(id)
		if err != nil {
			continue
		}
		cost := b.CostEstimate(req)
		costs[id] = cost
		if cost > maxCost {
			maxCost = cost
		}
	}

	ranked := make([]scoredCandidate, 0, len(candidates))
	for _, id := range candidates {
		weights := s.backends[id].Weights

		capScore := s.matrix.ScoreBackend(id, required)
		perfScore := s.perf.Score(id, s.executeTimeout(id))

		costScore := 1.0
		if maxCost > 0 {
			costScore = 1 - costs[id]/maxCost
		}

		score := weights.Capability*capScore +
			weights.Performance*perfScore +
			weights.Cost*costScore

		ranked = append(ranked, scoredCandidate{id: id, score: score})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	return ranked
}

// degraded reports whether enough backends are down or circuit-opened that
// the system should spread load via jitter.
func (s *Selector) degraded() bool {
	if s.cfg.DegradedThreshold <= 0 {
		return false
	}

	failing := 0
	for _, id := range s.registry.IDs() {
		if st, ok := s.monitor.Status(id); ok && !st.Available {
			failing++
			continue
		}
		if br := s.circuits.Get(id); br != nil && br.State() == circuit.StateOpen {
			failing++
		}
	}
	return failing >= s.cfg.DegradedThreshold
}

// appendValve adds the safety valve to the end of a fallback chain unless it
// is already the head or present in the chain.
func (s *Selector) appendValve(chain []string, head string) []string {
	valve := s.cfg.SafetyValve
	if valve == "" || valve == head {
		return chain
	}
	for _, id := range chain {
		if id == valve {
			return chain
		}
	}
	return append(chain, valve)
}

// executeTimeout returns the per-backend invocation deadline.
func (s *Selector) executeTimeout(id string) time.Duration {
	if bc, ok := s.backends[id]; ok && bc.ExecuteTimeout > 0 {
		return bc.ExecuteTimeout.Duration()
	}
	return 30 * time.Second
}
