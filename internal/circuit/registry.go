package circuit

import (
	"sync"

	"github.com/bilalobe/opossum-router/internal/observability"
)

// Registry holds one breaker per backend. Breakers are created once at
// startup and live for the process lifetime; Reset is the only
// administrative escape hatch.
type Registry struct {
	breakers sync.Map
	logger   observability.Logger
}

// NewRegistry creates a new circuit breaker registry.
func NewRegistry(logger observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Registry{logger: logger}
}

// Register creates and stores a breaker for a backend. If one already exists
// it is kept and returned.
func (r *Registry) Register(backend string, config *Config) *Breaker {
	b := NewBreaker(backend, config, r.logger)

	actual, loaded := r.breakers.LoadOrStore(backend, b)
	if loaded {
		return actual.(*Breaker)
	}

	r.logger.Debug("registered circuit breaker", observability.Backend(backend))
	return b
}

// Get returns the breaker for a backend, or nil if not registered.
func (r *Registry) Get(backend string) *Breaker {
	value, ok := r.breakers.Load(backend)
	if !ok {
		return nil
	}
	return value.(*Breaker)
}

// Backends returns the ids of all registered breakers.
func (r *Registry) Backends() []string {
	var ids []string
	r.breakers.Range(func(key, _ interface{}) bool {
		ids = append(ids, key.(string))
		return true
	})
	return ids
}

// Stats returns a snapshot for every registered breaker.
func (r *Registry) Stats() map[string]Stats {
	stats := make(map[string]Stats)
	r.breakers.Range(func(key, value interface{}) bool {
		stats[key.(string)] = value.(*Breaker).Stats()
		return true
	})
	return stats
}

// ResetAll resets every breaker to CLOSED. Administrative action.
func (r *Registry) ResetAll() {
	r.breakers.Range(func(_, value interface{}) bool {
		value.(*Breaker).Reset()
		return true
	})
	r.logger.Info("reset all circuit breakers")
}
