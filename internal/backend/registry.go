package backend

import (
	"fmt"

	"github.com/bilalobe/opossum-router/internal/config"
	"github.com/bilalobe/opossum-router/internal/observability"
	"github.com/bilalobe/opossum-router/internal/util"
)

// Registry holds the backend set, built once at startup from configuration.
// It is immutable afterward, so lookups need no locking.
type Registry struct {
	backends map[string]Backend
	order    []string
}

// NewRegistry builds a registry from configuration. Embedded-local backends
// need an in-process handler; look one up by backend id in handlers.
func NewRegistry(
	cfgs []config.BackendConfig,
	handlers map[string]Handler,
	logger observability.Logger,
) (*Registry, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	r := &Registry{backends: make(map[string]Backend, len(cfgs))}

	for _, cfg := range cfgs {
		var (
			b   Backend
			err error
		)
		switch Kind(cfg.Kind) {
		case KindCloud, KindNetworkedLocal:
			b, err = NewHTTP(cfg, logger)
		case KindEmbeddedLocal:
			handler, ok := handlers[cfg.ID]
			if !ok {
				return nil, fmt.Errorf("backend %s: no handler registered for embedded backend", cfg.ID)
			}
			b = NewEmbedded(cfg, handler)
		default:
			err = fmt.Errorf("backend %s: unknown kind %q", cfg.ID, cfg.Kind)
		}
		if err != nil {
			return nil, err
		}

		r.backends[cfg.ID] = b
		r.order = append(r.order, cfg.ID)

		logger.Info("registered backend",
			observability.Backend(cfg.ID),
			observability.String("kind", cfg.Kind))
	}

	return r, nil
}

// NewStaticRegistry builds a registry from already constructed backends, in
// the given order. Used for embedding the engine in other programs and in
// tests.
func NewStaticRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		if _, ok := r.backends[b.ID()]; ok {
			continue
		}
		r.backends[b.ID()] = b
		r.order = append(r.order, b.ID())
	}
	return r
}

// Get returns the backend with the given id.
func (r *Registry) Get(id string) (Backend, error) {
	b, ok := r.backends[id]
	if !ok {
		return nil, fmt.Errorf("backend %s: %w", id, util.ErrNotFound)
	}
	return b, nil
}

// IDs returns all backend ids in configuration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// All returns all backends in configuration order.
func (r *Registry) All() []Backend {
	out := make([]Backend, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.backends[id])
	}
	return out
}

// Len returns the number of registered backends.
func (r *Registry) Len() int { return len(r.backends) }
