// Package engine assembles the routing components from configuration: the
// backend registry, quota tracker, circuit breakers, availability monitor,
// capability matrix, response cache, and the selector on top of them.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/bilalobe/opossum-router/internal/availability"
	"github.com/bilalobe/opossum-router/internal/backend"
	"github.com/bilalobe/opossum-router/internal/cache"
	"github.com/bilalobe/opossum-router/internal/capability"
	"github.com/bilalobe/opossum-router/internal/circuit"
	"github.com/bilalobe/opossum-router/internal/config"
	"github.com/bilalobe/opossum-router/internal/observability"
	"github.com/bilalobe/opossum-router/internal/quota"
	"github.com/bilalobe/opossum-router/internal/selector"
)

// Engine is the assembled router.
type Engine struct {
	cfg      *config.Config
	logger   observability.Logger
	events   observability.Events
	registry *backend.Registry
	monitor  *availability.Monitor
	circuits *circuit.Registry
	quotas   *quota.Tracker
	matrix   *capability.Matrix
	store    cache.Cache
	selector *selector.Selector
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	logger   observability.Logger
	events   observability.Events
	handlers map[string]backend.Handler
	rng      selector.Rand
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEvents sets the telemetry event sink.
func WithEvents(events observability.Events) Option {
	return func(o *options) { o.events = events }
}

// WithHandlers registers in-process handlers for embedded-local backends,
// keyed by backend id.
func WithHandlers(handlers map[string]backend.Handler) Option {
	return func(o *options) { o.handlers = handlers }
}

// WithRand overrides the jitter randomness source.
func WithRand(rng selector.Rand) Option {
	return func(o *options) { o.rng = rng }
}

// New builds an engine from validated configuration.
func New(cfg *config.Config, opts ...Option) (*Engine, error) {
	o := &options{
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.events == nil {
		o.events = observability.NewLogEvents(o.logger)
	}

	registry, err := backend.NewRegistry(cfg.Backends, o.handlers, o.logger)
	if err != nil {
		return nil, fmt.Errorf("build backend registry: %w", err)
	}

	quotas := quota.NewTracker(o.logger)
	circuits := circuit.NewRegistry(o.logger)
	static := make(map[string]map[string]float64, len(cfg.Backends))
	probeTimeouts := make(map[string]time.Duration, len(cfg.Backends))

	events := o.events
	for _, bc := range cfg.Backends {
		windows := make([]quota.Window, 0, len(bc.Quotas))
		for _, q := range bc.Quotas {
			windows = append(windows, quota.Window{
				Resource: q.Resource,
				Limit:    q.Limit,
				Duration: q.Window.Duration(),
			})
		}
		quotas.Register(bc.ID, windows)

		circuits.Register(bc.ID, &circuit.Config{
			FailureThreshold:   bc.Circuit.FailureThreshold,
			ResetTimeout:       bc.Circuit.ResetTimeout.Duration(),
			CountQuotaFailures: cfg.Selector.ConflateQuotaFailures,
			OnStateChange: func(id string, from, to circuit.State) {
				events.Emit(observability.EventCircuitStateChange,
					observability.Backend(id),
					observability.String("from", from.String()),
					observability.String("to", to.String()),
				)
			},
		})

		static[bc.ID] = bc.Capabilities
		probeTimeouts[bc.ID] = bc.ProbeTimeout.Duration()
	}

	matrix := capability.NewMatrix(static, capability.WithLogger(o.logger))

	monitor := availability.NewMonitor(registry, availability.Config{
		TTL:           cfg.Selector.AvailabilityTTL.Duration(),
		ProbeInterval: cfg.Selector.ProbeInterval.Duration(),
		ProbeTimeouts: probeTimeouts,
	},
		availability.WithLogger(o.logger),
		availability.WithEvents(o.events),
	)

	selOpts := []selector.Option{
		selector.WithLogger(o.logger),
		selector.WithEvents(o.events),
	}
	if o.rng != nil {
		selOpts = append(selOpts, selector.WithRand(o.rng))
	}

	var store cache.Cache
	if cfg.Cache.Enabled {
		store, err = cache.New(&cfg.Cache, o.logger)
		if err != nil {
			return nil, fmt.Errorf("build response cache: %w", err)
		}
		selOpts = append(selOpts, selector.WithCache(store))
	}

	sel := selector.New(cfg, registry, monitor, circuits, quotas, matrix, selOpts...)

	return &Engine{
		cfg:      cfg,
		logger:   o.logger,
		events:   o.events,
		registry: registry,
		monitor:  monitor,
		circuits: circuits,
		quotas:   quotas,
		matrix:   matrix,
		store:    store,
		selector: sel,
	}, nil
}

// Start launches the background availability loop.
func (e *Engine) Start(ctx context.Context) {
	e.monitor.Start(ctx)
	e.logger.Info("engine started",
		observability.Int("backends", e.registry.Len()))
}

// Stop shuts the engine down: the probe loop first, then the cache store.
func (e *Engine) Stop() {
	e.monitor.Stop()
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Error("cache close failed", observability.Error(err))
		}
	}
	e.logger.Info("engine stopped")
}

// Execute routes and runs one request.
func (e *Engine) Execute(ctx context.Context, req backend.Request, required []capability.Requirement) (*selector.Result, error) {
	return e.selector.Execute(ctx, req, required)
}

// Select picks a backend without executing.
func (e *Engine) Select(ctx context.Context, req backend.Request, required []capability.Requirement) (*selector.Selection, error) {
	return e.selector.Select(ctx, req, required)
}

// Availability returns the cached reachability of every backend.
func (e *Engine) Availability() map[string]availability.Status {
	return e.monitor.Snapshot()
}

// CircuitStats returns a snapshot of every circuit breaker.
func (e *Engine) CircuitStats() map[string]circuit.Stats {
	return e.circuits.Stats()
}
