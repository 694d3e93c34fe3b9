// Package availability tracks backend reachability. Probes run concurrently
// on a background loop and on demand; results are cached with a freshness TTL
// so the selection hot path never blocks on a probe that someone else is
// already running.
package availability

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/bilalobe/opossum-router/internal/backend"
	"github.com/bilalobe/opossum-router/internal/observability"
)

// Defaults for probe cadence and freshness.
const (
	DefaultTTL           = 30 * time.Second
	DefaultProbeInterval = 10 * time.Second
	DefaultProbeTimeout  = 5 * time.Second

	// forcedRecheckInterval throttles stale-triggered probes per backend so a
	// down backend cannot be hammered from the request path.
	forcedRecheckInterval = time.Second
)

// Status is a point-in-time view of one backend's reachability.
type Status struct {
	Available           bool
	LastChecked         time.Time
	ConsecutiveFailures int
}

// Config controls probe cadence and freshness.
type Config struct {
	// TTL is how long a probe result stays fresh.
	TTL time.Duration

	// ProbeInterval is the period of the background probe loop.
	ProbeInterval time.Duration

	// ProbeTimeouts overrides the probe deadline per backend id.
	ProbeTimeouts map[string]time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = DefaultProbeInterval
	}
	return c
}

// OnChangeFunc is invoked when a backend flips between available and
// unavailable. Called from the probing goroutine; keep it cheap.
type OnChangeFunc func(backend string, available bool)

type record struct {
	mu                  sync.Mutex
	available           bool
	checked             bool
	lastChecked         time.Time
	consecutiveFailures int
	recheck             *rate.Limiter
}

// Monitor caches probe results for the backend set. Records are created at
// startup; the map is read-only afterward.
type Monitor struct {
	registry *backend.Registry
	config   Config
	records  map[string]*record
	group    singleflight.Group
	logger   observability.Logger
	events   observability.Events
	onChange OnChangeFunc

	running  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

// WithEvents sets the telemetry event sink.
func WithEvents(events observability.Events) Option {
	return func(m *Monitor) { m.events = events }
}

// WithOnChange registers a flip callback.
func WithOnChange(fn OnChangeFunc) Option {
	return func(m *Monitor) { m.onChange = fn }
}

// NewMonitor creates a monitor over the registered backends. Until the first
// probe completes every backend is assumed available, so a cold start does
// not gate all traffic to the safety valve.
func NewMonitor(registry *backend.Registry, cfg Config, opts ...Option) *Monitor {
	m := &Monitor{
		registry: registry,
		config:   cfg.withDefaults(),
		records:  make(map[string]*record),
		logger:   observability.NopLogger(),
		events:   observability.NopEvents(),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	for _, id := range registry.IDs() {
		m.records[id] = &record{
			available: true,
			recheck:   rate.NewLimiter(rate.Every(forcedRecheckInterval), 1),
		}
	}

	return m
}

// IsAvailable reports whether a backend is believed reachable. A fresh cached
// result is returned as-is; a stale one triggers a throttled, single-flighted
// re-probe. Unknown backends are unavailable.
func (m *Monitor) IsAvailable(ctx context.Context, id string) bool {
	rec, ok := m.records[id]
	if !ok {
		return false
	}

	rec.mu.Lock()
	fresh := rec.checked && time.Since(rec.lastChecked) < m.config.TTL
	available := rec.available
	canRecheck := rec.recheck.Allow()
	rec.mu.Unlock()

	if fresh || !canRecheck {
		return available
	}

	available, err := m.Check(ctx, id)
	if err != nil {
		return false
	}
	return available
}

// Check probes one backend now, single-flighted so concurrent callers share
// one probe, and updates the cached status.
func (m *Monitor) Check(ctx context.Context, id string) (bool, error) {
	v, err, _ := m.group.Do(id, func() (interface{}, error) {
		return m.probe(ctx, id), nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// CheckAll probes every backend concurrently and waits for the slowest.
func (m *Monitor) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, id := range m.registry.IDs() {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = m.Check(ctx, id)
		}(id)
	}
	wg.Wait()
}

// Status returns the cached status for a backend.
func (m *Monitor) Status(id string) (Status, bool) {
	rec, ok := m.records[id]
	if !ok {
		return Status{}, false
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return Status{
		Available:           rec.available,
		LastChecked:         rec.lastChecked,
		ConsecutiveFailures: rec.consecutiveFailures,
	}, true
}

// Snapshot returns the cached status of every backend.
func (m *Monitor) Snapshot() map[string]Status {
	out := make(map[string]Status, len(m.records))
	for id := range m.records {
		if st, ok := m.Status(id); ok {
			out[id] = st
		}
	}
	return out
}

// Start runs the background probe loop until Stop is called or ctx is done.
// An immediate sweep runs first so statuses are populated before the first
// tick.
func (m *Monitor) Start(ctx context.Context) {
	if !m.running.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer close(m.done)

		m.CheckAll(ctx)

		ticker := time.NewTicker(m.config.ProbeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.CheckAll(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop terminates the background loop and waits for it to exit. Safe to call
// when the loop was never started.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	if m.running.Load() {
		<-m.done
	}
}

// probe runs one probe and records the outcome.
func (m *Monitor) probe(ctx context.Context, id string) bool {
	b, err := m.registry.Get(id)
	if err != nil {
		return false
	}

	timeout := m.config.ProbeTimeouts[id]
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	probeErr := b.Probe(probeCtx)
	observeProbe(id, time.Since(start), probeErr == nil)

	available := probeErr == nil

	rec := m.records[id]
	rec.mu.Lock()
	flipped := rec.checked && rec.available != available
	first := !rec.checked
	rec.checked = true
	rec.available = available
	rec.lastChecked = time.Now()
	if available {
		rec.consecutiveFailures = 0
	} else {
		rec.consecutiveFailures++
	}
	failures := rec.consecutiveFailures
	rec.mu.Unlock()

	if flipped || first {
		m.events.Emit(observability.EventAvailabilityChange,
			observability.Backend(id),
			observability.Bool("available", available),
		)
		if flipped && m.onChange != nil {
			m.onChange(id, available)
		}
	}

	if !available {
		m.logger.Warn("backend probe failed",
			observability.Backend(id),
			observability.Int("consecutiveFailures", failures),
			observability.Error(probeErr))
	}

	return available
}
