// Package quota tracks per-backend, per-resource usage windows. A backend may
// carry several simultaneous windows for one resource (per-minute and per-day,
// for example); a request may only proceed when every configured window has
// headroom.
package quota

import (
	"sync"
	"time"

	"github.com/bilalobe/opossum-router/internal/observability"
)

// Window configures one fixed usage window.
type Window struct {
	Resource string
	Limit    int
	Duration time.Duration
}

// windowCounter accumulates usage for one fixed window. Counts are monotonic
// within a window, reset exactly at the boundary crossing, and never negative
// or above the limit.
type windowCounter struct {
	limit  int
	window time.Duration

	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// currentWindowStart returns the start of the fixed window containing t.
func (wc *windowCounter) currentWindowStart(t time.Time) time.Time {
	windowNanos := wc.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/windowNanos)*windowNanos)
}

// roll resets the counter if the window has elapsed. Must be called with the
// lock held.
func (wc *windowCounter) roll(now time.Time) {
	start := wc.currentWindowStart(now)
	if !wc.windowStart.Equal(start) {
		wc.count = 0
		wc.windowStart = start
	}
}

// hasHeadroom reports whether one more unit fits in the window at time now.
func (wc *windowCounter) hasHeadroom(now time.Time) bool {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	wc.roll(now)
	return wc.count < wc.limit
}

// record increments the window counter, first resetting it if the window has
// elapsed. The count is clamped at the limit.
func (wc *windowCounter) record(now time.Time) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	wc.roll(now)
	if wc.count < wc.limit {
		wc.count++
	}
}

// resetAfter returns the duration until the window boundary.
func (wc *windowCounter) resetAfter(now time.Time) time.Duration {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	wc.roll(now)
	remaining := wc.windowStart.Add(wc.window).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// reset zeroes the counter. Administrative action.
func (wc *windowCounter) reset() {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.count = 0
}

// snapshot returns count and limit at time now.
func (wc *windowCounter) snapshot(now time.Time) (count, limit int) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	wc.roll(now)
	return wc.count, wc.limit
}

// Tracker is the process-wide quota registry, keyed by backend id. Windows
// are registered once at startup; the maps are read-only afterward, so lookup
// needs no locking — only individual counters serialize their increments.
type Tracker struct {
	counters map[string]map[string][]*windowCounter
	logger   observability.Logger
}

// NewTracker creates an empty quota tracker.
func NewTracker(logger observability.Logger) *Tracker {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Tracker{
		counters: make(map[string]map[string][]*windowCounter),
		logger:   logger,
	}
}

// Register configures the quota windows for a backend. Call during startup
// only, before the tracker is shared.
func (t *Tracker) Register(backend string, windows []Window) {
	byResource := make(map[string][]*windowCounter)
	for _, w := range windows {
		if w.Limit <= 0 || w.Duration <= 0 {
			continue
		}
		byResource[w.Resource] = append(byResource[w.Resource], &windowCounter{
			limit:  w.Limit,
			window: w.Duration,
		})
	}
	t.counters[backend] = byResource

	t.logger.Debug("registered quota windows",
		observability.Backend(backend),
		observability.Int("windows", len(windows)),
	)
}

// CanProceed reports whether every configured window for (backend, resource)
// has headroom. Backends or resources with no configured windows are
// unmetered and always proceed.
func (t *Tracker) CanProceed(backend, resource string) bool {
	now := time.Now()
	for _, wc := range t.windows(backend, resource) {
		if !wc.hasHeadroom(now) {
			observeRejection(backend, resource)
			return false
		}
	}
	return true
}

// Record increments the active window counters for (backend, resource).
func (t *Tracker) Record(backend, resource string) {
	now := time.Now()
	for _, wc := range t.windows(backend, resource) {
		wc.record(now)
		count, limit := wc.snapshot(now)
		observeUsage(backend, resource, wc.window, count, limit)
	}
}

// RetryAfter returns the longest wait until a blocked window for
// (backend, resource) resets. Zero when nothing blocks.
func (t *Tracker) RetryAfter(backend, resource string) time.Duration {
	now := time.Now()
	var wait time.Duration
	for _, wc := range t.windows(backend, resource) {
		if !wc.hasHeadroom(now) {
			if after := wc.resetAfter(now); after > wait {
				wait = after
			}
		}
	}
	return wait
}

// Limit returns the smallest configured limit for (backend, resource), or 0
// when unmetered.
func (t *Tracker) Limit(backend, resource string) int {
	limit := 0
	for _, wc := range t.windows(backend, resource) {
		if limit == 0 || wc.limit < limit {
			limit = wc.limit
		}
	}
	return limit
}

// Reset zeroes all counters for a backend. Administrative action only.
func (t *Tracker) Reset(backend string) {
	for _, windows := range t.counters[backend] {
		for _, wc := range windows {
			wc.reset()
		}
	}
	t.logger.Info("quota counters reset", observability.Backend(backend))
}

// windows returns the counters for (backend, resource), or nil.
func (t *Tracker) windows(backend, resource string) []*windowCounter {
	byResource, ok := t.counters[backend]
	if !ok {
		return nil
	}
	return byResource[resource]
}
