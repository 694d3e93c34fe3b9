// Package circuit implements the per-backend circuit breaker state machine.
// A breaker fast-fails requests to a backend suspected unhealthy and probes
// recovery with a single trial request.
package circuit

import (
	"sync"
	"time"

	"github.com/bilalobe/opossum-router/internal/observability"
)

// State represents the state of a circuit breaker.
type State int

const (
	// StateClosed indicates normal traffic is allowed.
	StateClosed State = iota

	// StateOpen indicates requests are rejected without attempting invocation.
	StateOpen

	// StateHalfOpen indicates a single trial request is permitted.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// FailureClass distinguishes hard failures from quota exhaustion. Quota
// failures only count toward opening the circuit when conflation is enabled.
type FailureClass int

const (
	// ClassHard is a connection or execution failure.
	ClassHard FailureClass = iota

	// ClassQuota is a quota-window exhaustion.
	ClassQuota
)

// Config holds configuration for a circuit breaker.
type Config struct {
	// FailureThreshold is the number of consecutive counted failures before
	// the circuit opens.
	FailureThreshold int

	// ResetTimeout is how long the circuit stays open before a trial request
	// is permitted.
	ResetTimeout time.Duration

	// CountQuotaFailures makes ClassQuota failures count toward the
	// threshold. Off by default: quota exhaustion clears on its own at the
	// window boundary, unlike a sick backend.
	CountQuotaFailures bool

	// OnStateChange is called after every state transition.
	OnStateChange func(backend string, from, to State)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// normalize fills invalid fields with defaults.
func (c *Config) normalize() {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout < time.Millisecond {
		c.ResetTimeout = 30 * time.Second
	}
}

// Breaker is the per-backend failure state machine. All transitions for a
// single backend are serialized through its mutex so concurrent callers
// cannot race a double transition.
type Breaker struct {
	backend string
	config  *Config
	logger  observability.Logger

	mu            sync.Mutex
	state         State
	failureCount  int
	openedAt      time.Time
	trialInFlight bool
}

// NewBreaker creates a new circuit breaker for a backend.
func NewBreaker(backend string, config *Config, logger observability.Logger) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	config.normalize()

	if logger == nil {
		logger = observability.NopLogger()
	}

	return &Breaker{
		backend: backend,
		config:  config,
		logger:  logger,
		state:   StateClosed,
	}
}

// AllowRequest reports whether a request may proceed. It is a pure function
// of state and time except for the lazy OPEN to HALF_OPEN transition, which
// it performs as a side effect once the reset timeout has elapsed.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	var allowed bool
	switch b.state {
	case StateClosed:
		allowed = true

	case StateOpen:
		if time.Since(b.openedAt) >= b.config.ResetTimeout {
			b.transitionTo(StateHalfOpen)
			b.trialInFlight = true
			allowed = true
		}

	case StateHalfOpen:
		// Only one trial request at a time.
		if !b.trialInFlight {
			b.trialInFlight = true
			allowed = true
		}
	}

	recordRequest(b.backend, allowed)
	return allowed
}

// CanAttempt reports whether a request could currently proceed, without
// consuming the half-open trial slot or performing the lazy transition.
// Candidate gating uses this; admission itself goes through AllowRequest.
func (b *Breaker) CanAttempt() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		return time.Since(b.openedAt) >= b.config.ResetTimeout
	case StateHalfOpen:
		return !b.trialInFlight
	default:
		return true
	}
}

// RecordSuccess records a successful invocation. In HALF_OPEN it closes the
// circuit and resets the failure count.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	recordSuccess(b.backend)
	b.failureCount = 0
	b.trialInFlight = false

	if b.state == StateHalfOpen {
		b.transitionTo(StateClosed)
	}
}

// RecordFailure records a failed invocation of the given class. Quota
// failures are ignored unless CountQuotaFailures is set.
func (b *Breaker) RecordFailure(class FailureClass) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if class == ClassQuota && !b.config.CountQuotaFailures {
		b.trialInFlight = false
		return
	}

	recordFailure(b.backend)
	b.failureCount++
	b.trialInFlight = false

	switch b.state {
	case StateClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.openedAt = time.Now()
			b.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		// The trial failed; back to open with a fresh timeout.
		b.openedAt = time.Now()
		b.transitionTo(StateOpen)
	}
}

// transitionTo moves to a new state. Must be called with the lock held.
func (b *Breaker) transitionTo(newState State) {
	oldState := b.state
	b.state = newState

	if newState == StateClosed {
		b.failureCount = 0
	}

	recordStateChange(b.backend, oldState, newState)

	b.logger.Info("circuit state changed",
		observability.Backend(b.backend),
		observability.String("from", oldState.String()),
		observability.String("to", newState.String()),
	)

	if b.config.OnStateChange != nil {
		go b.config.OnStateChange(b.backend, oldState, newState)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Stats{
		State:        b.state,
		FailureCount: b.failureCount,
		OpenedAt:     b.openedAt,
	}
}

// Reset returns the breaker to CLOSED with zeroed counters. Administrative
// action only; normal traffic never resets state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.trialInFlight = false
	b.openedAt = time.Time{}

	b.logger.Info("circuit reset", observability.Backend(b.backend))
}

// Backend returns the backend id this breaker guards.
func (b *Breaker) Backend() string {
	return b.backend
}

// Stats holds a circuit breaker snapshot.
type Stats struct {
	State        State
	FailureCount int
	OpenedAt     time.Time
}
