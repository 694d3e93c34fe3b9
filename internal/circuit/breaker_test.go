package circuit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBreaker(threshold int, reset time.Duration) *Breaker {
	return NewBreaker("test-backend", &Config{
		FailureThreshold: threshold,
		ResetTimeout:     reset,
	}, nil)
}

func TestBreaker_StartsClosed(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	assert.Equal(t, StateClosed, b.State())
	assert.True(t, b.AllowRequest())
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	b.RecordFailure(ClassHard)
	b.RecordFailure(ClassHard)
	assert.Equal(t, StateClosed, b.State())

	b.RecordFailure(ClassHard)
	assert.Equal(t, StateOpen, b.State())
	assert.False(t, b.AllowRequest())
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker(3, time.Minute)

	b.RecordFailure(ClassHard)
	b.RecordFailure(ClassHard)
	b.RecordSuccess()
	b.RecordFailure(ClassHard)
	b.RecordFailure(ClassHard)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 2, b.Stats().FailureCount)
}

func TestBreaker_LazyHalfOpenTransition(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	b.RecordFailure(ClassHard)
	require.Equal(t, StateOpen, b.State())

	// The transition happens on the next admission check after the timeout,
	// not on a timer.
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, StateOpen, b.State())

	assert.True(t, b.AllowRequest())
	assert.Equal(t, StateHalfOpen, b.State())
}

func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	b.RecordFailure(ClassHard)
	time.Sleep(20 * time.Millisecond)

	assert.True(t, b.AllowRequest())
	// The trial is in flight; nothing else gets through.
	assert.False(t, b.AllowRequest())
	assert.False(t, b.AllowRequest())
}

func TestBreaker_TrialSuccessCloses(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	b.RecordFailure(ClassHard)
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.AllowRequest())

	b.RecordSuccess()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Stats().FailureCount)
	assert.True(t, b.AllowRequest())
}

func TestBreaker_TrialFailureReopens(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	b.RecordFailure(ClassHard)
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.AllowRequest())

	before := time.Now()
	b.RecordFailure(ClassHard)

	assert.Equal(t, StateOpen, b.State())
	// The open timestamp is refreshed, restarting the full reset timeout.
	assert.False(t, b.Stats().OpenedAt.Before(before))
	assert.False(t, b.AllowRequest())
}

func TestBreaker_QuotaFailuresIgnoredByDefault(t *testing.T) {
	b := newTestBreaker(2, time.Minute)

	b.RecordFailure(ClassQuota)
	b.RecordFailure(ClassQuota)
	b.RecordFailure(ClassQuota)

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Stats().FailureCount)
}

func TestBreaker_QuotaFailuresCountWhenConflated(t *testing.T) {
	b := NewBreaker("test-backend", &Config{
		FailureThreshold:   2,
		ResetTimeout:       time.Minute,
		CountQuotaFailures: true,
	}, nil)

	b.RecordFailure(ClassQuota)
	b.RecordFailure(ClassQuota)

	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_CanAttempt(t *testing.T) {
	b := newTestBreaker(1, 10*time.Millisecond)

	assert.True(t, b.CanAttempt())

	b.RecordFailure(ClassHard)
	assert.False(t, b.CanAttempt())

	time.Sleep(20 * time.Millisecond)
	// Reset timeout elapsed: an attempt could proceed, but CanAttempt does
	// not perform the transition.
	assert.True(t, b.CanAttempt())
	assert.Equal(t, StateOpen, b.State())

	require.True(t, b.AllowRequest())
	// Trial in flight.
	assert.False(t, b.CanAttempt())
}

func TestBreaker_Reset(t *testing.T) {
	b := newTestBreaker(1, time.Minute)

	b.RecordFailure(ClassHard)
	require.Equal(t, StateOpen, b.State())

	b.Reset()

	assert.Equal(t, StateClosed, b.State())
	assert.Equal(t, 0, b.Stats().FailureCount)
	assert.True(t, b.AllowRequest())
}

func TestBreaker_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []string

	done := make(chan struct{}, 4)
	b := NewBreaker("test-backend", &Config{
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
		OnStateChange: func(backend string, from, to State) {
			mu.Lock()
			transitions = append(transitions, from.String()+">"+to.String())
			mu.Unlock()
			done <- struct{}{}
		},
	}, nil)

	b.RecordFailure(ClassHard)
	<-done
	time.Sleep(20 * time.Millisecond)
	require.True(t, b.AllowRequest())
	<-done
	b.RecordSuccess()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"closed>open", "open>half-open", "half-open>closed"}, transitions)
}

func TestBreaker_ConcurrentHalfOpenAdmission(t *testing.T) {
	b := newTestBreaker(1, time.Millisecond)

	b.RecordFailure(ClassHard)
	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	var admitted int32
	results := make(chan bool, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- b.AllowRequest()
		}()
	}
	wg.Wait()
	close(results)

	for ok := range results {
		if ok {
			admitted++
		}
	}
	assert.Equal(t, int32(1), admitted)
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	r := NewRegistry(nil)

	b := r.Register("backend-a", DefaultConfig())
	assert.Same(t, b, r.Get("backend-a"))
	assert.Nil(t, r.Get("missing"))

	// Re-registering keeps the existing breaker.
	again := r.Register("backend-a", DefaultConfig())
	assert.Same(t, b, again)
}

func TestRegistry_StatsAndResetAll(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("a", &Config{FailureThreshold: 1, ResetTimeout: time.Minute})
	r.Register("b", &Config{FailureThreshold: 1, ResetTimeout: time.Minute})

	r.Get("a").RecordFailure(ClassHard)

	stats := r.Stats()
	require.Len(t, stats, 2)
	assert.Equal(t, StateOpen, stats["a"].State)
	assert.Equal(t, StateClosed, stats["b"].State)

	r.ResetAll()
	assert.Equal(t, StateClosed, r.Get("a").State())
}
