package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bilalobe/opossum-router/internal/backend"
	"github.com/bilalobe/opossum-router/internal/cache"
	"github.com/bilalobe/opossum-router/internal/circuit"
	"github.com/bilalobe/opossum-router/internal/config"
	"github.com/bilalobe/opossum-router/internal/observability"
	"github.com/bilalobe/opossum-router/internal/quota"
	"github.com/bilalobe/opossum-router/internal/util"
)

func newMemoryStore(t *testing.T) cache.Cache {
	t.Helper()
	store, err := cache.New(&config.CacheConfig{
		Enabled: true,
		Type:    config.CacheTypeMemory,
		TTL:     config.Duration(time.Minute),
	}, observability.NopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestExecute_Primary(t *testing.T) {
	stubs, caps := threeBackends()
	e := newEnv(t, stubs, caps, config.SelectorConfig{
		SafetyValve:         "tiny-local",
		MaxFallbackAttempts: 2,
	})

	res, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat", Input: "hi"}, reasoningReq)
	require.NoError(t, err)

	assert.Equal(t, "cloud-a", res.BackendID)
	assert.Equal(t, []byte("from-a"), res.Payload)
	assert.False(t, res.IsFallback)
	assert.False(t, res.FromCache)
	assert.Equal(t, int32(1), stubs[0].invoked())
	assert.Equal(t, int32(0), stubs[1].invoked())
}

func TestExecute_AssignsRequestID(t *testing.T) {
	stubs, caps := threeBackends()
	e := newEnv(t, stubs, caps, config.SelectorConfig{})

	_, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat"}, nil)
	require.NoError(t, err)

	assert.NotEmpty(t, stubs[0].lastRequest().ID)
}

func TestExecute_FallsBackOnFailure(t *testing.T) {
	stubs, caps := threeBackends()
	stubs[0].invokeErr = errors.New("boom")
	e := newEnv(t, stubs, caps, config.SelectorConfig{
		SafetyValve:         "tiny-local",
		MaxFallbackAttempts: 2,
	})

	res, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat"}, reasoningReq)
	require.NoError(t, err)

	assert.Equal(t, "local-b", res.BackendID)
	assert.True(t, res.IsFallback)
	assert.Equal(t, int32(1), stubs[0].invoked())
	assert.Equal(t, int32(1), stubs[1].invoked())

	// The failure fed the breaker.
	assert.Equal(t, 1, e.circuits.Get("cloud-a").Stats().FailureCount)
}

func TestExecute_FailureLowersCapability(t *testing.T) {
	stubs, caps := threeBackends()
	stubs[0].invokeErr = errors.New("boom")
	e := newEnv(t, stubs, caps, config.SelectorConfig{MaxFallbackAttempts: 2})

	before := e.matrix.Score("cloud-a", "reasoning")
	_, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat"}, reasoningReq)
	require.NoError(t, err)

	assert.Less(t, e.matrix.Score("cloud-a", "reasoning"), before)
	assert.Greater(t, e.matrix.Score("local-b", "reasoning"), 0.6)
}

func TestExecute_Exhausted(t *testing.T) {
	stubs, caps := threeBackends()
	for _, st := range stubs {
		st.invokeErr = errors.New("boom")
	}
	e := newEnv(t, stubs, caps, config.SelectorConfig{
		SafetyValve:         "tiny-local",
		MaxFallbackAttempts: 2,
	})

	_, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat"}, reasoningReq)

	require.ErrorIs(t, err, util.ErrExhausted)

	var exhausted *util.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
	assert.ErrorIs(t, exhausted.LastErr, util.ErrExecution)
}

func TestExecute_AttemptBudgetBoundsFallback(t *testing.T) {
	stubs, caps := threeBackends()
	for _, st := range stubs {
		st.invokeErr = errors.New("boom")
	}
	e := newEnv(t, stubs, caps, config.SelectorConfig{
		SafetyValve:         "tiny-local",
		MaxFallbackAttempts: 1,
	})

	_, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat"}, reasoningReq)
	require.ErrorIs(t, err, util.ErrExhausted)

	total := stubs[0].invoked() + stubs[1].invoked() + stubs[2].invoked()
	assert.Equal(t, int32(2), total) // primary + one fallback
}

func TestExecute_CacheHit(t *testing.T) {
	stubs, caps := threeBackends()
	e := newEnv(t, stubs, caps, config.SelectorConfig{MaxFallbackAttempts: 2},
		WithCache(newMemoryStore(t)))

	req := backend.Request{Task: "chat", Input: "hello"}

	first, err := e.sel.Execute(context.Background(), req, reasoningReq)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := e.sel.Execute(context.Background(), req, reasoningReq)
	require.NoError(t, err)

	assert.True(t, second.FromCache)
	assert.Equal(t, first.BackendID, second.BackendID)
	assert.Equal(t, first.Payload, second.Payload)
	assert.Equal(t, int32(1), stubs[0].invoked())
}

func TestExecute_CacheHitHasNoSideEffects(t *testing.T) {
	stubs, caps := threeBackends()
	e := newEnv(t, stubs, caps, config.SelectorConfig{MaxFallbackAttempts: 2},
		WithCache(newMemoryStore(t)))

	// Two requests fit the quota window; cached repeats must not spend it.
	e.quotas.Register("cloud-a", []quota.Window{
		{Resource: ResourceRequests, Limit: 2, Duration: time.Hour},
	})

	req := backend.Request{Task: "chat", Input: "hello"}

	for i := 0; i < 3; i++ {
		res, err := e.sel.Execute(context.Background(), req, reasoningReq)
		require.NoError(t, err)
		assert.Equal(t, "cloud-a", res.BackendID)
		assert.Equal(t, i > 0, res.FromCache)
	}

	// Only the first, uncached execution consumed quota.
	assert.Equal(t, int32(1), stubs[0].invoked())
	assert.True(t, e.quotas.CanProceed("cloud-a", ResourceRequests))
}

func TestExecute_DistinctRequestsMissCache(t *testing.T) {
	stubs, caps := threeBackends()
	e := newEnv(t, stubs, caps, config.SelectorConfig{MaxFallbackAttempts: 2},
		WithCache(newMemoryStore(t)))

	_, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat", Input: "one"}, reasoningReq)
	require.NoError(t, err)
	_, err = e.sel.Execute(context.Background(), backend.Request{Task: "chat", Input: "two"}, reasoningReq)
	require.NoError(t, err)

	assert.Equal(t, int32(2), stubs[0].invoked())
}

func TestExecute_QuotaFailureDoesNotTripBreakerByDefault(t *testing.T) {
	stubs, caps := threeBackends()
	e := newEnv(t, stubs, caps, config.SelectorConfig{MaxFallbackAttempts: 2})

	e.quotas.Register("cloud-a", []quota.Window{
		{Resource: ResourceRequests, Limit: 1, Duration: time.Hour},
	})
	e.quotas.Record("cloud-a", ResourceRequests)

	res, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat"}, reasoningReq)
	require.NoError(t, err)

	assert.NotEqual(t, "cloud-a", res.BackendID)
	assert.Equal(t, 0, e.circuits.Get("cloud-a").Stats().FailureCount)
	assert.Equal(t, circuit.StateClosed, e.circuits.Get("cloud-a").State())
}

func TestExecute_SafetyValveBypassesCircuitAndQuota(t *testing.T) {
	stubs, caps := threeBackends()
	stubs[0].probeErr = errors.New("down")
	stubs[1].probeErr = errors.New("down")
	e := newEnv(t, stubs, caps, config.SelectorConfig{SafetyValve: "tiny-local"})
	e.probeAll(t)

	// The valve's own breaker is open and its quota exhausted; neither may
	// block the last line of defense.
	br := e.circuits.Get("tiny-local")
	br.RecordFailure(circuit.ClassHard)
	br.RecordFailure(circuit.ClassHard)
	require.Equal(t, circuit.StateOpen, br.State())
	e.quotas.Register("tiny-local", []quota.Window{
		{Resource: ResourceRequests, Limit: 1, Duration: time.Hour},
	})
	e.quotas.Record("tiny-local", ResourceRequests)

	res, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat"}, reasoningReq)
	require.NoError(t, err)

	assert.Equal(t, "tiny-local", res.BackendID)
	assert.Equal(t, []byte("from-valve"), res.Payload)
	assert.True(t, res.IsFallback)
	assert.Equal(t, int32(1), stubs[2].invoked())
}

func TestExecute_JitteredSubstituteFlagged(t *testing.T) {
	stubs, caps := threeBackends()
	stubs[2].probeErr = errors.New("down")
	e := newEnv(t, stubs, caps, config.SelectorConfig{
		DegradedThreshold: 1,
		JitterProbability: 0.2,
	}, WithRand(fixedRand{v: 0.1}))
	e.probeAll(t)

	res, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat"}, reasoningReq)
	require.NoError(t, err)

	assert.Equal(t, "local-b", res.BackendID)
	assert.True(t, res.Jittered)
	assert.False(t, res.IsFallback)
}

func TestExecute_TimeoutCancelsAndCountsAttempt(t *testing.T) {
	stubs, caps := threeBackends()
	stubs[0].delay = 500 * time.Millisecond
	e := newEnv(t, stubs, caps, config.SelectorConfig{MaxFallbackAttempts: 0})
	bc := e.sel.backends["cloud-a"]
	bc.ExecuteTimeout = config.Duration(30 * time.Millisecond)
	e.sel.backends["cloud-a"] = bc

	start := time.Now()
	_, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat"}, reasoningReq)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, util.ErrExhausted)

	var exhausted *util.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	// The timed-out call was a real invocation and spent the whole budget.
	assert.Equal(t, 1, exhausted.Attempts)
	assert.ErrorIs(t, exhausted.LastErr, util.ErrExecution)
	assert.ErrorIs(t, exhausted.LastErr, context.DeadlineExceeded)

	// The deadline cancelled the call instead of waiting it out.
	assert.Less(t, elapsed, stubs[0].delay)
	assert.Equal(t, int32(1), stubs[0].invoked())
}

func TestExecute_FallsBackAfterTimeout(t *testing.T) {
	stubs, caps := threeBackends()
	stubs[0].delay = 500 * time.Millisecond
	e := newEnv(t, stubs, caps, config.SelectorConfig{MaxFallbackAttempts: 1})
	bc := e.sel.backends["cloud-a"]
	bc.ExecuteTimeout = config.Duration(30 * time.Millisecond)
	e.sel.backends["cloud-a"] = bc

	res, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat"}, reasoningReq)
	require.NoError(t, err)

	assert.Equal(t, "local-b", res.BackendID)
	assert.True(t, res.IsFallback)
	assert.Equal(t, int32(1), stubs[0].invoked())
	assert.Equal(t, int32(1), stubs[1].invoked())
}

func TestExecute_SuccessClosesHalfOpenCircuit(t *testing.T) {
	stubs, caps := threeBackends()
	e := newEnv(t, stubs, caps, config.SelectorConfig{MaxFallbackAttempts: 2})

	// Replace cloud-a's breaker with one whose reset timeout has elapsed.
	br := e.circuits.Get("cloud-a")
	br.RecordFailure(circuit.ClassHard)
	br.RecordFailure(circuit.ClassHard)
	require.Equal(t, circuit.StateOpen, br.State())

	// Still open and unexpired: routed around.
	res, err := e.sel.Execute(context.Background(), backend.Request{Task: "chat"}, reasoningReq)
	require.NoError(t, err)
	assert.Equal(t, "local-b", res.BackendID)
}
