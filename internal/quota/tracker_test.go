package quota

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTracker(windows ...Window) *Tracker {
	t := NewTracker(nil)
	t.Register("backend-a", windows)
	return t
}

func TestTracker_Unmetered(t *testing.T) {
	tr := NewTracker(nil)

	assert.True(t, tr.CanProceed("anything", "requests"))
	tr.Record("anything", "requests") // no-op, must not panic
	assert.Equal(t, 0, tr.Limit("anything", "requests"))
	assert.Equal(t, time.Duration(0), tr.RetryAfter("anything", "requests"))
}

func TestTracker_EnforcesLimit(t *testing.T) {
	tr := newTestTracker(Window{Resource: "requests", Limit: 3, Duration: time.Hour})

	for i := 0; i < 3; i++ {
		require.True(t, tr.CanProceed("backend-a", "requests"))
		tr.Record("backend-a", "requests")
	}

	assert.False(t, tr.CanProceed("backend-a", "requests"))
}

func TestTracker_MultipleWindowsAllMustHaveHeadroom(t *testing.T) {
	tr := newTestTracker(
		Window{Resource: "requests", Limit: 2, Duration: 50 * time.Millisecond},
		Window{Resource: "requests", Limit: 100, Duration: time.Hour},
	)

	tr.Record("backend-a", "requests")
	tr.Record("backend-a", "requests")

	// The hourly window has plenty of room, but the short window is full.
	assert.False(t, tr.CanProceed("backend-a", "requests"))
}

func TestTracker_WindowRollsOver(t *testing.T) {
	tr := newTestTracker(Window{Resource: "requests", Limit: 1, Duration: 30 * time.Millisecond})

	tr.Record("backend-a", "requests")
	require.False(t, tr.CanProceed("backend-a", "requests"))

	// Crossing the fixed window boundary resets the count.
	assert.Eventually(t, func() bool {
		return tr.CanProceed("backend-a", "requests")
	}, time.Second, time.Millisecond)
}

func TestTracker_ResourcesIndependent(t *testing.T) {
	tr := newTestTracker(
		Window{Resource: "requests", Limit: 1, Duration: time.Hour},
		Window{Resource: "tokens", Limit: 5, Duration: time.Hour},
	)

	tr.Record("backend-a", "requests")

	assert.False(t, tr.CanProceed("backend-a", "requests"))
	assert.True(t, tr.CanProceed("backend-a", "tokens"))
}

func TestTracker_BackendsIndependent(t *testing.T) {
	tr := newTestTracker(Window{Resource: "requests", Limit: 1, Duration: time.Hour})
	tr.Register("backend-b", []Window{{Resource: "requests", Limit: 1, Duration: time.Hour}})

	tr.Record("backend-a", "requests")

	assert.False(t, tr.CanProceed("backend-a", "requests"))
	assert.True(t, tr.CanProceed("backend-b", "requests"))
}

func TestTracker_RetryAfter(t *testing.T) {
	tr := newTestTracker(Window{Resource: "requests", Limit: 1, Duration: time.Minute})

	assert.Equal(t, time.Duration(0), tr.RetryAfter("backend-a", "requests"))

	tr.Record("backend-a", "requests")

	wait := tr.RetryAfter("backend-a", "requests")
	assert.Greater(t, wait, time.Duration(0))
	assert.LessOrEqual(t, wait, time.Minute)
}

func TestTracker_Limit(t *testing.T) {
	tr := newTestTracker(
		Window{Resource: "requests", Limit: 10, Duration: time.Minute},
		Window{Resource: "requests", Limit: 100, Duration: time.Hour},
	)

	assert.Equal(t, 10, tr.Limit("backend-a", "requests"))
}

func TestTracker_Reset(t *testing.T) {
	tr := newTestTracker(Window{Resource: "requests", Limit: 1, Duration: time.Hour})

	tr.Record("backend-a", "requests")
	require.False(t, tr.CanProceed("backend-a", "requests"))

	tr.Reset("backend-a")

	assert.True(t, tr.CanProceed("backend-a", "requests"))
}

func TestTracker_IgnoresInvalidWindows(t *testing.T) {
	tr := newTestTracker(
		Window{Resource: "requests", Limit: 0, Duration: time.Hour},
		Window{Resource: "requests", Limit: 5, Duration: 0},
	)

	// Both windows are invalid, so the resource is unmetered.
	assert.True(t, tr.CanProceed("backend-a", "requests"))
}

func TestTracker_CountNeverExceedsLimit(t *testing.T) {
	tr := newTestTracker(Window{Resource: "requests", Limit: 5, Duration: time.Hour})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record("backend-a", "requests")
		}()
	}
	wg.Wait()

	wc := tr.counters["backend-a"]["requests"][0]
	count, limit := wc.snapshot(time.Now())
	assert.Equal(t, limit, count)
}
