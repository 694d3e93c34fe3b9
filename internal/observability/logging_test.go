package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_Formats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		logger, err := NewLogger(LogConfig{Level: "debug", Format: format})
		require.NoError(t, err, format)
		require.NotNil(t, logger, format)

		// Exercise the full surface; none of these may panic.
		logger.Debug("debug", String("k", "v"))
		logger.Info("info", Int("n", 1))
		logger.Warn("warn", Bool("b", true))
		logger.Error("error", Error(assert.AnError))
		logger.With(Backend("backend-a")).Info("with")
	}
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "verbose"})
	assert.Error(t, err)
}

func TestDefaultLogConfig(t *testing.T) {
	cfg := DefaultLogConfig()
	assert.Equal(t, "info", cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, "stdout", cfg.Output)
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Info("discarded")
	assert.NoError(t, logger.Sync())
}

func TestBackendField(t *testing.T) {
	f := Backend("cloud-a")
	assert.Equal(t, "backend", f.Key)
	assert.Equal(t, "cloud-a", f.String)
}

func TestNewLogEvents(t *testing.T) {
	// Nil logger falls back to the nop logger rather than panicking.
	events := NewLogEvents(nil)
	events.Emit(EventBackendSelected, Backend("cloud-a"))

	NopEvents().Emit(EventCacheHit)
}
