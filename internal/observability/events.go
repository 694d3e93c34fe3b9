package observability

// Events is the telemetry sink contract. Emit must never block the caller:
// selection latency is not allowed to depend on telemetry delivery, so
// implementations drop rather than wait.
type Events interface {
	Emit(name string, fields ...Field)
}

// Well-known event names emitted by the engine.
const (
	EventBackendSelected    = "backend.selected"
	EventBackendFallback    = "backend.fallback"
	EventBackendJittered    = "backend.jittered"
	EventBackendsExhausted  = "backends.exhausted"
	EventAvailabilityChange = "availability.changed"
	EventCircuitStateChange = "circuit.state_changed"
	EventCacheHit           = "cache.hit"
)

// logEvents writes events to the structured log at debug level.
type logEvents struct {
	logger Logger
}

// NewLogEvents returns an Events sink backed by the given logger.
func NewLogEvents(logger Logger) Events {
	if logger == nil {
		logger = NopLogger()
	}
	return &logEvents{logger: logger}
}

func (e *logEvents) Emit(name string, fields ...Field) {
	e.logger.Debug(name, fields...)
}

// nopEvents discards all events.
type nopEvents struct{}

// NopEvents returns an Events sink that discards everything.
func NopEvents() Events {
	return nopEvents{}
}

func (nopEvents) Emit(string, ...Field) {}
