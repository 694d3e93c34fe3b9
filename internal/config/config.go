// Package config provides configuration management for the backend router.
// Configuration is loaded once at startup from a YAML file with environment
// variable substitution; per-backend behavioral variation (weights, quota
// shapes, circuit thresholds) is data-driven rather than coded per backend.
package config

import "time"

// Backend kinds.
const (
	KindCloud          = "cloud"
	KindNetworkedLocal = "networked-local"
	KindEmbeddedLocal  = "embedded-local"
)

// Config holds all configuration for the router engine.
type Config struct {
	Logging  LoggingConfig   `json:"logging" yaml:"logging"`
	Tracing  TracingConfig   `json:"tracing" yaml:"tracing"`
	Metrics  MetricsConfig   `json:"metrics" yaml:"metrics"`
	Backends []BackendConfig `json:"backends" yaml:"backends"`
	Selector SelectorConfig  `json:"selector" yaml:"selector"`
	Cache    CacheConfig     `json:"cache" yaml:"cache"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
	Output string `json:"output" yaml:"output"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	OTLPEndpoint string  `json:"otlpEndpoint" yaml:"otlpEndpoint"`
	SamplingRate float64 `json:"samplingRate" yaml:"samplingRate"`
	ServiceName  string  `json:"serviceName" yaml:"serviceName"`
	Insecure     bool    `json:"insecure" yaml:"insecure"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path" yaml:"path"`
}

// BackendConfig describes one backend. Immutable after startup load.
type BackendConfig struct {
	ID       string `json:"id" yaml:"id"`
	Kind     string `json:"kind" yaml:"kind"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// Capabilities maps capability names to initial scores in [0,1].
	Capabilities map[string]float64 `json:"capabilities" yaml:"capabilities"`

	// Weights blend the scoring factors; they must sum to 1.
	Weights ScoreWeights `json:"weights" yaml:"weights"`

	// CostPerUnit is the estimated cost per work unit.
	CostPerUnit float64 `json:"costPerUnit" yaml:"costPerUnit"`

	// Quotas configures zero or more usage windows per resource.
	Quotas []QuotaWindowConfig `json:"quotas" yaml:"quotas"`

	Circuit CircuitConfig `json:"circuit" yaml:"circuit"`

	ProbeTimeout   Duration `json:"probeTimeout" yaml:"probeTimeout"`
	ExecuteTimeout Duration `json:"executeTimeout" yaml:"executeTimeout"`
}

// ScoreWeights holds the selection score blend factors.
type ScoreWeights struct {
	Capability  float64 `json:"capability" yaml:"capability"`
	Performance float64 `json:"performance" yaml:"performance"`
	Cost        float64 `json:"cost" yaml:"cost"`
}

// Sum returns the total of all weights.
func (w ScoreWeights) Sum() float64 {
	return w.Capability + w.Performance + w.Cost
}

// DefaultScoreWeights returns the default score blend.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{Capability: 0.5, Performance: 0.3, Cost: 0.2}
}

// QuotaWindowConfig configures one quota window for a resource. A backend may
// carry several windows for the same resource (e.g. per-minute and per-day).
type QuotaWindowConfig struct {
	Resource string   `json:"resource" yaml:"resource"`
	Limit    int      `json:"limit" yaml:"limit"`
	Window   Duration `json:"window" yaml:"window"`
}

// CircuitConfig holds per-backend circuit breaker thresholds.
type CircuitConfig struct {
	FailureThreshold int      `json:"failureThreshold" yaml:"failureThreshold"`
	ResetTimeout     Duration `json:"resetTimeout" yaml:"resetTimeout"`
}

// SelectorConfig holds selection and fallback settings.
type SelectorConfig struct {
	// EmergencyChain is the statically configured ordered fallback list used
	// when the gated candidate set is empty.
	EmergencyChain []string `json:"emergencyChain" yaml:"emergencyChain"`

	// SafetyValve is the designated embedded-local backend selected
	// unconditionally when even the emergency chain is exhausted.
	SafetyValve string `json:"safetyValve" yaml:"safetyValve"`

	// DegradedThreshold is the number of recently failed backends at which
	// the system is judged globally degraded and jitter applies.
	DegradedThreshold int `json:"degradedThreshold" yaml:"degradedThreshold"`

	// JitterProbability is the chance of substituting the top choice with the
	// next-best candidate while degraded.
	JitterProbability float64 `json:"jitterProbability" yaml:"jitterProbability"`

	// MaxFallbackAttempts bounds additional attempts after the first failure.
	MaxFallbackAttempts int `json:"maxFallbackAttempts" yaml:"maxFallbackAttempts"`

	// ConflateQuotaFailures makes quota exhaustion count toward the circuit
	// breaker's failure threshold like hard failures do.
	ConflateQuotaFailures bool `json:"conflateQuotaFailures" yaml:"conflateQuotaFailures"`

	// AvailabilityTTL is how long a probe result stays fresh.
	AvailabilityTTL Duration `json:"availabilityTTL" yaml:"availabilityTTL"`

	// ProbeInterval is the period of the background availability loop.
	ProbeInterval Duration `json:"probeInterval" yaml:"probeInterval"`
}

// Cache types.
const (
	CacheTypeMemory = "memory"
	CacheTypeRedis  = "redis"
)

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled    bool              `json:"enabled" yaml:"enabled"`
	Type       string            `json:"type" yaml:"type"`
	TTL        Duration          `json:"ttl" yaml:"ttl"`
	MaxEntries int               `json:"maxEntries" yaml:"maxEntries"`
	Redis      *RedisCacheConfig `json:"redis" yaml:"redis"`
}

// RedisCacheConfig holds Redis-specific cache settings.
type RedisCacheConfig struct {
	URL            string   `json:"url" yaml:"url"`
	KeyPrefix      string   `json:"keyPrefix" yaml:"keyPrefix"`
	PoolSize       int      `json:"poolSize" yaml:"poolSize"`
	ConnectTimeout Duration `json:"connectTimeout" yaml:"connectTimeout"`
	ReadTimeout    Duration `json:"readTimeout" yaml:"readTimeout"`
	WriteTimeout   Duration `json:"writeTimeout" yaml:"writeTimeout"`
	TTLJitter      float64  `json:"ttlJitter" yaml:"ttlJitter"`
}

// Default selector settings.
const (
	DefaultJitterProbability   = 0.2
	DefaultMaxFallbackAttempts = 1
	DefaultDegradedThreshold   = 2
)

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "opossum-router"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Selector.JitterProbability == 0 {
		c.Selector.JitterProbability = DefaultJitterProbability
	}
	if c.Selector.MaxFallbackAttempts == 0 {
		c.Selector.MaxFallbackAttempts = DefaultMaxFallbackAttempts
	}
	if c.Selector.DegradedThreshold == 0 {
		c.Selector.DegradedThreshold = DefaultDegradedThreshold
	}
	if c.Selector.AvailabilityTTL == 0 {
		c.Selector.AvailabilityTTL = Duration(30 * time.Second)
	}
	if c.Selector.ProbeInterval == 0 {
		c.Selector.ProbeInterval = Duration(10 * time.Second)
	}
	for i := range c.Backends {
		b := &c.Backends[i]
		if b.Weights == (ScoreWeights{}) {
			b.Weights = DefaultScoreWeights()
		}
		if b.Circuit.FailureThreshold == 0 {
			b.Circuit.FailureThreshold = 5
		}
		if b.Circuit.ResetTimeout == 0 {
			b.Circuit.ResetTimeout = Duration(30 * time.Second)
		}
		if b.ProbeTimeout == 0 {
			b.ProbeTimeout = Duration(5 * time.Second)
		}
		if b.ExecuteTimeout == 0 {
			b.ExecuteTimeout = Duration(30 * time.Second)
		}
	}
}

// Backend returns the backend config with the given id, or nil.
func (c *Config) Backend(id string) *BackendConfig {
	for i := range c.Backends {
		if c.Backends[i].ID == id {
			return &c.Backends[i]
		}
	}
	return nil
}
