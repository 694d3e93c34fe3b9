package config

import (
	"fmt"
	"math"

	"github.com/bilalobe/opossum-router/internal/util"
)

// weightSumTolerance allows for floating point drift when checking that score
// weights sum to 1.
const weightSumTolerance = 1e-6

// Validate checks the configuration for structural errors. It collects all
// field-level problems into a single ValidationError.
func (c *Config) Validate() error {
	verr := util.NewValidationError("invalid router configuration")

	if len(c.Backends) == 0 {
		verr.AddField("backends", "at least one backend is required")
	}

	seen := make(map[string]bool, len(c.Backends))
	var hasEmbedded bool

	for i := range c.Backends {
		b := &c.Backends[i]
		field := fmt.Sprintf("backends[%d]", i)

		if b.ID == "" {
			verr.AddField(field+".id", "id is required")
		} else if seen[b.ID] {
			verr.AddField(field+".id", "duplicate backend id "+b.ID)
		}
		seen[b.ID] = true

		switch b.Kind {
		case KindCloud, KindNetworkedLocal:
			if b.Endpoint == "" {
				verr.AddField(field+".endpoint", "endpoint is required for kind "+b.Kind)
			}
		case KindEmbeddedLocal:
			hasEmbedded = true
		default:
			verr.AddField(field+".kind", "unknown backend kind "+b.Kind)
		}

		if math.Abs(b.Weights.Sum()-1) > weightSumTolerance {
			verr.AddField(field+".weights", fmt.Sprintf("weights must sum to 1, got %v", b.Weights.Sum()))
		}

		for name, score := range b.Capabilities {
			if score < 0 || score > 1 {
				verr.AddField(field+".capabilities."+name, "capability score must be in [0,1]")
			}
		}

		for j, q := range b.Quotas {
			qfield := fmt.Sprintf("%s.quotas[%d]", field, j)
			if q.Resource == "" {
				verr.AddField(qfield+".resource", "resource is required")
			}
			if q.Limit <= 0 {
				verr.AddField(qfield+".limit", "limit must be positive")
			}
			if q.Window <= 0 {
				verr.AddField(qfield+".window", "window must be positive")
			}
		}

		if b.Circuit.FailureThreshold < 1 {
			verr.AddField(field+".circuit.failureThreshold", "failureThreshold must be at least 1")
		}
		if b.Circuit.ResetTimeout <= 0 {
			verr.AddField(field+".circuit.resetTimeout", "resetTimeout must be positive")
		}
	}

	c.validateSelector(verr, seen, hasEmbedded)
	c.validateCache(verr)

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// validateSelector checks selector settings against the declared backends.
func (c *Config) validateSelector(verr *util.ValidationError, ids map[string]bool, hasEmbedded bool) {
	for i, id := range c.Selector.EmergencyChain {
		if !ids[id] {
			verr.AddField(fmt.Sprintf("selector.emergencyChain[%d]", i), "unknown backend id "+id)
		}
	}

	if c.Selector.SafetyValve == "" {
		if hasEmbedded {
			verr.AddField("selector.safetyValve", "safetyValve is required when an embedded-local backend is configured")
		}
	} else {
		valve := c.Backend(c.Selector.SafetyValve)
		switch {
		case valve == nil:
			verr.AddField("selector.safetyValve", "unknown backend id "+c.Selector.SafetyValve)
		case valve.Kind != KindEmbeddedLocal:
			verr.AddField("selector.safetyValve", "safety valve must be an embedded-local backend")
		}
	}

	if c.Selector.JitterProbability < 0 || c.Selector.JitterProbability > 1 {
		verr.AddField("selector.jitterProbability", "jitterProbability must be in [0,1]")
	}
	if c.Selector.MaxFallbackAttempts < 0 {
		verr.AddField("selector.maxFallbackAttempts", "maxFallbackAttempts must not be negative")
	}
}

// validateCache checks cache settings.
func (c *Config) validateCache(verr *util.ValidationError) {
	if !c.Cache.Enabled {
		return
	}

	switch c.Cache.Type {
	case CacheTypeMemory, "":
	case CacheTypeRedis:
		if c.Cache.Redis == nil || c.Cache.Redis.URL == "" {
			verr.AddField("cache.redis.url", "redis URL is required for redis cache")
		}
	default:
		verr.AddField("cache.type", "unknown cache type "+c.Cache.Type)
	}
}
