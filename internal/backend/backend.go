// Package backend defines the inference backend abstraction: a uniform
// interface over remote cloud APIs, networked local servers, and in-process
// embedded engines, plus the registry the selection engine draws from.
package backend

import (
	"context"
	"sort"

	"github.com/bilalobe/opossum-router/internal/config"
)

// Kind classifies how a backend is reached.
type Kind string

const (
	// KindCloud is a remote third-party API.
	KindCloud Kind = config.KindCloud

	// KindNetworkedLocal is a self-hosted server reached over the network.
	KindNetworkedLocal Kind = config.KindNetworkedLocal

	// KindEmbeddedLocal runs in-process and needs no network.
	KindEmbeddedLocal Kind = config.KindEmbeddedLocal
)

// Request is one unit of inference work.
type Request struct {
	// ID correlates logs, traces, and cache entries. Not part of the
	// request fingerprint.
	ID string `json:"id"`

	// Task names the operation, e.g. "chat", "embed", "classify".
	Task string `json:"task"`

	// Input is the payload handed to the backend.
	Input string `json:"input"`

	// Params are backend-visible knobs (model, temperature, ...).
	Params map[string]string `json:"params,omitempty"`
}

// Response is the backend's answer.
type Response struct {
	Payload []byte `json:"payload"`
}

// Backend is one inference target.
type Backend interface {
	// ID returns the stable backend identifier.
	ID() string

	// Kind returns how this backend is reached.
	Kind() Kind

	// Capabilities lists the capability names this backend claims.
	Capabilities() []string

	// CostEstimate returns the estimated cost of serving req.
	CostEstimate(req Request) float64

	// Invoke executes the request. Blocking; honors ctx cancellation.
	Invoke(ctx context.Context, req Request) (*Response, error)

	// Probe performs a cheap liveness check. A nil return means reachable.
	Probe(ctx context.Context) error
}

// capabilityNames returns the sorted capability names from a config map.
func capabilityNames(caps map[string]float64) []string {
	names := make([]string, 0, len(caps))
	for name := range caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
