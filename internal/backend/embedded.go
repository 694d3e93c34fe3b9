package backend

import (
	"context"

	"github.com/bilalobe/opossum-router/internal/config"
	"github.com/bilalobe/opossum-router/internal/util"
)

// Handler is the in-process inference function an embedded backend wraps.
type Handler func(ctx context.Context, req Request) (*Response, error)

// EmbeddedBackend runs inference in-process. It needs no network, costs
// nothing per request, and is always considered reachable, which makes it the
// natural safety valve when everything remote is down.
type EmbeddedBackend struct {
	id           string
	capabilities []string
	handler      Handler
}

// NewEmbedded creates an in-process backend from configuration and a handler.
func NewEmbedded(cfg config.BackendConfig, handler Handler) *EmbeddedBackend {
	return &EmbeddedBackend{
		id:           cfg.ID,
		capabilities: capabilityNames(cfg.Capabilities),
		handler:      handler,
	}
}

// ID returns the backend identifier.
func (b *EmbeddedBackend) ID() string { return b.id }

// Kind returns KindEmbeddedLocal.
func (b *EmbeddedBackend) Kind() Kind { return KindEmbeddedLocal }

// Capabilities lists the configured capability names.
func (b *EmbeddedBackend) Capabilities() []string { return b.capabilities }

// CostEstimate is always zero for in-process execution.
func (b *EmbeddedBackend) CostEstimate(Request) float64 { return 0 }

// Invoke runs the wrapped handler.
func (b *EmbeddedBackend) Invoke(ctx context.Context, req Request) (*Response, error) {
	if b.handler == nil {
		return nil, util.NewExecutionError(b.id, util.ErrNotFound)
	}

	resp, err := b.handler(ctx, req)
	if err != nil {
		return nil, util.NewExecutionError(b.id, err)
	}
	return resp, nil
}

// Probe always succeeds: in-process execution has no reachability to check.
func (b *EmbeddedBackend) Probe(context.Context) error { return nil }
