package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bilalobe/opossum-router/internal/config"
	"github.com/bilalobe/opossum-router/internal/observability"
	"github.com/bilalobe/opossum-router/internal/util"
)

const (
	invokePath = "/v1/infer"
	probePath  = "/health"

	defaultMaxIdleConns        = 100
	defaultMaxIdleConnsPerHost = 10
	defaultIdleConnTimeout     = 90 * time.Second
)

// HTTPBackend reaches a backend over HTTP. Used for both cloud APIs and
// networked local servers; they differ only in endpoint and cost profile.
type HTTPBackend struct {
	id           string
	kind         Kind
	endpoint     string
	capabilities []string
	costPerUnit  float64
	client       *http.Client
	logger       observability.Logger
}

// NewHTTP creates an HTTP-reachable backend from configuration.
func NewHTTP(cfg config.BackendConfig, logger observability.Logger) (*HTTPBackend, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("backend %s: endpoint is required", cfg.ID)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	return &HTTPBackend{
		id:           cfg.ID,
		kind:         Kind(cfg.Kind),
		endpoint:     strings.TrimSuffix(cfg.Endpoint, "/"),
		capabilities: capabilityNames(cfg.Capabilities),
		costPerUnit:  cfg.CostPerUnit,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        defaultMaxIdleConns,
				MaxIdleConnsPerHost: defaultMaxIdleConnsPerHost,
				IdleConnTimeout:     defaultIdleConnTimeout,
			},
		},
		logger: logger,
	}, nil
}

// ID returns the backend identifier.
func (b *HTTPBackend) ID() string { return b.id }

// Kind returns how this backend is reached.
func (b *HTTPBackend) Kind() Kind { return b.kind }

// Capabilities lists the configured capability names.
func (b *HTTPBackend) Capabilities() []string { return b.capabilities }

// CostEstimate returns the cost of serving req: cost per unit scaled by the
// input size in kilobyte units, with a one-unit floor.
func (b *HTTPBackend) CostEstimate(req Request) float64 {
	units := float64(len(req.Input)) / 1024
	if units < 1 {
		units = 1
	}
	return b.costPerUnit * units
}

// Invoke POSTs the request to the backend's inference endpoint. Timeouts come
// from ctx; the caller owns the deadline.
func (b *HTTPBackend) Invoke(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, util.NewExecutionError(b.id, fmt.Errorf("encode request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+invokePath, bytes.NewReader(body))
	if err != nil {
		return nil, util.NewExecutionError(b.id, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, util.NewExecutionTimeout(b.id, err)
		}
		return nil, util.NewExecutionError(b.id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, util.NewExecutionError(b.id, fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b.logger.Debug("backend returned error status",
			observability.Backend(b.id),
			observability.Int("status", resp.StatusCode))
		return nil, util.NewExecutionError(b.id, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	return &Response{Payload: payload}, nil
}

// Probe checks the backend's health endpoint.
func (b *HTTPBackend) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.endpoint+probePath, nil)
	if err != nil {
		return err
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return util.NewAvailabilityError(b.id)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain so the connection returns to the pool.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return util.NewAvailabilityError(b.id)
	}
	return nil
}
