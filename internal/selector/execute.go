package selector

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/bilalobe/opossum-router/internal/backend"
	"github.com/bilalobe/opossum-router/internal/cache"
	"github.com/bilalobe/opossum-router/internal/capability"
	"github.com/bilalobe/opossum-router/internal/circuit"
	"github.com/bilalobe/opossum-router/internal/observability"
	"github.com/bilalobe/opossum-router/internal/util"
)

const selectorTracerName = "opossum/selector"

// Execute routes and runs one request: selection first, then for each
// candidate a backend-scoped cache lookup before the actual invocation,
// walking the fallback chain bounded by the configured attempt budget.
// Failures of individual backends feed the circuit breakers and the
// capability matrix; the only error Execute returns is ExhaustedError.
func (s *Selector) Execute(ctx context.Context, req backend.Request, required []capability.Requirement) (*Result, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	ctx, span := otel.Tracer(selectorTracerName).Start(ctx, "selector.Execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("request.id", req.ID),
			attribute.String("request.task", req.Task),
		),
	)
	defer span.End()

	sel, err := s.Select(ctx, req, required)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		observeExhausted()
		s.events.Emit(observability.EventBackendsExhausted,
			observability.String("requestId", req.ID))
		return nil, err
	}

	order := append([]string{sel.BackendID}, sel.chain...)
	maxAttempts := 1 + s.cfg.MaxFallbackAttempts

	attempts := 0
	var lastErr error
	for i, id := range order {
		if attempts >= maxAttempts {
			break
		}

		isFallback := i > 0 || sel.IsFallback
		jittered := i == 0 && sel.Jittered

		// Forced selections (emergency chain, safety valve) and the valve
		// itself wherever it sits in the chain bypass circuit and quota
		// admission: the last line of defense must not fast-fail on its own
		// gates.
		forced := sel.Forced || id == s.cfg.SafetyValve

		if i > 0 {
			observeFallback(id)
			s.events.Emit(observability.EventBackendFallback,
				observability.Backend(id),
				observability.String("requestId", req.ID),
				observability.Error(lastErr),
			)
		}

		// A cached response for this candidate is returned verbatim with no
		// quota, circuit, or capability side effects.
		if s.store != nil {
			key := cache.Fingerprint(req, id)
			if data, cacheErr := s.store.Get(ctx, key); cacheErr == nil {
				span.SetAttributes(
					attribute.Bool("cache.hit", true),
					attribute.String("backend.id", id),
				)
				s.events.Emit(observability.EventCacheHit,
					observability.String("requestId", req.ID),
					observability.Backend(id),
				)
				return &Result{
					Payload:    data,
					BackendID:  id,
					IsFallback: isFallback,
					Jittered:   jittered,
					FromCache:  true,
				}, nil
			}
		}

		payload, invoked, attemptErr := s.attempt(ctx, id, req, required, forced, isFallback)
		if attemptErr == nil {
			span.SetAttributes(
				attribute.String("backend.id", id),
				attribute.Bool("backend.fallback", isFallback),
			)
			return &Result{
				Payload:    payload,
				BackendID:  id,
				IsFallback: isFallback,
				Jittered:   jittered,
			}, nil
		}

		lastErr = attemptErr
		if invoked {
			attempts++
		}

		s.logger.Debug("backend attempt failed",
			observability.Backend(id),
			observability.String("requestId", req.ID),
			observability.Bool("invoked", invoked),
			observability.Error(attemptErr))
	}

	observeExhausted()
	s.events.Emit(observability.EventBackendsExhausted,
		observability.String("requestId", req.ID),
		observability.Error(lastErr),
	)

	err = util.NewExhaustedError(attempts, lastErr)
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	return nil, err
}

// attempt runs the request against one backend. invoked reports whether the
// backend was actually called, which is what counts against the fallback
// budget; gating fast-fails are free. Forced attempts skip circuit and quota
// admission entirely.
func (s *Selector) attempt(
	ctx context.Context,
	id string,
	req backend.Request,
	required []capability.Requirement,
	forced bool,
	isFallback bool,
) (payload []byte, invoked bool, err error) {
	b, err := s.registry.Get(id)
	if err != nil {
		return nil, false, util.NewAvailabilityError(id)
	}

	br := s.circuits.Get(id)
	if !forced {
		if br != nil && !br.AllowRequest() {
			return nil, false, util.NewCircuitOpenError(id, br.State().String())
		}

		if !s.quotas.CanProceed(id, ResourceRequests) {
			if br != nil {
				br.RecordFailure(circuit.ClassQuota)
			}
			return nil, false, util.NewQuotaError(id, ResourceRequests,
				s.quotas.Limit(id, ResourceRequests),
				s.quotas.RetryAfter(id, ResourceRequests))
		}
	}
	s.quotas.Record(id, ResourceRequests)

	invokeCtx, cancel := context.WithTimeout(ctx, s.executeTimeout(id))
	start := time.Now()
	resp, invokeErr := b.Invoke(invokeCtx, req)
	elapsed := time.Since(start)
	cancel()

	s.perf.Observe(id, elapsed)
	observeExecution(id, elapsed, invokeErr == nil)

	if invokeErr != nil {
		if br != nil {
			br.RecordFailure(circuit.ClassHard)
		}
		s.adjustCapabilities(id, required, false)

		if !util.IsRecoverable(invokeErr) {
			invokeErr = util.NewExecutionError(id, invokeErr)
		}
		return nil, true, invokeErr
	}

	if br != nil {
		br.RecordSuccess()
	}
	s.adjustCapabilities(id, required, true)

	observeSelection(id, isFallback)
	s.events.Emit(observability.EventBackendSelected,
		observability.Backend(id),
		observability.String("requestId", req.ID),
		observability.Bool("fallback", isFallback),
		observability.Duration("latency", elapsed),
	)

	if s.store != nil {
		// Best effort; a write failure never fails the request.
		key := cache.Fingerprint(req, id)
		if setErr := s.store.Set(ctx, key, resp.Payload, 0); setErr != nil {
			s.logger.Debug("response cache write failed",
				observability.Error(setErr))
		}
	}

	return resp.Payload, true, nil
}

// adjustCapabilities feeds the invocation outcome back into the capability
// matrix for every required capability.
func (s *Selector) adjustCapabilities(id string, required []capability.Requirement, success bool) {
	for _, r := range required {
		s.matrix.Adjust(id, r.Name, success)
	}
}
