// Package util provides shared error types for the backend router.
//
// # Error Conventions
//
//   - Sentinel errors (errors.New) for well-known, stable conditions that
//     callers check with errors.Is(). Example: ErrCircuitOpen.
//   - Structured error types for context-rich errors that carry additional
//     fields (e.g., QuotaError, ExecutionError). Each type implements
//     Error(), Unwrap() (if wrapping), and Is().
//   - fmt.Errorf with %w for ad-hoc wrapping that adds context without
//     introducing a new type.
//
// The selector handles the first four classes internally by advancing to the
// next fallback candidate; only ExhaustedError escapes to the caller.
package util

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors.
var (
	ErrUnavailable   = errors.New("backend unavailable")
	ErrQuotaExceeded = errors.New("quota exceeded")
	ErrCircuitOpen   = errors.New("circuit breaker open")
	ErrExecution     = errors.New("backend execution failed")
	ErrExhausted     = errors.New("all backends exhausted")
	ErrNotFound      = errors.New("not found")
	ErrConfigInvalid = errors.New("invalid configuration")
)

// AvailabilityError indicates a backend was reported or probed as down.
type AvailabilityError struct {
	Backend string
}

func (e *AvailabilityError) Error() string {
	return fmt.Sprintf("backend %s is unavailable", e.Backend)
}

// Is checks if the error matches the target.
func (e *AvailabilityError) Is(target error) bool {
	if target == ErrUnavailable {
		return true
	}
	_, ok := target.(*AvailabilityError)
	return ok
}

// NewAvailabilityError creates a new AvailabilityError.
func NewAvailabilityError(backend string) *AvailabilityError {
	return &AvailabilityError{Backend: backend}
}

// QuotaError indicates a quota window limit was reached.
type QuotaError struct {
	Backend    string
	Resource   string
	Limit      int
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("backend %s quota exceeded for %s (limit: %d, retry after: %v)",
		e.Backend, e.Resource, e.Limit, e.RetryAfter)
}

// Is checks if the error matches the target.
func (e *QuotaError) Is(target error) bool {
	if target == ErrQuotaExceeded {
		return true
	}
	_, ok := target.(*QuotaError)
	return ok
}

// NewQuotaError creates a new QuotaError.
func NewQuotaError(backend, resource string, limit int, retryAfter time.Duration) *QuotaError {
	return &QuotaError{Backend: backend, Resource: resource, Limit: limit, RetryAfter: retryAfter}
}

// CircuitOpenError indicates a fast-fail without attempting invocation.
type CircuitOpenError struct {
	Backend string
	State   string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker for backend %s is %s", e.Backend, e.State)
}

// Is checks if the error matches the target.
func (e *CircuitOpenError) Is(target error) bool {
	if target == ErrCircuitOpen {
		return true
	}
	_, ok := target.(*CircuitOpenError)
	return ok
}

// NewCircuitOpenError creates a new CircuitOpenError.
func NewCircuitOpenError(backend, state string) *CircuitOpenError {
	return &CircuitOpenError{Backend: backend, State: state}
}

// ExecutionError indicates a runtime failure returned by a backend
// collaborator, including cancelled or timed-out invocations.
type ExecutionError struct {
	Backend string
	Timeout bool
	Cause   error
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("backend %s execution timed out: %v", e.Backend, e.Cause)
	}
	return fmt.Sprintf("backend %s execution failed: %v", e.Backend, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ExecutionError) Is(target error) bool {
	if target == ErrExecution {
		return true
	}
	_, ok := target.(*ExecutionError)
	return ok || errors.Is(e.Cause, target)
}

// NewExecutionError creates a new ExecutionError.
func NewExecutionError(backend string, cause error) *ExecutionError {
	return &ExecutionError{Backend: backend, Cause: cause}
}

// NewExecutionTimeout creates an ExecutionError for a timed-out invocation.
func NewExecutionTimeout(backend string, cause error) *ExecutionError {
	return &ExecutionError{Backend: backend, Timeout: true, Cause: cause}
}

// ExhaustedError is the terminal error: every candidate in the fallback chain
// failed. It carries the last underlying cause for diagnostics.
type ExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all backends exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

// Unwrap returns the last underlying error.
func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}

// Is checks if the error matches the target.
func (e *ExhaustedError) Is(target error) bool {
	if target == ErrExhausted {
		return true
	}
	_, ok := target.(*ExhaustedError)
	return ok
}

// NewExhaustedError creates a new ExhaustedError.
func NewExhaustedError(attempts int, lastErr error) *ExhaustedError {
	return &ExhaustedError{Attempts: attempts, LastErr: lastErr}
}

// ValidationError represents a configuration validation failure.
type ValidationError struct {
	Fields  map[string]string
	Message string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s (fields: %v)", e.Message, e.Fields)
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, Fields: make(map[string]string)}
}

// AddField adds a field error.
func (e *ValidationError) AddField(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// IsRecoverable reports whether the selector should advance to the next
// fallback candidate after this error. The terminal ExhaustedError is the
// only selection error that is not recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrExhausted) {
		return false
	}
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, ErrQuotaExceeded) ||
		errors.Is(err, ErrCircuitOpen) ||
		errors.Is(err, ErrExecution)
}
