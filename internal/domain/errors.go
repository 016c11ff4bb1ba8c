package domain

import (
	"errors"
	"strconv"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. Each maps to one
// of the error-handling design's kinds: ConfigError, TransientExternal,
// PermanentExternal, ValidationError, InternalInvariant.

var (
	// Model Client errors (TransientExternal / PermanentExternal, except
	// ErrUnknownModel, a ValidationError raised before any call is made)
	ErrNetwork      = errors.New("model client: network error")
	ErrTimeout      = errors.New("model client: request timed out")
	ErrDecode       = errors.New("model client: malformed response body")
	ErrUnknownModel = errors.New("model client: unsupported model name")

	// Failsafe Dispatcher (internal bookkeeping; never surfaced to callers)
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// Content Source
	ErrSourceExhausted = errors.New("content source: retries exhausted")

	// Result Store
	ErrNotFound = errors.New("result store: record not found")

	// Task Registry
	ErrTaskNotFound = errors.New("task registry: task not found")

	// Validation (ValidationError — surfaced to HTTP callers as 4xx)
	ErrInvalidRequest = errors.New("invalid request")

	// Config (ConfigError — fatal at startup)
	ErrConfig = errors.New("configuration error")
)

// ServiceError is a PermanentExternal error: a non-2xx HTTP status from
// the model service. It is logged and treated as a single failure, never
// retried at the Model Client layer.
type ServiceError struct {
	Status int
}

func (e *ServiceError) Error() string {
	return "model client: service returned status " + strconv.Itoa(e.Status)
}
