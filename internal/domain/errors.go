package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the pipeline. Stages
// classify every failure into one of these so retry loops, the circuit
// breaker and the HTTP layer can react by type instead of by string
// matching.

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrConflict indicates the operation lost a race with another writer,
// e.g. claiming an import that is no longer pending.
type ErrConflict struct {
	Resource string
	Message  string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Resource, e.Message)
}

// ErrAuth indicates an upstream service rejected our credentials.
// Never retried: the same key will fail the same way.
type ErrAuth struct {
	Service string
	Status  int
}

func (e *ErrAuth) Error() string {
	return fmt.Sprintf("%s rejected credentials (status %d)", e.Service, e.Status)
}

// ErrRateLimit indicates an upstream 429. RetryAfterSeconds is zero when
// the response carried no Retry-After header.
type ErrRateLimit struct {
	Service           string
	RetryAfterSeconds int
}

func (e *ErrRateLimit) Error() string {
	if e.RetryAfterSeconds > 0 {
		return fmt.Sprintf("%s rate limited, retry after %ds", e.Service, e.RetryAfterSeconds)
	}
	return fmt.Sprintf("%s rate limited", e.Service)
}

// ErrTimeout indicates an operation exceeded its deadline.
type ErrTimeout struct {
	Operation string
	Err       error
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("operation timed out: %s", e.Operation)
}

func (e *ErrTimeout) Unwrap() error { return e.Err }

// ErrTransient indicates a server-side failure worth retrying, typically
// an upstream 5xx or a dropped connection.
type ErrTransient struct {
	Service string
	Status  int
	Err     error
}

func (e *ErrTransient) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient failure [%s]: status %d", e.Service, e.Status)
	}
	return fmt.Sprintf("transient failure [%s]: %v", e.Service, e.Err)
}

func (e *ErrTransient) Unwrap() error { return e.Err }

// ErrProcessing indicates a stage received a structurally valid response
// it could not make sense of, such as recognition output with no pages or
// model output that is not the expected JSON. Never retried.
type ErrProcessing struct {
	Stage   string
	Message string
}

func (e *ErrProcessing) Error() string {
	return fmt.Sprintf("processing error [%s]: %s", e.Stage, e.Message)
}

// ErrCircuitOpen indicates the circuit breaker is open and the call was
// rejected without reaching the network.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("%s temporarily unavailable: circuit breaker open", e.Service)
}

// ErrExternalService indicates a failure in an external service call that
// fits no narrower type.
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// ErrUnauthorized indicates invalid credentials or token on our own API.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// IsRetryable reports whether err is worth another attempt. Only timeouts
// and transient upstream failures qualify; auth, rate-limit, validation
// and processing errors fail fast.
func IsRetryable(err error) bool {
	var timeout *ErrTimeout
	var transient *ErrTransient
	return errors.As(err, &timeout) || errors.As(err, &transient)
}
