package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Validation and registry error codes
const (
	ErrValidation     ErrorCode = "VALIDATION"
	ErrDuplicateAgent ErrorCode = "DUPLICATE_AGENT"
	ErrUnknownAgent   ErrorCode = "UNKNOWN_AGENT"
)

// Delegation error codes
const (
	ErrNoAgentAvailable     ErrorCode = "NO_AGENT_AVAILABLE"
	ErrAllAgentsUnavailable ErrorCode = "ALL_AGENTS_UNAVAILABLE"
	ErrCircuitOpen          ErrorCode = "CIRCUIT_OPEN"
	ErrTimeout              ErrorCode = "TIMEOUT"
)

// Workflow error codes
const (
	ErrCyclicDependency  ErrorCode = "CYCLIC_DEPENDENCY"
	ErrUnknownDependency ErrorCode = "UNKNOWN_DEPENDENCY"
	ErrWorkflowNotFound  ErrorCode = "WORKFLOW_NOT_FOUND"
	ErrWorkflowCancelled ErrorCode = "WORKFLOW_CANCELLED"
)

// Infrastructure error codes
const (
	ErrMemoryBackend      ErrorCode = "MEMORY_BACKEND"
	ErrOrchestratorClosed ErrorCode = "ORCHESTRATOR_CLOSED"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Target    string    `json:"target,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithTarget sets the target key (agent id or dependency id).
func (e *Error) WithTarget(target string) *Error {
	e.Target = target
	return e
}

// IsCode reports whether err carries the given error code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// NewValidationError creates a VALIDATION error. Validation failures are
// never retried.
func NewValidationError(message string) *Error {
	return NewError(ErrValidation, message)
}

// NewCircuitOpenError creates a CIRCUIT_OPEN error for the given target key.
// Circuit-open failures are transient and may be retried after backoff.
func NewCircuitOpenError(target string) *Error {
	return NewError(ErrCircuitOpen, "circuit breaker open").
		WithTarget(target).
		WithRetryable(true)
}

// NewTimeoutError creates a TIMEOUT error. Timeouts count against the
// circuit breaker for the dispatched target.
func NewTimeoutError(message string) *Error {
	return NewError(ErrTimeout, message).WithRetryable(true)
}
