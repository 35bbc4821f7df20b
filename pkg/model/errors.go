package model

import (
	"errors"
	"fmt"
)

// Predefined errors for common failure scenarios.
var (
	// ErrNotFound indicates that a requested item, node or snapshot was not found.
	ErrNotFound = errors.New("not found")

	// ErrValidation indicates that an input violated a data-model invariant.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrBackendUnavailable indicates that a store, index or provider could not be reached.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBudgetExceeded indicates that nothing fits in the requested token budget.
	// The assembler reports it through its stats and never returns it as an error.
	ErrBudgetExceeded = errors.New("token budget exceeded")

	// ErrConsistencyViolation indicates that a graph mutation referenced missing nodes.
	ErrConsistencyViolation = errors.New("graph consistency violation")

	// ErrConflict indicates that a compare-and-swap commit lost against a concurrent writer.
	ErrConflict = errors.New("concurrent modification")

	// ErrTenantBusy indicates that a tenant-exclusive job is already running.
	ErrTenantBusy = errors.New("tenant job already running")

	// ErrEmbeddingFailed indicates that embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrLLMOperation indicates that an LLM operation failed.
	ErrLLMOperation = errors.New("llm operation failed")
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "Store",
//	    Err: ErrValidation,
//	}
//	// Error() returns: "recall: Store: validation failed"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
func (e *MemoryError) Error() string {
	return fmt.Sprintf("recall: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error so errors.Is and errors.As see through it.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("Store", err)
//	}
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}

// ValidationError describes a rejected field. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError returns a ValidationError for field with a formatted reason.
func NewValidationError(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ItemError pairs an item id with the failure it produced during a batch job.
type ItemError struct {
	ItemID string
	Err    error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("item %s: %v", e.ItemID, e.Err)
}
