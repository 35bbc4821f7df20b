package core

import (
	"fmt"

	"github.com/oceanbase/recall-go/pkg/model"
)

// Errors returned by the client. They alias the model sentinels so callers
// of the facade can match them with errors.Is without importing model.
var (
	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = model.ErrNotFound

	// ErrValidation indicates that an input was rejected.
	ErrValidation = model.ErrValidation

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = model.ErrInvalidConfig

	// ErrBackendUnavailable indicates that a store, index or provider could not be reached.
	ErrBackendUnavailable = model.ErrBackendUnavailable

	// ErrTenantBusy indicates that a maintenance job is already running for the tenant.
	ErrTenantBusy = model.ErrTenantBusy

	// ErrEmbeddingFailed indicates that embedding generation failed.
	ErrEmbeddingFailed = model.ErrEmbeddingFailed

	// ErrLLMOperation indicates that an LLM operation failed.
	ErrLLMOperation = model.ErrLLMOperation

	// ErrLLMDisabled is returned by operations that need an LLM when none is configured.
	ErrLLMDisabled = fmt.Errorf("%w: no LLM provider configured", model.ErrInvalidConfig)
)

// MemoryError wraps errors with operation context.
type MemoryError = model.MemoryError

// NewMemoryError creates a new MemoryError, or returns nil when err is nil.
func NewMemoryError(op string, err error) error {
	return model.NewMemoryError(op, err)
}
