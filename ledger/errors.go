/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error kinds in one place. Callers (HTTP layer, agent registry)
  classify with errors.Is against the sentinels and extract details
  with errors.As against the structured types.

ERROR KINDS:
  ErrValidation        Malformed input (non-positive amount, bad enum)
  ErrInvalidReference  Category/source missing or owned by someone else
  ErrInsufficientFunds Expense would drive a source balance negative
  ErrNotFound          Referenced transaction/source/category absent
  ErrPermissionDenied  Record exists but belongs to another owner
  ErrNothingToDelete   Bulk delete matched zero rows
  ErrInUse             Source/category still referenced by transactions
  ErrStorage           Opaque infrastructure failure

PROPAGATION:
  Every error aborts its WithTx unit before it is returned. The only
  operation that swallows errors is AddMultipleTransactions, which records
  them per item.

SEE ALSO:
  - api/handlers.go: Maps kinds to HTTP status codes
  - agent/registry.go: Maps kinds to tool error payloads
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrInvalidReference  = errors.New("invalid reference")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrNothingToDelete   = errors.New("nothing to delete")
	ErrInUse             = errors.New("still referenced by transactions")
	ErrStorage           = errors.New("storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a single malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ReferenceError is returned when a category or source reference does not
// resolve to a record owned by the caller. It never says which of the two
// cases happened.
type ReferenceError struct {
	Kind string // "category" or "source"
	ID   string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *ReferenceError) Unwrap() error { return ErrInvalidReference }

// InsufficientFundsError carries what a user-facing message needs.
type InsufficientFundsError struct {
	SourceID   SourceID
	SourceName string
	Balance    decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds in %q: balance %s, requested %s",
		e.SourceName, e.Balance.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// NotFoundError names the missing record kind.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StorageError wraps a driver error. errors.Is(err, ErrStorage) holds and
// the driver error stays reachable through Unwrap.
type StorageError struct {
	Op  string
	Err error
}

func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidReference) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrNothingToDelete)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
