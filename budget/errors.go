/*
errors.go - Centralized error types for the budget engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store implementations and the API layer match on these with errors.Is
  and errors.As; nothing compares error strings.

ERROR CATEGORIES:
  1. Validation errors - malformed input, illegal status transitions
  2. Lookup errors     - budget/line/variance missing for the tenant
  3. Storage errors    - the underlying data store failed (retryable)
  4. Enforcement       - a posting rejected by a HARD_BLOCK budget

DIVISION EDGE CASE:
  A zero budgeted amount with non-zero spend is NOT an error. The
  classifier resolves it to OverflowPercent (see variance.go).

SEE ALSO:
  - api/handlers.go: maps these errors to HTTP status codes
  - store/sqlite/sqlite.go: wraps driver failures in StorageError
*/
package budget

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record does not exist
	// or belongs to another tenant.
	ErrNotFound = errors.New("not found")

	// ErrStorageUnavailable is returned when the data store fails.
	// Callers must propagate it, never mask it as a zero total.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConflict is returned when a uniqueness rule is violated
	// (e.g. a duplicate budget code within a tenant).
	ErrConflict = errors.New("conflict")

	// ErrBudgetExceeded is returned when an enforced posting is blocked.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes one invalid input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "budget", "line", "variance"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(kind string, id any) error {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// StorageError wraps a data store failure with the operation that failed.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage unavailable: %s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the driver error.
func (e *StorageError) Unwrap() []error { return []error{ErrStorageUnavailable, e.Err} }

// Storage wraps err as a StorageError. Nil stays nil, and errors that
// already carry a budget sentinel are returned as-is.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrValidation) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// TransitionError describes a disallowed status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() []error { return []error{ErrInvalidTransition, ErrValidation} }

// BudgetExceededError is returned when HARD_BLOCK enforcement rejects a posting.
type BudgetExceededError struct {
	BudgetID  BudgetID
	LineID    LineID
	Remaining decimal.Decimal
	Proposed  decimal.Decimal
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: remaining %s, proposed %s, shortfall %s",
		e.Remaining, e.Proposed, e.Proposed.Sub(e.Remaining))
}

func (e *BudgetExceededError) Unwrap() error { return ErrBudgetExceeded }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrBudgetExceeded)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
