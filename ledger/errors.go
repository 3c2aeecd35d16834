/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error kinds the engine can surface, in one place. Callers branch on
  the sentinels with errors.Is, or extract context with errors.As.

ERROR CATEGORIES:
  1. Validation errors  - malformed or out-of-range input, caller's fault
  2. Not-found errors   - a referenced entity does not exist
  3. Consistency errors - an internal invariant check failed before commit;
                          indicates a bug, the whole unit is aborted

  BudgetExceeded is deliberately NOT here: usage passing a budget's limit
  is a warning carried on the operation result, never an error.

USAGE:
  if errors.Is(err, ledger.ErrNotFound) { ... 404 ... }

  var verr *ledger.ValidationError
  if errors.As(err, &verr) { ... verr.Field ... }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all input validation failures.
	// Never retried by the engine.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entity is absent.
	ErrNotFound = errors.New("not found")

	// ErrConsistency is returned when an internal invariant check fails
	// mid-operation. The atomic unit is rolled back in full.
	ErrConsistency = errors.New("consistency check failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a specific bad input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports which entity was missing.
type NotFoundError struct {
	Entity string // "user", "account", "transaction", "budget"
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConsistencyError reports a broken invariant detected before commit.
type ConsistencyError struct {
	Op     string
	Detail string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is the caller's fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound reports whether the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func invalidf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
