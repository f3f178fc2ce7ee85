/*
errors.go - Centralized error types for the marketplace engine

PURPOSE:
  All error categories in one place. Every operation surfaces its failure
  synchronously with enough context to render a specific message; nothing
  is retried inside the engine.

ERROR CATEGORIES:
  1. Validation - bad input shape, caller-fixable
  2. Not found  - referenced entity absent
  3. Ownership  - caller lacks rights over the referenced entity
  4. Conflict   - operation violates a state invariant
  5. Out of stock - the stock race check; a specialization of conflict so
     callers can show "someone beat you to it" instead of a generic conflict

USAGE:
  if errors.Is(err, market.ErrOutOfStock) { ... }
  errors.Is(ErrOutOfStock, ErrConflict) is true by construction.
*/
package market

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotOwner is returned when the caller has no rights over the entity
	// (ownership mismatch, wrong role, or a foreign seller/product pair).
	ErrNotOwner = errors.New("not authorized for this entity")

	// ErrConflict is returned when an operation violates a state invariant:
	// duplicate active assignment, deleting a non-available product,
	// paying an already-paid sale.
	ErrConflict = errors.New("state conflict")

	// ErrManagerInactive is returned when a deactivated manager attempts to
	// create products, sellers or assignments.
	ErrManagerInactive = fmt.Errorf("manager account deactivated: %w", ErrNotOwner)

	// ErrOutOfStock is raised by the stock race check inside sell. It wraps
	// ErrConflict: every out-of-stock failure is also a conflict.
	ErrOutOfStock = fmt.Errorf("out of stock: %w", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - carry entity context
// =============================================================================

// NotFoundError reports which entity was missing.
type NotFoundError struct {
	Kind string // "product", "seller", "assignment", ...
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AuthorizationError reports an ownership mismatch.
type AuthorizationError struct {
	Kind   string
	ID     int64
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s %d: %s", e.Kind, e.ID, e.Reason)
}

func (e *AuthorizationError) Unwrap() error { return ErrNotOwner }

// ConflictError reports a state-invariant violation with the current state.
type ConflictError struct {
	Kind   string
	ID     int64
	State  string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %d (%s): %s", e.Kind, e.ID, e.State, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// OutOfStockError reports the product whose last unit was already consumed.
type OutOfStockError struct {
	ProductID ProductID
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %d: no units left to sell", e.ProductID)
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

// ValidationError reports which field was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether err indicates a missing entity.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is a state-invariant violation,
// including out-of-stock.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsClientError reports whether the caller can fix the error without a retry
// of infrastructure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNotOwner) ||
		errors.Is(err, ErrConflict)
}
