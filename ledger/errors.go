/*
errors.go - Error taxonomy for the ledger engine

ERROR CATEGORIES:
  1. Validation     - malformed entry or document, never partially applied
  2. Immutability   - edit/delete of a system-generated entry
  3. Reconciliation - cached balance disagrees with replayed history
  4. Contention     - per-entity lock not acquired within its budget
  5. Lookup/store   - missing entries or entities, duplicate keys

Each structured error unwraps to a sentinel so callers can use errors.Is
without caring about the concrete type.
*/
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/warp/subledger/money"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation = errors.New("validation failed")

	// ErrImmutableEntry is returned when editing or deleting an entry that
	// carries a ReferenceID. Not retryable.
	ErrImmutableEntry = errors.New("entry is system-generated and immutable")

	// ErrReconciliationMismatch blocks new postings against an entity whose
	// cached balance has drifted from its history.
	ErrReconciliationMismatch = errors.New("stored balance does not match derived balance")

	// ErrLockTimeout is the only error that is safe to retry (with backoff).
	ErrLockTimeout = errors.New("timed out waiting for entity lock")

	ErrEntryNotFound           = errors.New("entry not found")
	ErrEntityNotFound          = errors.New("entity not found")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid is shorthand for building a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

type ImmutableEntryError struct {
	EntryID     EntryID
	ReferenceID string
}

func (e *ImmutableEntryError) Error() string {
	return fmt.Sprintf("entry %s was posted from document %s and cannot be changed; post an offsetting entry instead",
		e.EntryID, e.ReferenceID)
}

func (e *ImmutableEntryError) Unwrap() error { return ErrImmutableEntry }

type ReconciliationMismatchError struct {
	EntityID EntityID
	Stored   money.Money
	Derived  money.Money
}

func (e *ReconciliationMismatchError) Error() string {
	return fmt.Sprintf("reconciliation mismatch for %s: stored %s, derived %s",
		e.EntityID, e.Stored, e.Derived)
}

func (e *ReconciliationMismatchError) Unwrap() error { return ErrReconciliationMismatch }

type LockTimeoutError struct {
	EntityID EntityID
	Waited   time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock on entity %s not acquired after %s", e.EntityID, e.Waited)
}

func (e *LockTimeoutError) Unwrap() error { return ErrLockTimeout }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrImmutableEntry) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrEntityNotFound)
}
