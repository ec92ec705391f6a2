/*
reconcile.go - Reconciliation Check

PURPOSE:
  Compares the cached (denormalized) balance of an entity with the balance
  re-derived from its entry history. A mismatch is reported, never
  auto-corrected: fixing it silently would hide the missing or duplicated
  entry that caused it.

RESOLUTION:
  Rebuild is the explicit operator action that rewrites running balances
  and the cache from history once the cause has been investigated.

STALE CACHE:
  A cache with no value for the entity (evicted, or invalidated by a
  delete) is reported as Stale, not as a mismatch.
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/warp/subledger/money"
)

// Verification is the outcome of a reconciliation check.
type Verification struct {
	EntityID   EntityID
	Consistent bool
	Stale      bool
	Stored     money.Money
	Derived    money.Money
	Entries    int
}

// Verify recomputes the entity's balance and compares it with the cache.
// It holds the entity lock so that history and cache are read from the same
// committed state.
func (l *Ledger) Verify(ctx context.Context, entityID EntityID) (Verification, error) {
	release, err := l.locks.Acquire(ctx, entityID)
	if err != nil {
		l.logLockFailure(entityID, err)
		return Verification{}, err
	}
	defer release()

	entries, err := l.List(ctx, entityID)
	if err != nil {
		return Verification{}, err
	}
	derived, err := ComputeBalance(entries)
	if err != nil {
		return Verification{}, err
	}

	v := Verification{EntityID: entityID, Derived: derived, Stored: derived, Consistent: true, Entries: len(entries)}
	if l.cache == nil {
		return v, nil
	}
	stored, ok, err := l.cache.CachedBalance(ctx, entityID)
	if err != nil {
		return Verification{}, fmt.Errorf("read cached balance: %w", err)
	}
	if !ok {
		v.Stale = true
		return v, nil
	}
	v.Stored = stored
	v.Consistent = stored.Equal(derived)
	if !v.Consistent {
		l.log.Warn().
			Str("entity_id", string(entityID)).
			Str("stored", stored.String()).
			Str("derived", derived.String()).
			Msg("reconciliation mismatch")
	}
	return v, nil
}

// Require returns *ReconciliationMismatchError when the entity has drifted.
// Posting calls it before writing anything for the entity.
func (l *Ledger) Require(ctx context.Context, entityID EntityID) error {
	v, err := l.Verify(ctx, entityID)
	if err != nil {
		return err
	}
	if !v.Consistent {
		return &ReconciliationMismatchError{EntityID: entityID, Stored: v.Stored, Derived: v.Derived}
	}
	return nil
}

// Rebuild rewrites every running balance and the cached balance from
// history, resolving a reported mismatch.
func (l *Ledger) Rebuild(ctx context.Context, entityID EntityID) (Verification, error) {
	if l.dir != nil {
		if _, err := l.dir.Entity(ctx, entityID); err != nil {
			return Verification{}, err
		}
	}
	release, err := l.locks.Acquire(ctx, entityID)
	if err != nil {
		l.logLockFailure(entityID, err)
		return Verification{}, err
	}
	_, err = l.mutate(ctx, entityID, func(Store) (time.Time, error) {
		return time.Time{}, nil
	})
	release()
	if err != nil {
		return Verification{}, err
	}
	l.log.Info().Str("entity_id", string(entityID)).Msg("balances rebuilt from history")
	return l.Verify(ctx, entityID)
}

// VerifyAll checks every entity in the directory.
func (l *Ledger) VerifyAll(ctx context.Context) ([]Verification, error) {
	entities, err := l.Entities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Verification, 0, len(entities))
	for _, e := range entities {
		v, err := l.Verify(ctx, e.ID)
		if err != nil {
			return nil, fmt.Errorf("verify %s: %w", e.ID, err)
		}
		out = append(out, v)
	}
	return out, nil
}
