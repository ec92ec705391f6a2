/*
ledger.go - Ledger service

PURPOSE:
  The Ledger is the only write path into an entity's entries. It enforces
  entry validity, the manual-vs-system mutability rule, per-entity
  serialization, and keeps running balances and the cached balance in
  step with history after every change.

CRITICAL INVARIANTS:
  1. POLARITY: every stored entry has exactly one positive side.
  2. IMMUTABILITY: Update/Delete on an entry with a ReferenceID always
     fails with *ImmutableEntryError, whatever the patch.
  3. FIXED AMOUNTS: a manual entry's type, debit and credit never change
     after creation; corrections are new offsetting entries.
  4. REPRODUCIBLE: Balance(id) == ComputeBalance(List(id)) at all times.

CONCURRENCY:
  Every mutation takes the entity's lock (EntityLocks) for the whole
  read-recompute-write sequence. Reads do not lock; they see a committed
  snapshot from the store.

EXAMPLE FLOW:
  1. Opening balance 100 (manual):    [+100]          = 100
  2. Sale INV-7 posted 250:           [+100,+250]     = 350
  3. Payment INV-7 posted 200:        [+100,+250,-200] = 150
  4. Delete step 2 directly:          ImmutableEntryError, still 150

SEE ALSO:
  - balance.go:   pure replay functions
  - reconcile.go: Verify / Require / Rebuild
  - posting/:     turns documents into entries and appends them here
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/subledger/money"
)

type Ledger struct {
	store Store
	dir   Directory
	cache BalanceCache
	locks *EntityLocks
	log   zerolog.Logger
	now   func() time.Time
	newID func() EntryID
}

type Option func(*Ledger)

func WithLockTimeout(d time.Duration) Option {
	return func(l *Ledger) { l.locks = NewEntityLocks(d) }
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithIDGenerator(fn func() EntryID) Option {
	return func(l *Ledger) { l.newID = fn }
}

// New wires a Ledger. cache may be nil when the store has no denormalized
// balance; reconciliation then compares against nothing and always passes.
func New(store Store, dir Directory, cache BalanceCache, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		dir:   dir,
		cache: cache,
		locks: NewEntityLocks(DefaultLockTimeout),
		log:   zerolog.Nop(),
		now:   time.Now,
		newID: func() EntryID { return EntryID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// =============================================================================
// WRITE PATH
// =============================================================================

// Append validates and stores one entry, then refreshes running balances
// for the entity from the entry's date onward.
func (l *Ledger) Append(ctx context.Context, e Entry) (Entry, error) {
	out, err := l.AppendBatch(ctx, []Entry{e})
	if err != nil {
		return Entry{}, err
	}
	return out[0], nil
}

// AppendBatch stores entries for a single entity atomically. Either every
// entry is stored or none is.
func (l *Ledger) AppendBatch(ctx context.Context, entries []Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return nil, Invalid("entries", "at least one entry is required")
	}
	entityID := entries[0].EntityID
	prepared := make([]Entry, len(entries))
	seen := make(map[string]bool)
	for i, e := range entries {
		if e.EntityID != entityID {
			return nil, Invalid("entity_id", "batch mixes entities %s and %s", entityID, e.EntityID)
		}
		p, err := l.prepare(ctx, e)
		if err != nil {
			return nil, err
		}
		if p.IdempotencyKey != "" {
			if seen[p.IdempotencyKey] {
				return nil, ErrDuplicateIdempotencyKey
			}
			seen[p.IdempotencyKey] = true
		}
		prepared[i] = p
	}

	release, err := l.locks.Acquire(ctx, entityID)
	if err != nil {
		l.logLockFailure(entityID, err)
		return nil, err
	}
	defer release()

	from := prepared[0].TransactionDate
	stored := make([]Entry, 0, len(prepared))
	final, err := l.mutate(ctx, entityID, func(s Store) (time.Time, error) {
		for _, p := range prepared {
			e, err := s.Insert(ctx, p)
			if err != nil {
				return time.Time{}, err
			}
			stored = append(stored, e)
			if e.TransactionDate.Before(from) {
				from = e.TransactionDate
			}
		}
		return from, nil
	})
	if err != nil {
		return nil, err
	}
	for i := range stored {
		stored[i].Balance = final[stored[i].ID]
	}

	l.log.Debug().
		Str("entity_id", string(entityID)).
		Int("entries", len(stored)).
		Msg("entries appended")
	return stored, nil
}

// Update changes the non-amount fields of a manual entry.
func (l *Ledger) Update(ctx context.Context, id EntryID, patch Patch) (Entry, error) {
	current, err := l.store.Get(ctx, id)
	if err != nil {
		return Entry{}, err
	}
	if current.IsSystemGenerated() {
		return Entry{}, &ImmutableEntryError{EntryID: id, ReferenceID: current.ReferenceID}
	}

	release, err := l.locks.Acquire(ctx, current.EntityID)
	if err != nil {
		l.logLockFailure(current.EntityID, err)
		return Entry{}, err
	}
	defer release()

	var updated Entry
	final, err := l.mutate(ctx, current.EntityID, func(s Store) (time.Time, error) {
		// Re-read under the lock; the entry may have changed or vanished.
		cur, err := s.Get(ctx, id)
		if err != nil {
			return time.Time{}, err
		}
		updated = patch.apply(cur)
		if err := ValidateEntry(updated); err != nil {
			return time.Time{}, err
		}
		if err := s.Update(ctx, updated); err != nil {
			return time.Time{}, err
		}
		from := cur.TransactionDate
		if updated.TransactionDate.Before(from) {
			from = updated.TransactionDate
		}
		return from, nil
	})
	if err != nil {
		return Entry{}, err
	}
	updated.Balance = final[id]

	l.log.Debug().Str("entry_id", string(id)).Msg("manual entry updated")
	return updated, nil
}

// Delete removes a manual entry and marks the entity's cached balance
// stale until the recompute below rewrites it.
func (l *Ledger) Delete(ctx context.Context, id EntryID) error {
	current, err := l.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.IsSystemGenerated() {
		return &ImmutableEntryError{EntryID: id, ReferenceID: current.ReferenceID}
	}

	release, err := l.locks.Acquire(ctx, current.EntityID)
	if err != nil {
		l.logLockFailure(current.EntityID, err)
		return err
	}
	defer release()

	if l.cache != nil {
		if err := l.cache.InvalidateBalance(ctx, current.EntityID); err != nil {
			return fmt.Errorf("invalidate cached balance: %w", err)
		}
	}

	_, err = l.mutate(ctx, current.EntityID, func(s Store) (time.Time, error) {
		cur, err := s.Get(ctx, id)
		if err != nil {
			return time.Time{}, err
		}
		return cur.TransactionDate, s.Delete(ctx, id)
	})
	if err != nil {
		return err
	}

	l.log.Debug().Str("entry_id", string(id)).Msg("manual entry deleted")
	return nil
}

// mutate runs change inside a store transaction, recomputes running
// balances from the returned date onward, and writes the cached balance.
// Callers hold the entity lock. It returns each entry's running balance.
func (l *Ledger) mutate(ctx context.Context, entityID EntityID, change func(Store) (time.Time, error)) (map[EntryID]money.Money, error) {
	var (
		final    money.Money
		balances = make(map[EntryID]money.Money)
	)
	err := l.store.WithTx(ctx, func(s Store) error {
		from, err := change(s)
		if err != nil {
			return err
		}
		entries, err := s.ListByEntity(ctx, entityID)
		if err != nil {
			return err
		}
		running, err := ComputeRunningBalances(entries)
		if err != nil {
			return err
		}
		var dirty []RunningBalance
		for _, rb := range running {
			balances[rb.Entry.ID] = rb.BalanceAfter
			if !rb.Entry.TransactionDate.Before(from) {
				dirty = append(dirty, rb)
			}
		}
		if len(running) > 0 {
			final = running[len(running)-1].BalanceAfter
		}
		return s.SetBalances(ctx, dirty)
	})
	if err != nil {
		return nil, err
	}

	if l.cache != nil {
		if err := l.cache.SetCachedBalance(ctx, entityID, final); err != nil {
			// History is committed. Drop the old value so Verify sees a
			// stale entry rather than drift.
			l.log.Warn().Err(err).Str("entity_id", string(entityID)).Msg("cached balance not written")
			if err := l.cache.InvalidateBalance(ctx, entityID); err != nil {
				l.log.Error().Err(err).Str("entity_id", string(entityID)).Msg("cached balance not invalidated")
			}
		}
	}
	return balances, nil
}

// prepare fills defaults and rejects anything that cannot be stored.
func (l *Ledger) prepare(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = l.newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	if l.dir != nil {
		ent, err := l.dir.Entity(ctx, e.EntityID)
		if err != nil {
			return Entry{}, err
		}
		if e.LedgerType == "" {
			e.LedgerType = ent.LedgerType
		}
		if e.LedgerType != ent.LedgerType {
			return Entry{}, Invalid("ledger_type", "entity %s has a %s ledger, entry says %s", ent.ID, ent.LedgerType, e.LedgerType)
		}
	}
	if err := ValidateEntry(e); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (l *Ledger) logLockFailure(id EntityID, err error) {
	var lt *LockTimeoutError
	if errors.As(err, &lt) {
		l.log.Warn().Str("entity_id", string(id)).Dur("waited", lt.Waited).Msg("entity lock timeout")
	}
}

// =============================================================================
// READ PATH
// =============================================================================

func (l *Ledger) Get(ctx context.Context, id EntryID) (Entry, error) {
	return l.store.Get(ctx, id)
}

// List returns the entity's entries in ledger order.
func (l *Ledger) List(ctx context.Context, entityID EntityID) ([]Entry, error) {
	if l.dir != nil {
		if _, err := l.dir.Entity(ctx, entityID); err != nil {
			return nil, err
		}
	}
	return l.store.ListByEntity(ctx, entityID)
}

// Entries is List as a lazy sequence. The sequence iterates a snapshot
// taken at call time, so it is finite and may be ranged over repeatedly.
func (l *Ledger) Entries(ctx context.Context, entityID EntityID) (iter.Seq[Entry], error) {
	entries, err := l.List(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return func(yield func(Entry) bool) {
		for _, e := range entries {
			if !yield(e) {
				return
			}
		}
	}, nil
}

// ByReference returns the entries posted from one document.
func (l *Ledger) ByReference(ctx context.Context, entityID EntityID, referenceID string) ([]Entry, error) {
	return l.store.ListByReference(ctx, entityID, referenceID)
}

// Balance is the entity's current balance derived from its full history.
func (l *Ledger) Balance(ctx context.Context, entityID EntityID) (money.Money, error) {
	entries, err := l.List(ctx, entityID)
	if err != nil {
		return money.Zero, err
	}
	return ComputeBalance(entries)
}

// BalanceAsOf includes entries dated on or before asOf.
func (l *Ledger) BalanceAsOf(ctx context.Context, entityID EntityID, asOf time.Time) (money.Money, error) {
	entries, err := l.List(ctx, entityID)
	if err != nil {
		return money.Zero, err
	}
	return ComputeBalanceAsOf(entries, asOf)
}

// =============================================================================
// ENTITIES
// =============================================================================

// RegisterEntity adds a customer or supplier to the directory.
func (l *Ledger) RegisterEntity(ctx context.Context, e Entity) (Entity, error) {
	if l.dir == nil {
		return Entity{}, errors.New("ledger: no directory configured")
	}
	if e.ID == "" {
		return Entity{}, Invalid("id", "required")
	}
	if e.Name == "" {
		return Entity{}, Invalid("name", "required")
	}
	if !e.LedgerType.Valid() {
		return Entity{}, Invalid("ledger_type", "must be customer or supplier")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	if err := l.dir.SaveEntity(ctx, e); err != nil {
		return Entity{}, err
	}
	return e, nil
}

func (l *Ledger) Entity(ctx context.Context, id EntityID) (Entity, error) {
	if l.dir == nil {
		return Entity{}, ErrEntityNotFound
	}
	return l.dir.Entity(ctx, id)
}

func (l *Ledger) Entities(ctx context.Context) ([]Entity, error) {
	if l.dir == nil {
		return nil, nil
	}
	return l.dir.ListEntities(ctx)
}
