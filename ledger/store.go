/*
store.go - Persistence ports for entries, entities and cached balances

PURPOSE:
  The ledger engine is logic over data held by an external persistence
  layer. These interfaces are what it needs from that layer.

KEY INTERFACES:
  Store:        entry persistence, ordered retrieval, atomic batches
  Directory:    customer/supplier identity lookup
  BalanceCache: the denormalized balance that reconciliation checks

ORDERING CONTRACT:
  ListByEntity returns entries ordered by TransactionDate ascending, ties
  broken by Seq (insertion order). Insert assigns Seq.

IMPLEMENTATIONS:
  - ledger/store/memory.go:  in-memory, for tests and dev
  - store/sqlite/sqlite.go:  SQLite
  - store/rediscache:        Redis BalanceCache only
*/
package ledger

import (
	"context"

	"github.com/warp/subledger/money"
)

// Store persists entries. Unlike a pure append-only log it supports
// Update and Delete, because manual entries are editable; the Ledger
// service is what refuses those operations on system-generated entries.
type Store interface {
	// Insert persists a new entry and returns it with Seq assigned.
	// Fails with ErrDuplicateIdempotencyKey if the key is already used.
	Insert(ctx context.Context, e Entry) (Entry, error)

	// Get returns ErrEntryNotFound when id is unknown.
	Get(ctx context.Context, id EntryID) (Entry, error)

	// Update overwrites a stored entry (matched by ID).
	Update(ctx context.Context, e Entry) error

	Delete(ctx context.Context, id EntryID) error

	// ListByEntity returns the entity's entries in ledger order.
	ListByEntity(ctx context.Context, entityID EntityID) ([]Entry, error)

	// ListByReference returns the entity's entries posted from one document.
	ListByReference(ctx context.Context, entityID EntityID, referenceID string) ([]Entry, error)

	// SetBalances stores the running balance snapshot of each entry.
	SetBalances(ctx context.Context, balances []RunningBalance) error

	// WithTx runs fn atomically. If fn returns an error nothing it wrote
	// is kept.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Directory resolves customer and supplier identities.
type Directory interface {
	SaveEntity(ctx context.Context, e Entity) error
	// Entity returns ErrEntityNotFound when id is unknown.
	Entity(ctx context.Context, id EntityID) (Entity, error)
	ListEntities(ctx context.Context) ([]Entity, error)
}

// BalanceCache holds the denormalized per-entity balance that views read.
// It is never authoritative.
type BalanceCache interface {
	// CachedBalance returns ok=false when nothing is cached (stale).
	CachedBalance(ctx context.Context, id EntityID) (balance money.Money, ok bool, err error)
	SetCachedBalance(ctx context.Context, id EntityID, balance money.Money) error
	InvalidateBalance(ctx context.Context, id EntityID) error
}
