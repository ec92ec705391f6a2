// Package store provides in-memory implementations of the ledger ports.
package store

import (
	"context"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/money"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.Store, ledger.Directory and ledger.BalanceCache.
type Memory struct {
	mu          sync.RWMutex
	entries     map[ledger.EntityID][]ledger.Entry
	index       map[ledger.EntryID]ledger.EntityID
	idempotency map[string]ledger.EntryID
	entities    map[ledger.EntityID]ledger.Entity
	balances    map[ledger.EntityID]money.Money
	seq         int64
}

func NewMemory() *Memory {
	return &Memory{
		entries:     make(map[ledger.EntityID][]ledger.Entry),
		index:       make(map[ledger.EntryID]ledger.EntityID),
		idempotency: make(map[string]ledger.EntryID),
		entities:    make(map[ledger.EntityID]ledger.Entity),
		balances:    make(map[ledger.EntityID]money.Money),
	}
}

func (m *Memory) Insert(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(e)
}

func (m *Memory) insertLocked(e ledger.Entry) (ledger.Entry, error) {
	if e.IdempotencyKey != "" {
		if _, ok := m.idempotency[e.IdempotencyKey]; ok {
			return ledger.Entry{}, ledger.ErrDuplicateIdempotencyKey
		}
	}
	if _, ok := m.index[e.ID]; ok {
		return ledger.Entry{}, ledger.Invalid("id", "entry %s already exists", e.ID)
	}
	m.seq++
	e.Seq = m.seq

	entries := m.entries[e.EntityID]

	// Binary search for the first entry dated after e: same-date entries
	// already stored stay ahead of it.
	i := sort.Search(len(entries), func(i int) bool {
		return entries[i].TransactionDate.After(e.TransactionDate)
	})
	entries = append(entries, ledger.Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	m.entries[e.EntityID] = entries

	m.index[e.ID] = e.EntityID
	if e.IdempotencyKey != "" {
		m.idempotency[e.IdempotencyKey] = e.ID
	}
	return e, nil
}

func (m *Memory) Get(_ context.Context, id ledger.EntryID) (ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getLocked(id)
}

func (m *Memory) getLocked(id ledger.EntryID) (ledger.Entry, error) {
	entityID, ok := m.index[id]
	if !ok {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	for _, e := range m.entries[entityID] {
		if e.ID == id {
			return e, nil
		}
	}
	return ledger.Entry{}, ledger.ErrEntryNotFound
}

func (m *Memory) Update(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(e)
}

func (m *Memory) updateLocked(e ledger.Entry) error {
	entityID, ok := m.index[e.ID]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	entries := m.entries[entityID]
	for i := range entries {
		if entries[i].ID == e.ID {
			e.Seq = entries[i].Seq
			entries[i] = e
			break
		}
	}
	// A changed date can move the entry; Seq keeps ties stable.
	slices.SortStableFunc(entries, compareEntries)
	return nil
}

func (m *Memory) Delete(_ context.Context, id ledger.EntryID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteLocked(id)
}

func (m *Memory) deleteLocked(id ledger.EntryID) error {
	entityID, ok := m.index[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	entries := m.entries[entityID]
	for i, e := range entries {
		if e.ID == id {
			if e.IdempotencyKey != "" {
				delete(m.idempotency, e.IdempotencyKey)
			}
			m.entries[entityID] = slices.Delete(entries, i, i+1)
			break
		}
	}
	delete(m.index, id)
	return nil
}

func (m *Memory) ListByEntity(_ context.Context, entityID ledger.EntityID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.entries[entityID]), nil
}

func (m *Memory) ListByReference(_ context.Context, entityID ledger.EntityID, referenceID string) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byReferenceLocked(entityID, referenceID), nil
}

func (m *Memory) byReferenceLocked(entityID ledger.EntityID, referenceID string) []ledger.Entry {
	var out []ledger.Entry
	for _, e := range m.entries[entityID] {
		if e.ReferenceID == referenceID {
			out = append(out, e)
		}
	}
	return out
}

func (m *Memory) SetBalances(_ context.Context, balances []ledger.RunningBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setBalancesLocked(balances)
	return nil
}

func (m *Memory) setBalancesLocked(balances []ledger.RunningBalance) {
	for _, rb := range balances {
		entries := m.entries[rb.Entry.EntityID]
		for i := range entries {
			if entries[i].ID == rb.Entry.ID {
				entries[i].Balance = rb.BalanceAfter
				break
			}
		}
	}
}

func compareEntries(a, b ledger.Entry) int {
	switch {
	case a.Before(b):
		return -1
	case b.Before(a):
		return 1
	}
	return 0
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	entries     map[ledger.EntityID][]ledger.Entry
	index       map[ledger.EntryID]ledger.EntityID
	idempotency map[string]ledger.EntryID
	seq         int64
}

func (m *Memory) snapshot() memorySnapshot {
	entries := make(map[ledger.EntityID][]ledger.Entry, len(m.entries))
	for k, v := range m.entries {
		entries[k] = slices.Clone(v)
	}
	return memorySnapshot{
		entries:     entries,
		index:       maps.Clone(m.index),
		idempotency: maps.Clone(m.idempotency),
		seq:         m.seq,
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.entries = s.entries
	m.index = s.index
	m.idempotency = s.idempotency
	m.seq = s.seq
}

// txView runs against the parent while WithTx holds its lock.
type txView struct {
	parent *Memory
}

func (tv *txView) Insert(_ context.Context, e ledger.Entry) (ledger.Entry, error) {
	return tv.parent.insertLocked(e)
}

func (tv *txView) Get(_ context.Context, id ledger.EntryID) (ledger.Entry, error) {
	return tv.parent.getLocked(id)
}

func (tv *txView) Update(_ context.Context, e ledger.Entry) error {
	return tv.parent.updateLocked(e)
}

func (tv *txView) Delete(_ context.Context, id ledger.EntryID) error {
	return tv.parent.deleteLocked(id)
}

func (tv *txView) ListByEntity(_ context.Context, entityID ledger.EntityID) ([]ledger.Entry, error) {
	return slices.Clone(tv.parent.entries[entityID]), nil
}

func (tv *txView) ListByReference(_ context.Context, entityID ledger.EntityID, referenceID string) ([]ledger.Entry, error) {
	return tv.parent.byReferenceLocked(entityID, referenceID), nil
}

func (tv *txView) SetBalances(_ context.Context, balances []ledger.RunningBalance) error {
	tv.parent.setBalancesLocked(balances)
	return nil
}

// WithTx on a view joins the enclosing transaction.
func (tv *txView) WithTx(_ context.Context, fn func(ledger.Store) error) error {
	return fn(tv)
}

// =============================================================================
// DIRECTORY
// =============================================================================

func (m *Memory) SaveEntity(_ context.Context, e ledger.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = e
	return nil
}

func (m *Memory) Entity(_ context.Context, id ledger.EntityID) (ledger.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return ledger.Entity{}, ledger.ErrEntityNotFound
	}
	return e, nil
}

func (m *Memory) ListEntities(_ context.Context) ([]ledger.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := slices.Collect(maps.Values(m.entities))
	slices.SortFunc(out, func(a, b ledger.Entity) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out, nil
}

// =============================================================================
// BALANCE CACHE
// =============================================================================

func (m *Memory) CachedBalance(_ context.Context, id ledger.EntityID) (money.Money, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.balances[id]
	return b, ok, nil
}

func (m *Memory) SetCachedBalance(_ context.Context, id ledger.EntityID, b money.Money) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[id] = b
	return nil
}

func (m *Memory) InvalidateBalance(_ context.Context, id ledger.EntityID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.balances, id)
	return nil
}

// Reset clears all data (for demo scenarios).
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[ledger.EntityID][]ledger.Entry)
	m.index = make(map[ledger.EntryID]ledger.EntityID)
	m.idempotency = make(map[string]ledger.EntryID)
	m.entities = make(map[ledger.EntityID]ledger.Entity)
	m.balances = make(map[ledger.EntityID]money.Money)
	return nil
}
