// Package storetest holds the behaviour every ledger.Store implementation
// must share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/money"
)

// Backend is what a store under test must provide.
type Backend interface {
	ledger.Store
	ledger.Directory
	ledger.BalanceCache
}

func day(n int) time.Time {
	return time.Date(2025, 1, n, 0, 0, 0, 0, time.UTC)
}

func entry(id string, at time.Time, debit int64) ledger.Entry {
	return ledger.Entry{
		ID:              ledger.EntryID(id),
		EntityID:        "cust-1",
		LedgerType:      ledger.LedgerCustomer,
		TransactionType: ledger.TxSale,
		TransactionDate: at,
		Description:     "sale " + id,
		Debit:           money.FromInt(debit),
		CreatedAt:       day(1),
	}
}

func ids(entries []ledger.Entry) []ledger.EntryID {
	out := make([]ledger.EntryID, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// Run exercises newBackend, which must return an empty store each call.
func Run(t *testing.T, newBackend func(t *testing.T) Backend) {
	ctx := context.Background()

	t.Run("ListIsOrderedByDateThenInsertion", func(t *testing.T) {
		s := newBackend(t)
		for _, e := range []ledger.Entry{
			entry("c", day(3), 1),
			entry("a", day(1), 1),
			entry("b1", day(2), 1),
			entry("b2", day(2), 1),
		} {
			_, err := s.Insert(ctx, e)
			require.NoError(t, err)
		}

		got, err := s.ListByEntity(ctx, "cust-1")
		require.NoError(t, err)
		assert.Equal(t, []ledger.EntryID{"a", "b1", "b2", "c"}, ids(got))
		assert.Less(t, got[1].Seq, got[2].Seq)
	})

	t.Run("RoundTripsFields", func(t *testing.T) {
		s := newBackend(t)
		in := entry("x", day(5), 0)
		in.Debit = money.MustParse("12.34")
		in.Reference = "INV-9"
		in.PaymentMethod = "card"
		in.Notes = "n"
		in.ReferenceID = "DOC-9"
		in.IdempotencyKey = "DOC-9:sale"
		_, err := s.Insert(ctx, in)
		require.NoError(t, err)

		got, err := s.Get(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, in.Reference, got.Reference)
		assert.Equal(t, in.PaymentMethod, got.PaymentMethod)
		assert.Equal(t, in.ReferenceID, got.ReferenceID)
		assert.Equal(t, in.IdempotencyKey, got.IdempotencyKey)
		assert.True(t, in.Debit.Equal(got.Debit))
		assert.True(t, got.Credit.IsZero())
		assert.True(t, in.TransactionDate.Equal(got.TransactionDate))
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newBackend(t)
		_, err := s.Get(ctx, "nope")
		assert.ErrorIs(t, err, ledger.ErrEntryNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "nope"), ledger.ErrEntryNotFound)
	})

	t.Run("DuplicateIdempotencyKey", func(t *testing.T) {
		s := newBackend(t)
		a := entry("a", day(1), 1)
		a.IdempotencyKey = "k"
		b := entry("b", day(1), 1)
		b.IdempotencyKey = "k"

		_, err := s.Insert(ctx, a)
		require.NoError(t, err)
		_, err = s.Insert(ctx, b)
		assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)
	})

	t.Run("UpdateMovesEntry", func(t *testing.T) {
		s := newBackend(t)
		for _, e := range []ledger.Entry{entry("a", day(1), 1), entry("b", day(2), 1)} {
			_, err := s.Insert(ctx, e)
			require.NoError(t, err)
		}
		a, err := s.Get(ctx, "a")
		require.NoError(t, err)
		a.TransactionDate = day(3)
		require.NoError(t, s.Update(ctx, a))

		got, err := s.ListByEntity(ctx, "cust-1")
		require.NoError(t, err)
		assert.Equal(t, []ledger.EntryID{"b", "a"}, ids(got))
	})

	t.Run("ListByReference", func(t *testing.T) {
		s := newBackend(t)
		a := entry("a", day(1), 1)
		a.ReferenceID = "DOC"
		b := entry("b", day(1), 1)
		for _, e := range []ledger.Entry{a, b} {
			_, err := s.Insert(ctx, e)
			require.NoError(t, err)
		}

		got, err := s.ListByReference(ctx, "cust-1", "DOC")
		require.NoError(t, err)
		assert.Equal(t, []ledger.EntryID{"a"}, ids(got))
	})

	t.Run("SetBalances", func(t *testing.T) {
		s := newBackend(t)
		e, err := s.Insert(ctx, entry("a", day(1), 7))
		require.NoError(t, err)
		require.NoError(t, s.SetBalances(ctx, []ledger.RunningBalance{{Entry: e, BalanceAfter: money.FromInt(7)}}))

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.True(t, money.FromInt(7).Equal(got.Balance))
	})

	t.Run("WithTxRollsBackOnError", func(t *testing.T) {
		s := newBackend(t)
		_, err := s.Insert(ctx, entry("keep", day(1), 1))
		require.NoError(t, err)

		boom := errors.New("boom")
		err = s.WithTx(ctx, func(tx ledger.Store) error {
			if _, err := tx.Insert(ctx, entry("gone", day(2), 1)); err != nil {
				return err
			}
			if err := tx.Delete(ctx, "keep"); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		got, err := s.ListByEntity(ctx, "cust-1")
		require.NoError(t, err)
		assert.Equal(t, []ledger.EntryID{"keep"}, ids(got))
	})

	t.Run("WithTxCommits", func(t *testing.T) {
		s := newBackend(t)
		err := s.WithTx(ctx, func(tx ledger.Store) error {
			_, err := tx.Insert(ctx, entry("a", day(1), 1))
			return err
		})
		require.NoError(t, err)

		_, err = s.Get(ctx, "a")
		assert.NoError(t, err)
	})

	t.Run("Directory", func(t *testing.T) {
		s := newBackend(t)
		require.NoError(t, s.SaveEntity(ctx, ledger.Entity{ID: "s", Name: "Zed Supplies", LedgerType: ledger.LedgerSupplier, CreatedAt: day(1)}))
		require.NoError(t, s.SaveEntity(ctx, ledger.Entity{ID: "c", Name: "Acme", Phone: "555", LedgerType: ledger.LedgerCustomer, CreatedAt: day(1)}))

		got, err := s.Entity(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, "555", got.Phone)
		assert.Equal(t, ledger.LedgerCustomer, got.LedgerType)

		all, err := s.ListEntities(ctx)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "Acme", all[0].Name)

		_, err = s.Entity(ctx, "missing")
		assert.ErrorIs(t, err, ledger.ErrEntityNotFound)
	})

	t.Run("BalanceCache", func(t *testing.T) {
		s := newBackend(t)
		_, ok, err := s.CachedBalance(ctx, "cust-1")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, s.SetCachedBalance(ctx, "cust-1", money.MustParse("-3.50")))
		b, ok, err := s.CachedBalance(ctx, "cust-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, money.MustParse("-3.5").Equal(b))

		require.NoError(t, s.InvalidateBalance(ctx, "cust-1"))
		_, ok, err = s.CachedBalance(ctx, "cust-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
