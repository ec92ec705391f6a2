package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/ledger/store"
	"github.com/warp/subledger/money"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) (*ledger.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	l := ledger.New(mem, mem, mem)
	ctx := context.Background()
	_, err := l.RegisterEntity(ctx, ledger.Entity{ID: "cust-1", Name: "Acme Retail", LedgerType: ledger.LedgerCustomer})
	require.NoError(t, err)
	_, err = l.RegisterEntity(ctx, ledger.Entity{ID: "supp-1", Name: "Bolt Wholesale", LedgerType: ledger.LedgerSupplier})
	require.NoError(t, err)
	return l, mem
}

func manual(entityID ledger.EntityID, tt ledger.TransactionType, at time.Time, debit, credit string) ledger.Entry {
	e := ledger.Entry{EntityID: entityID, TransactionType: tt, TransactionDate: at, Description: string(tt)}
	if debit != "" {
		e.Debit = money.MustParse(debit)
	}
	if credit != "" {
		e.Credit = money.MustParse(credit)
	}
	return e
}

func posted(entityID ledger.EntityID, tt ledger.TransactionType, at time.Time, debit, credit, ref string) ledger.Entry {
	e := manual(entityID, tt, at, debit, credit)
	e.ReferenceID = ref
	e.IdempotencyKey = ref + ":" + string(tt)
	return e
}

// assertReproducible checks balance == ComputeBalance(list) and that each
// cached running balance matches a fresh replay.
func assertReproducible(t *testing.T, l *ledger.Ledger, id ledger.EntityID) {
	t.Helper()
	ctx := context.Background()
	entries, err := l.List(ctx, id)
	require.NoError(t, err)
	running, err := ledger.ComputeRunningBalances(entries)
	require.NoError(t, err)
	for i, rb := range running {
		assert.True(t, rb.BalanceAfter.Equal(entries[i].Balance),
			"entry %s running balance %s, replay %s", entries[i].ID, entries[i].Balance, rb.BalanceAfter)
	}
	v, err := l.Verify(ctx, id)
	require.NoError(t, err)
	assert.True(t, v.Consistent, "stored %s derived %s", v.Stored, v.Derived)
}

// =============================================================================
// APPEND
// =============================================================================

func TestAppend_CustomerScenario(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	sale, err := l.Append(ctx, posted("cust-1", ledger.TxSale, day(1), "500", "", "INV-1"))
	require.NoError(t, err)
	assert.Equal(t, ledger.LedgerCustomer, sale.LedgerType, "ledger type comes from the entity")
	assertMoney(t, "500", sale.Balance)

	pay, err := l.Append(ctx, posted("cust-1", ledger.TxPaymentReceived, day(2), "", "200", "INV-1"))
	require.NoError(t, err)
	assertMoney(t, "300", pay.Balance)

	b, err := l.BalanceAsOf(ctx, "cust-1", ledger.EndOfDay(day(1)))
	require.NoError(t, err)
	assertMoney(t, "500", b)

	b, err = l.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assertMoney(t, "300", b)
	assertReproducible(t, l, "cust-1")
}

func TestAppend_BackdatedEntryRecomputesLaterBalances(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, manual("cust-1", ledger.TxOpeningBalance, day(1), "100", ""))
	require.NoError(t, err)
	_, err = l.Append(ctx, manual("cust-1", ledger.TxCreditNote, day(5), "", "30"))
	require.NoError(t, err)

	// A sale dated between the two shifts the later running balance.
	_, err = l.Append(ctx, manual("cust-1", ledger.TxSale, day(3), "50", ""))
	require.NoError(t, err)

	entries, err := l.List(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, ledger.TxSale, entries[1].TransactionType)
	assertMoney(t, "120", entries[2].Balance)
	assertReproducible(t, l, "cust-1")
}

func TestAppend_SameTimestampKeepsInsertionOrder(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.Append(ctx, manual("supp-1", ledger.TxPurchase, day(1), "", "1000"))
	require.NoError(t, err)
	second, err := l.Append(ctx, manual("supp-1", ledger.TxPaymentMade, day(1), "1000", ""))
	require.NoError(t, err)

	entries, err := l.List(ctx, "supp-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, first.ID, entries[0].ID)
	assert.Equal(t, second.ID, entries[1].ID)
	assertMoney(t, "0", entries[1].Balance)
}

func TestAppend_SupplierSettledWhenPaymentInsertedFirst(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, manual("supp-1", ledger.TxPaymentMade, day(2), "1000", ""))
	require.NoError(t, err)
	_, err = l.Append(ctx, manual("supp-1", ledger.TxPurchase, day(1), "", "1000"))
	require.NoError(t, err)

	b, err := l.Balance(ctx, "supp-1")
	require.NoError(t, err)
	assertMoney(t, "0", b)

	b, err = l.BalanceAsOf(ctx, "supp-1", ledger.EndOfDay(day(1)))
	require.NoError(t, err)
	assertMoney(t, "1000", b, "payable after the purchase only")
}

func TestAppend_Rejections(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		entry ledger.Entry
		want  error
	}{
		{"both sides", manual("cust-1", ledger.TxAdjustment, day(1), "5", "5"), ledger.ErrValidation},
		{"neither side", manual("cust-1", ledger.TxAdjustment, day(1), "", ""), ledger.ErrValidation},
		{"type not valid for customer", manual("cust-1", ledger.TxPurchase, day(1), "", "5"), ledger.ErrValidation},
		{"type not valid for supplier", manual("supp-1", ledger.TxPaymentReceived, day(1), "", "5"), ledger.ErrValidation},
		{"unknown entity", manual("ghost", ledger.TxSale, day(1), "5", ""), ledger.ErrEntityNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Append(ctx, tt.entry)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	mismatch := manual("cust-1", ledger.TxSale, day(1), "5", "")
	mismatch.LedgerType = ledger.LedgerSupplier
	_, err := l.Append(ctx, mismatch)
	assert.ErrorIs(t, err, ledger.ErrValidation, "entry ledger type must match the entity")

	entries, err := l.List(ctx, "cust-1")
	require.NoError(t, err)
	assert.Empty(t, entries, "rejected entries are never partially applied")
}

func TestAppend_DuplicateIdempotencyKey(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, posted("cust-1", ledger.TxSale, day(1), "10", "", "INV-9"))
	require.NoError(t, err)
	_, err = l.Append(ctx, posted("cust-1", ledger.TxSale, day(1), "10", "", "INV-9"))
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	b, err := l.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assertMoney(t, "10", b)
}

func TestAppendBatch_IsAtomic(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, posted("cust-1", ledger.TxSale, day(1), "10", "", "INV-1"))
	require.NoError(t, err)

	// Second draft collides with the stored key: nothing from the batch lands.
	_, err = l.AppendBatch(ctx, []ledger.Entry{
		posted("cust-1", ledger.TxSale, day(2), "40", "", "INV-2"),
		posted("cust-1", ledger.TxSale, day(2), "10", "", "INV-1"),
	})
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	entries, err := l.List(ctx, "cust-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assertReproducible(t, l, "cust-1")

	_, err = l.AppendBatch(ctx, []ledger.Entry{
		manual("cust-1", ledger.TxSale, day(2), "1", ""),
		manual("supp-1", ledger.TxPurchase, day(2), "", "1"),
	})
	assert.ErrorIs(t, err, ledger.ErrValidation, "a batch targets one entity")
}

// =============================================================================
// IMMUTABILITY
// =============================================================================

func TestDelete_SystemGeneratedEntryRefused(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	e, err := l.Append(ctx, posted("cust-1", ledger.TxSale, day(1), "220", "", "INV-1"))
	require.NoError(t, err)

	err = l.Delete(ctx, e.ID)
	var immErr *ledger.ImmutableEntryError
	require.ErrorAs(t, err, &immErr)
	assert.Equal(t, "INV-1", immErr.ReferenceID)
	assert.False(t, ledger.IsRetryable(err))

	entries, err := l.List(ctx, "cust-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	b, err := l.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assertMoney(t, "220", b)
}

func TestUpdate_SystemGeneratedEntryRefusedForAnyPatch(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	e, err := l.Append(ctx, posted("cust-1", ledger.TxSale, day(1), "220", "", "INV-1"))
	require.NoError(t, err)

	note := "typo fix"
	date := day(9)
	for _, patch := range []ledger.Patch{{}, {Notes: &note}, {TransactionDate: &date}} {
		_, err := l.Update(ctx, e.ID, patch)
		assert.ErrorIs(t, err, ledger.ErrImmutableEntry)
	}
	got, err := l.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, day(1), got.TransactionDate)
	assert.Empty(t, got.Notes)
}

// =============================================================================
// MANUAL ENTRY EDITS
// =============================================================================

func TestUpdate_ManualEntryChangesOnlyDescriptiveFields(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	e, err := l.Append(ctx, manual("cust-1", ledger.TxOpeningBalance, day(1), "100", ""))
	require.NoError(t, err)

	desc, ref, method, notes := "carried from old system", "OB-2025", "bank", "checked"
	updated, err := l.Update(ctx, e.ID, ledger.Patch{
		Description: &desc, Reference: &ref, PaymentMethod: &method, Notes: &notes,
	})
	require.NoError(t, err)
	assert.Equal(t, desc, updated.Description)
	assert.Equal(t, ref, updated.Reference)
	assert.Equal(t, method, updated.PaymentMethod)
	assert.Equal(t, notes, updated.Notes)
	assert.Equal(t, ledger.TxOpeningBalance, updated.TransactionType)
	assertMoney(t, "100", updated.Debit)
	assertMoney(t, "100", updated.Balance)
}

func TestUpdate_MovingDateRecomputesRunningBalances(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, manual("cust-1", ledger.TxSale, day(1), "100", ""))
	require.NoError(t, err)
	pay, err := l.Append(ctx, manual("cust-1", ledger.TxPaymentReceived, day(3), "", "40"))
	require.NoError(t, err)
	_, err = l.Append(ctx, manual("cust-1", ledger.TxSale, day(5), "10", ""))
	require.NoError(t, err)

	// Move the payment after the second sale.
	moved := day(7)
	_, err = l.Update(ctx, pay.ID, ledger.Patch{TransactionDate: &moved})
	require.NoError(t, err)

	entries, err := l.List(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, pay.ID, entries[2].ID)
	assertMoney(t, "110", entries[1].Balance)
	assertMoney(t, "70", entries[2].Balance)
	assertReproducible(t, l, "cust-1")

	// And back before everything.
	early := day(1).Add(-time.Hour)
	_, err = l.Update(ctx, pay.ID, ledger.Patch{TransactionDate: &early})
	require.NoError(t, err)
	assertReproducible(t, l, "cust-1")
}

func TestUpdate_UnknownEntry(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.Update(context.Background(), "nope", ledger.Patch{})
	assert.True(t, ledger.IsNotFound(err))
}

func TestDelete_ManualEntryRecomputes(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()

	_, err := l.Append(ctx, manual("cust-1", ledger.TxSale, day(1), "100", ""))
	require.NoError(t, err)
	adj, err := l.Append(ctx, manual("cust-1", ledger.TxAdjustment, day(2), "", "15"))
	require.NoError(t, err)
	_, err = l.Append(ctx, manual("cust-1", ledger.TxSale, day(3), "5", ""))
	require.NoError(t, err)

	require.NoError(t, l.Delete(ctx, adj.ID))

	entries, err := l.List(ctx, "cust-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assertMoney(t, "105", entries[1].Balance)

	cached, ok, err := mem.CachedBalance(ctx, "cust-1")
	require.NoError(t, err)
	require.True(t, ok)
	assertMoney(t, "105", cached)
	assertReproducible(t, l, "cust-1")

	assert.ErrorIs(t, l.Delete(ctx, adj.ID), ledger.ErrEntryNotFound)
}

// =============================================================================
// LISTING
// =============================================================================

func TestEntries_LazyAndRestartable(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		_, err := l.Append(ctx, manual("cust-1", ledger.TxSale, day(i), "1", ""))
		require.NoError(t, err)
	}

	seq, err := l.Entries(ctx, "cust-1")
	require.NoError(t, err)

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	assert.Equal(t, 3, count())
	assert.Equal(t, 3, count(), "second pass sees the same snapshot")

	for e := range seq {
		assert.Equal(t, day(1), e.TransactionDate)
		break
	}

	_, err = l.Entries(ctx, "ghost")
	assert.ErrorIs(t, err, ledger.ErrEntityNotFound)
}

// =============================================================================
// CONCURRENCY
// =============================================================================

func TestAppend_ConcurrentSalesToOneCustomer(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.Append(ctx, posted("cust-1", ledger.TxSale, day(1+i%5), "2.50", "", fmt.Sprintf("INV-%d", i)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	b, err := l.Balance(ctx, "cust-1")
	require.NoError(t, err)
	assertMoney(t, "125", b)
	assertReproducible(t, l, "cust-1")
}
