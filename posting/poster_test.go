package posting_test

import (
	"context"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subledger/document"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/ledger/store"
	"github.com/warp/subledger/money"
	"github.com/warp/subledger/posting"
)

func newPoster(t *testing.T) (*posting.Poster, *ledger.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	l := ledger.New(mem, mem, mem)
	ctx := context.Background()
	_, err := l.RegisterEntity(ctx, ledger.Entity{ID: "cust-1", Name: "Acme Retail", LedgerType: ledger.LedgerCustomer})
	require.NoError(t, err)
	_, err = l.RegisterEntity(ctx, ledger.Entity{ID: "supp-1", Name: "Bolt Wholesale", LedgerType: ledger.LedgerSupplier})
	require.NoError(t, err)
	return posting.NewPoster(l, zerolog.Nop()), l, mem
}

func balance(t *testing.T, l *ledger.Ledger, id ledger.EntityID) money.Money {
	t.Helper()
	b, err := l.Balance(context.Background(), id)
	require.NoError(t, err)
	return b
}

func TestPoster_PostUpdatesBalance(t *testing.T) {
	p, l, _ := newPoster(t)
	ctx := context.Background()

	stored, err := p.Post(ctx, creditSale(t, "INV-1", "cust-1", "50"))

	require.NoError(t, err)
	require.Len(t, stored, 2)
	assertMoney(t, "220", stored[0].Balance)
	assertMoney(t, "170", stored[1].Balance)
	assertMoney(t, "170", balance(t, l, "cust-1"))

	_, err = p.Post(ctx, purchase(t, "PO-1", 500, 200))
	require.NoError(t, err)
	assertMoney(t, "300", balance(t, l, "supp-1"))
}

func TestPoster_PostedEntriesAreImmutable(t *testing.T) {
	p, l, _ := newPoster(t)
	ctx := context.Background()
	stored, err := p.Post(ctx, creditSale(t, "INV-1", "cust-1", "0"))
	require.NoError(t, err)

	err = l.Delete(ctx, stored[0].ID)

	var ie *ledger.ImmutableEntryError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "INV-1", ie.ReferenceID)
	assertMoney(t, "220", balance(t, l, "cust-1"))
}

func TestPoster_PostTwiceIsRejected(t *testing.T) {
	p, l, _ := newPoster(t)
	ctx := context.Background()
	d := creditSale(t, "INV-1", "cust-1", "50")

	_, err := p.Post(ctx, d)
	require.NoError(t, err)
	_, err = p.Post(ctx, d)

	assert.ErrorIs(t, err, posting.ErrAlreadyPosted)
	assertMoney(t, "170", balance(t, l, "cust-1"))
}

func TestPoster_ConcurrentPostsOfSameDocument(t *testing.T) {
	p, l, _ := newPoster(t)
	ctx := context.Background()
	d := creditSale(t, "INV-1", "cust-1", "0")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Post(ctx, d); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, posting.ErrAlreadyPosted)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	assertMoney(t, "220", balance(t, l, "cust-1"))
}

func TestPoster_RefusesToPostOnDrift(t *testing.T) {
	p, l, mem := newPoster(t)
	ctx := context.Background()
	_, err := p.Post(ctx, creditSale(t, "INV-1", "cust-1", "0"))
	require.NoError(t, err)
	require.NoError(t, mem.SetCachedBalance(ctx, "cust-1", money.FromInt(1)))

	_, err = p.Post(ctx, creditSale(t, "INV-2", "cust-1", "0"))

	assert.ErrorIs(t, err, ledger.ErrReconciliationMismatch)
	entries, err := l.List(ctx, "cust-1")
	require.NoError(t, err)
	assert.Len(t, entries, 1, "nothing written while drifted")

	_, err = l.Rebuild(ctx, "cust-1")
	require.NoError(t, err)
	_, err = p.Post(ctx, creditSale(t, "INV-2", "cust-1", "0"))
	require.NoError(t, err)
	assertMoney(t, "440", balance(t, l, "cust-1"))
}

func TestPoster_CancelReversesAndKeepsHistory(t *testing.T) {
	// GIVEN: a posted sale with a partial payment
	p, l, _ := newPoster(t)
	ctx := context.Background()
	d := creditSale(t, "INV-1", "cust-1", "50")
	_, err := p.Post(ctx, d)
	require.NoError(t, err)

	// WHEN
	reversals, err := p.Cancel(ctx, d)

	// THEN: balance is back to zero and all four entries remain
	require.NoError(t, err)
	require.Len(t, reversals, 2)
	assert.Equal(t, document.StatusCancelled, d.Status)
	assertMoney(t, "0", balance(t, l, "cust-1"))

	entries, err := l.ByReference(ctx, "cust-1", "INV-1")
	require.NoError(t, err)
	assert.Len(t, entries, 4)

	_, err = p.Reverse(ctx, "cust-1", "INV-1", saleDate)
	assert.ErrorIs(t, err, posting.ErrNothingToReverse)
}

func TestPoster_CancelPurchase(t *testing.T) {
	p, l, _ := newPoster(t)
	ctx := context.Background()
	d := purchase(t, "PO-1", 500, 200)
	_, err := p.Post(ctx, d)
	require.NoError(t, err)

	_, err = p.Cancel(ctx, d)

	require.NoError(t, err)
	assertMoney(t, "0", balance(t, l, "supp-1"))
}

func TestPoster_CancelRequiresFinalized(t *testing.T) {
	p, _, _ := newPoster(t)
	d := document.New(document.KindSale, "INV-9", "cust-1", saleDate)

	_, err := p.Cancel(context.Background(), d)

	assert.ErrorIs(t, err, document.ErrNotFinalized)
	assert.Equal(t, document.StatusDraft, d.Status)
}
