package posting_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subledger/document"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/money"
	"github.com/warp/subledger/posting"
)

var saleDate = time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC)

func assertMoney(t *testing.T, want string, got money.Money) {
	t.Helper()
	assert.True(t, money.MustParse(want).Equal(got), "want %s, got %s", want, got)
}

// creditSale is 2 × 100 at 10% tax (total 220) with paid entered.
func creditSale(t *testing.T, id string, entityID ledger.EntityID, paid string) *document.Document {
	t.Helper()
	d := document.New(document.KindSale, id, entityID, saleDate)
	require.NoError(t, d.AddItem(document.Item{
		Quantity:  decimal.NewFromInt(2),
		UnitPrice: money.FromInt(100),
		Cost:      money.FromInt(60),
	}))
	require.NoError(t, d.SetTaxRate(decimal.NewFromInt(10)))
	require.NoError(t, d.SetPaymentType(document.PaymentCredit))
	require.NoError(t, d.SetPaidAmount(money.MustParse(paid)))
	require.NoError(t, d.SetDueDate(saleDate.AddDate(0, 1, 0)))
	require.NoError(t, d.Finalize())
	return d
}

func purchase(t *testing.T, id string, total, paid int64) *document.Document {
	t.Helper()
	d := document.New(document.KindPurchase, id, "supp-1", saleDate)
	require.NoError(t, d.AddItem(document.Item{
		Quantity:  decimal.NewFromInt(1),
		UnitPrice: money.FromInt(total),
		Cost:      money.FromInt(total),
	}))
	require.NoError(t, d.SetPaidAmount(money.FromInt(paid)))
	require.NoError(t, d.Finalize())
	return d
}

func TestPost_CreditSaleWithPartialPayment(t *testing.T) {
	// GIVEN: a credit sale of 220 with 50 paid up front
	d := creditSale(t, "INV-1", "cust-1", "50")

	// WHEN
	drafts, err := posting.Post(d)

	// THEN: a sale debit and a payment credit, both referencing the document
	require.NoError(t, err)
	require.Len(t, drafts, 2)

	assert.Equal(t, ledger.TxSale, drafts[0].TransactionType)
	assertMoney(t, "220", drafts[0].Debit)
	assertMoney(t, "0", drafts[0].Credit)

	assert.Equal(t, ledger.TxPaymentReceived, drafts[1].TransactionType)
	assertMoney(t, "50", drafts[1].Credit)
	assertMoney(t, "0", drafts[1].Debit)

	for _, e := range drafts {
		assert.Equal(t, "INV-1", e.ReferenceID)
		assert.Equal(t, ledger.LedgerCustomer, e.LedgerType)
		assert.True(t, e.TransactionDate.Equal(saleDate))
		require.NoError(t, ledger.ValidateEntry(e))
	}
	assert.Equal(t, "INV-1:sale", drafts[0].IdempotencyKey)
	assert.Equal(t, "INV-1:payment_received", drafts[1].IdempotencyKey)
}

func TestPost_UnpaidSalePostsOnlyTheCharge(t *testing.T) {
	d := creditSale(t, "INV-2", "cust-1", "0")

	drafts, err := posting.Post(d)

	require.NoError(t, err)
	require.Len(t, drafts, 1)
	assert.Equal(t, ledger.TxSale, drafts[0].TransactionType)
}

func TestPost_Purchase(t *testing.T) {
	d := purchase(t, "PO-1", 500, 200)

	drafts, err := posting.Post(d)

	require.NoError(t, err)
	require.Len(t, drafts, 2)
	assert.Equal(t, ledger.TxPurchase, drafts[0].TransactionType)
	assertMoney(t, "500", drafts[0].Credit)
	assert.Equal(t, ledger.TxPaymentMade, drafts[1].TransactionType)
	assertMoney(t, "200", drafts[1].Debit)
	assert.Equal(t, ledger.LedgerSupplier, drafts[0].LedgerType)
}

func TestPost_WalkInSalePostsNothing(t *testing.T) {
	d := document.New(document.KindSale, "INV-3", "", saleDate)
	require.NoError(t, d.AddItem(document.Item{Quantity: decimal.NewFromInt(1), UnitPrice: money.FromInt(5)}))
	require.NoError(t, d.Finalize())

	drafts, err := posting.Post(d)

	require.NoError(t, err)
	assert.Empty(t, drafts)
}

func TestPost_RequiresFinalized(t *testing.T) {
	d := document.New(document.KindSale, "INV-4", "cust-1", saleDate)

	_, err := posting.Post(d)

	assert.ErrorIs(t, err, document.ErrNotFinalized)
}

func TestReverse_MapsEachOriginal(t *testing.T) {
	tests := []struct {
		lt   ledger.LedgerType
		tt   ledger.TransactionType
		want ledger.TransactionType
	}{
		{ledger.LedgerCustomer, ledger.TxSale, ledger.TxCreditNote},
		{ledger.LedgerCustomer, ledger.TxPaymentReceived, ledger.TxDebitNote},
		{ledger.LedgerSupplier, ledger.TxPurchase, ledger.TxPurchaseReturn},
		{ledger.LedgerSupplier, ledger.TxPaymentMade, ledger.TxCreditNote},
	}

	for _, tt := range tests {
		t.Run(string(tt.lt)+"/"+string(tt.tt), func(t *testing.T) {
			side, err := ledger.NaturalSide(tt.lt, tt.tt)
			require.NoError(t, err)
			orig := ledger.Entry{
				ID: "e1", EntityID: "x", LedgerType: tt.lt, TransactionType: tt.tt,
				TransactionDate: saleDate, ReferenceID: "DOC", IdempotencyKey: "DOC:" + string(tt.tt),
			}
			if side == ledger.SideDebit {
				orig.Debit = money.FromInt(40)
			} else {
				orig.Credit = money.FromInt(40)
			}

			out, err := posting.Reverse("DOC", []ledger.Entry{orig}, saleDate)

			require.NoError(t, err)
			require.Len(t, out, 1)
			assert.Equal(t, tt.want, out[0].TransactionType)
			assert.Equal(t, "DOC:reversal:e1", out[0].IdempotencyKey)
			require.NoError(t, ledger.ValidateEntry(out[0]))

			origDelta, err := ledger.Delta(orig)
			require.NoError(t, err)
			revDelta, err := ledger.Delta(out[0])
			require.NoError(t, err)
			assert.True(t, origDelta.Add(revDelta).IsZero(), "reversal offsets the original")
		})
	}
}

func TestReverse_SkipsAlreadyReversed(t *testing.T) {
	orig := ledger.Entry{
		ID: "e1", EntityID: "cust-1", LedgerType: ledger.LedgerCustomer, TransactionType: ledger.TxSale,
		TransactionDate: saleDate, Debit: money.FromInt(10), ReferenceID: "DOC", IdempotencyKey: "DOC:sale",
	}
	rev := ledger.Entry{
		ID: "e2", EntityID: "cust-1", LedgerType: ledger.LedgerCustomer, TransactionType: ledger.TxCreditNote,
		TransactionDate: saleDate, Credit: money.FromInt(10), ReferenceID: "DOC", IdempotencyKey: "DOC:reversal:e1",
	}

	out, err := posting.Reverse("DOC", []ledger.Entry{orig, rev}, saleDate)

	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestReverse_RejectsForeignEntries(t *testing.T) {
	e := ledger.Entry{ID: "e1", ReferenceID: "OTHER"}

	_, err := posting.Reverse("DOC", []ledger.Entry{e}, saleDate)

	assert.ErrorIs(t, err, ledger.ErrValidation)
}
