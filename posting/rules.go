/*
Package posting turns finalized documents into ledger entries.

RULES:

	sale (customer)      sale              debit  = total
	                     payment_received  credit = paidAmount   if > 0
	purchase (supplier)  purchase          credit = total
	                     payment_made      debit  = paidAmount   if > 0

Every generated entry carries referenceId = document id, which makes it
immutable in the ledger. A walk-in sale has no customer account and posts
nothing.

REVERSAL (document cancelled):

	customer  sale              → credit_note
	          payment_received  → debit_note
	supplier  purchase          → purchase_return
	          payment_made      → credit_note

Reversals are appended next to the originals, never in place of them, so
the entity's history keeps both.

IDEMPOTENCY:
Entries are keyed "<docID>:<type>" and "<docID>:reversal:<entryID>". The
store rejects a second entry with the same key, so a retried post can never
double an entity's balance.
*/
package posting

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/subledger/document"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/money"
)

var (
	// ErrAlreadyPosted is returned when entries for the document exist.
	ErrAlreadyPosted = errors.New("document already posted")

	// ErrNothingToReverse is returned when a cancelled document has no
	// un-reversed entries left.
	ErrNothingToReverse = errors.New("nothing to reverse")
)

// Post returns the entry drafts a finalized document generates. The
// drafts are not stored; the caller appends them as one batch.
func Post(doc *document.Document) ([]ledger.Entry, error) {
	if doc.Status != document.StatusFinalized {
		return nil, fmt.Errorf("%w: %s is %s", document.ErrNotFinalized, doc.ID, doc.Status)
	}
	if doc.ID == "" {
		return nil, ledger.Invalid("id", "document id is required for posting")
	}
	if doc.IsWalkIn() {
		return nil, nil
	}

	lt := doc.LedgerType()
	chargeType, paymentType := ledger.TxSale, ledger.TxPaymentReceived
	if doc.Kind == document.KindPurchase {
		chargeType, paymentType = ledger.TxPurchase, ledger.TxPaymentMade
	}

	base := ledger.Entry{
		EntityID:        doc.EntityID,
		LedgerType:      lt,
		TransactionDate: doc.Date,
		Reference:       doc.Number,
		ReferenceID:     doc.ID,
	}

	var out []ledger.Entry
	if doc.Totals.Total.IsPositive() {
		e := base
		e.TransactionType = chargeType
		e.Description = describe(doc.Kind, doc.Number)
		e.IdempotencyKey = postKey(doc.ID, chargeType)
		if err := setNatural(&e, doc.Totals.Total); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if doc.PaidAmount.IsPositive() {
		e := base
		e.TransactionType = paymentType
		e.Description = "Payment for " + doc.Number
		e.PaymentMethod = doc.PaymentMethod
		e.IdempotencyKey = postKey(doc.ID, paymentType)
		if err := setNatural(&e, doc.PaidAmount); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Reverse returns the offsetting drafts for originals, which must all be
// system entries of the same document. Originals that are themselves
// reversals, or that already have one, are skipped.
func Reverse(docID string, originals []ledger.Entry, at time.Time) ([]ledger.Entry, error) {
	reversed := make(map[string]bool)
	for _, o := range originals {
		if isReversal(o) {
			reversed[o.IdempotencyKey] = true
		}
	}

	var out []ledger.Entry
	for _, o := range originals {
		if o.ReferenceID != docID {
			return nil, ledger.Invalid("reference_id", "entry %s belongs to %q, not %q", o.ID, o.ReferenceID, docID)
		}
		if isReversal(o) || reversed[reversalKey(docID, o.ID)] {
			continue
		}
		tt, ok := reversalType(o.LedgerType, o.TransactionType)
		if !ok {
			return nil, ledger.Invalid("transaction_type", "%s entries on a %s ledger cannot be reversed", o.TransactionType, o.LedgerType)
		}
		r := ledger.Entry{
			EntityID:        o.EntityID,
			LedgerType:      o.LedgerType,
			TransactionType: tt,
			TransactionDate: at,
			Description:     "Reversal of " + o.Description,
			Reference:       o.Reference,
			PaymentMethod:   o.PaymentMethod,
			ReferenceID:     docID,
			IdempotencyKey:  reversalKey(docID, o.ID),
		}
		if err := setNatural(&r, o.Amount()); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func reversalType(lt ledger.LedgerType, tt ledger.TransactionType) (ledger.TransactionType, bool) {
	switch {
	case lt == ledger.LedgerCustomer && tt == ledger.TxSale:
		return ledger.TxCreditNote, true
	case lt == ledger.LedgerCustomer && tt == ledger.TxPaymentReceived:
		return ledger.TxDebitNote, true
	case lt == ledger.LedgerSupplier && tt == ledger.TxPurchase:
		return ledger.TxPurchaseReturn, true
	case lt == ledger.LedgerSupplier && tt == ledger.TxPaymentMade:
		return ledger.TxCreditNote, true
	}
	return "", false
}

// setNatural puts amount on the side the ledger expects for e's type.
func setNatural(e *ledger.Entry, amount money.Money) error {
	side, err := ledger.NaturalSide(e.LedgerType, e.TransactionType)
	if err != nil {
		return err
	}
	if side == ledger.SideCredit {
		e.Credit = amount
	} else {
		e.Debit = amount
	}
	return nil
}

func describe(kind document.Kind, number string) string {
	if kind == document.KindPurchase {
		return "Purchase " + number
	}
	return "Sale " + number
}

func postKey(docID string, tt ledger.TransactionType) string {
	return docID + ":" + string(tt)
}

func reversalKey(docID string, entryID ledger.EntryID) string {
	return docID + ":reversal:" + string(entryID)
}

func isReversal(e ledger.Entry) bool {
	return strings.HasPrefix(e.IdempotencyKey, e.ReferenceID+":reversal:")
}
