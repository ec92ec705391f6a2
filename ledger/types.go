/*
Package ledger provides the subledger engine for customers and suppliers.

PURPOSE:
  Each customer or supplier owns one ordered sequence of entries. The
  entity's balance is never stored authoritatively: it is derived by
  replaying entries through the polarity table, and any cached copy is
  checked against that replay by the reconciliation check.

KEY CONCEPTS IN THIS FILE (types.go):
  - LedgerType: customer (receivable) or supplier (payable)
  - TransactionType: closed set of entry kinds, scoped per ledger type
  - Entry: one debit-or-credit line in an entity's ledger
  - Entity: the customer/supplier that owns a ledger

DESIGN PRINCIPLES:
  1. Precision: every amount is money.Money, never float64
  2. Provenance: an entry with a ReferenceID was generated by posting a
     document and is immutable; entries without one are manual
  3. Exhaustiveness: polarity is a closed table; an unknown
     (ledger type, transaction type) pair is an error, never a default

SEE ALSO:
  - polarity.go: which transaction types raise or lower a balance
  - balance.go:  Balance Calculator
  - ledger.go:   Ledger service (append, update, delete, list, balance)
*/
package ledger

import (
	"time"

	"github.com/warp/subledger/money"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntityID string
type EntryID string

// =============================================================================
// LEDGER TYPE
// =============================================================================

type LedgerType string

const (
	// LedgerCustomer: positive balance means the customer owes the business.
	LedgerCustomer LedgerType = "customer"
	// LedgerSupplier: positive balance means the business owes the supplier.
	LedgerSupplier LedgerType = "supplier"
)

func (lt LedgerType) Valid() bool {
	return lt == LedgerCustomer || lt == LedgerSupplier
}

// =============================================================================
// TRANSACTION TYPE
// =============================================================================

type TransactionType string

const (
	TxSale            TransactionType = "sale"
	TxPaymentReceived TransactionType = "payment_received"
	TxPurchase        TransactionType = "purchase"
	TxPaymentMade     TransactionType = "payment_made"
	TxPurchaseReturn  TransactionType = "purchase_return"
	TxCreditNote      TransactionType = "credit_note"
	TxDebitNote       TransactionType = "debit_note"
	TxAdjustment      TransactionType = "adjustment"
	TxOpeningBalance  TransactionType = "opening_balance"
)

// =============================================================================
// ENTRY
// =============================================================================

// Entry is a single line in an entity's ledger.
//
// Exactly one of Debit and Credit is positive; the other is zero.
// Balance is the running balance after this entry, cached for display and
// always reproducible by replaying the entity's entries up to this one.
type Entry struct {
	ID              EntryID
	EntityID        EntityID
	LedgerType      LedgerType
	TransactionType TransactionType
	TransactionDate time.Time

	Description   string
	Reference     string
	PaymentMethod string
	Notes         string

	Debit   money.Money
	Credit  money.Money
	Balance money.Money

	// ReferenceID links to the originating sale/purchase/payment document.
	// Set only by posting; its presence makes the entry immutable.
	ReferenceID    string
	IdempotencyKey string

	// Seq is assigned by the store on insert and breaks TransactionDate ties
	// so that later inserts sort after earlier ones.
	Seq       int64
	CreatedAt time.Time
}

// IsSystemGenerated reports whether the entry came from posting a document.
func (e Entry) IsSystemGenerated() bool { return e.ReferenceID != "" }

// Amount is the positive side of the entry.
func (e Entry) Amount() money.Money {
	if e.Debit.IsPositive() {
		return e.Debit
	}
	return e.Credit
}

// Before orders entries by TransactionDate, then insertion sequence.
func (e Entry) Before(o Entry) bool {
	if !e.TransactionDate.Equal(o.TransactionDate) {
		return e.TransactionDate.Before(o.TransactionDate)
	}
	return e.Seq < o.Seq
}

// Patch carries the fields of a manual entry that may change after creation.
// TransactionType, Debit and Credit are deliberately absent.
type Patch struct {
	Description     *string
	Reference       *string
	PaymentMethod   *string
	Notes           *string
	TransactionDate *time.Time
}

func (p Patch) apply(e Entry) Entry {
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.Reference != nil {
		e.Reference = *p.Reference
	}
	if p.PaymentMethod != nil {
		e.PaymentMethod = *p.PaymentMethod
	}
	if p.Notes != nil {
		e.Notes = *p.Notes
	}
	if p.TransactionDate != nil {
		e.TransactionDate = *p.TransactionDate
	}
	return e
}

// =============================================================================
// ENTITY
// =============================================================================

// Entity is a customer or supplier. Its balance is derived, never stored
// here; see BalanceCache for the denormalized copy.
type Entity struct {
	ID         EntityID
	Name       string
	Phone      string
	LedgerType LedgerType
	CreatedAt  time.Time
}

// =============================================================================
// RUNNING BALANCE
// =============================================================================

// RunningBalance pairs an entry with the balance after applying it.
type RunningBalance struct {
	Entry        Entry
	BalanceAfter money.Money
}
