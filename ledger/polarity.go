package ledger

import (
	"github.com/warp/subledger/money"
)

// =============================================================================
// POLARITY TABLE
// =============================================================================
//
//   customer ledger (receivable)        supplier ledger (payable)
//   ----------------------------        -------------------------
//   sale              +  debit          purchase          +  credit
//   debit_note        +  debit          credit_note       +  credit
//   opening_balance   +  debit          opening_balance   +  credit
//   payment_received  -  credit         payment_made      -  debit
//   credit_note       -  credit         debit_note        -  debit
//                                       purchase_return   -  debit
//   adjustment        debit - credit    adjustment        debit - credit
//
// The table is closed. Adding a TransactionType without a row here makes
// every entry of that type fail validation instead of silently counting as 0.

// Polarity is the direction an entry moves its entity's balance.
type Polarity int

const (
	// PolarityRaw applies debit - credit as-is (adjustments only).
	PolarityRaw Polarity = iota
	PolarityIncrease
	PolarityDecrease
)

// Side is the amount field an entry must use.
type Side int

const (
	SideEither Side = iota
	SideDebit
	SideCredit
)

func (s Side) String() string {
	switch s {
	case SideDebit:
		return "debit"
	case SideCredit:
		return "credit"
	default:
		return "debit or credit"
	}
}

type rule struct {
	polarity Polarity
	side     Side
}

func customerRule(tt TransactionType) (rule, bool) {
	switch tt {
	case TxSale, TxDebitNote, TxOpeningBalance:
		return rule{PolarityIncrease, SideDebit}, true
	case TxPaymentReceived, TxCreditNote:
		return rule{PolarityDecrease, SideCredit}, true
	case TxAdjustment:
		return rule{PolarityRaw, SideEither}, true
	}
	return rule{}, false
}

func supplierRule(tt TransactionType) (rule, bool) {
	switch tt {
	case TxPurchase, TxCreditNote, TxOpeningBalance:
		return rule{PolarityIncrease, SideCredit}, true
	case TxPaymentMade, TxDebitNote, TxPurchaseReturn:
		return rule{PolarityDecrease, SideDebit}, true
	case TxAdjustment:
		return rule{PolarityRaw, SideEither}, true
	}
	return rule{}, false
}

func lookup(lt LedgerType, tt TransactionType) (rule, error) {
	var (
		r  rule
		ok bool
	)
	switch lt {
	case LedgerCustomer:
		r, ok = customerRule(tt)
	case LedgerSupplier:
		r, ok = supplierRule(tt)
	default:
		return rule{}, Invalid("ledger_type", "unknown ledger type %q", lt)
	}
	if !ok {
		return rule{}, Invalid("transaction_type", "%q is not valid for a %s ledger", tt, lt)
	}
	return r, nil
}

// PolarityOf returns how a transaction type moves a balance on a ledger.
func PolarityOf(lt LedgerType, tt TransactionType) (Polarity, error) {
	r, err := lookup(lt, tt)
	return r.polarity, err
}

// NaturalSide returns the amount field a transaction type must be booked on.
func NaturalSide(lt LedgerType, tt TransactionType) (Side, error) {
	r, err := lookup(lt, tt)
	return r.side, err
}

// ValidTypes lists the transaction types accepted by a ledger type.
func ValidTypes(lt LedgerType) []TransactionType {
	all := []TransactionType{
		TxSale, TxPaymentReceived, TxPurchase, TxPaymentMade, TxPurchaseReturn,
		TxCreditNote, TxDebitNote, TxAdjustment, TxOpeningBalance,
	}
	var out []TransactionType
	for _, tt := range all {
		if _, err := lookup(lt, tt); err == nil {
			out = append(out, tt)
		}
	}
	return out
}

// Delta is the signed change an entry applies to its entity's balance.
func Delta(e Entry) (money.Money, error) {
	r, err := lookup(e.LedgerType, e.TransactionType)
	if err != nil {
		return money.Zero, err
	}
	switch r.polarity {
	case PolarityIncrease:
		return e.Amount(), nil
	case PolarityDecrease:
		return e.Amount().Neg(), nil
	case PolarityRaw:
		return e.Debit.Sub(e.Credit), nil
	}
	return money.Zero, Invalid("transaction_type", "no polarity for %q", e.TransactionType)
}

// =============================================================================
// ENTRY VALIDATION
// =============================================================================

// ValidateEntry checks the structural rules every stored entry obeys:
// a known (ledger, transaction) pair, non-negative amounts, exactly one
// positive side, and that side matching the transaction type.
func ValidateEntry(e Entry) error {
	if e.EntityID == "" {
		return Invalid("entity_id", "required")
	}
	if e.TransactionDate.IsZero() {
		return Invalid("transaction_date", "required")
	}
	side, err := NaturalSide(e.LedgerType, e.TransactionType)
	if err != nil {
		return err
	}
	if e.Debit.IsNegative() {
		return Invalid("debit", "must not be negative")
	}
	if e.Credit.IsNegative() {
		return Invalid("credit", "must not be negative")
	}
	hasDebit, hasCredit := e.Debit.IsPositive(), e.Credit.IsPositive()
	switch {
	case hasDebit && hasCredit:
		return Invalid("amount", "debit and credit are both set")
	case !hasDebit && !hasCredit:
		return Invalid("amount", "one of debit or credit is required")
	}
	switch {
	case side == SideDebit && !hasDebit,
		side == SideCredit && !hasCredit:
		return Invalid("amount", "%s on a %s ledger must be a %s", e.TransactionType, e.LedgerType, side)
	}
	return nil
}
