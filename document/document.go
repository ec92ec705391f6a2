package document

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/money"
)

var (
	// ErrNotDraft protects the state machine: only drafts are editable.
	ErrNotDraft = errors.New("document is not a draft")

	// ErrNotFinalized: only finalized documents post or cancel.
	ErrNotFinalized = errors.New("document is not finalized")

	// ErrEmptyDocument prevents finalizing a document with no lines.
	ErrEmptyDocument = errors.New("document has no line items")
)

type Kind string

const (
	KindSale     Kind = "sale"
	KindPurchase Kind = "purchase"
)

type Status string

const (
	StatusDraft     Status = "draft"
	StatusFinalized Status = "finalized"
	StatusCancelled Status = "cancelled"
)

// Document is a sale or a purchase. Totals, PaidAmount (for cash and
// pending) and Balance are derived; use the setters, which re-derive them
// on every edit, rather than assigning fields of a draft directly.
type Document struct {
	ID       string
	Number   string
	Kind     Kind
	EntityID ledger.EntityID // customer or supplier; empty for a walk-in sale
	Date     time.Time
	Status   Status

	Items          []Item
	Discount       money.Money
	TaxRate        decimal.Decimal
	DeliveryCharge money.Money
	ServiceCharge  money.Money

	PaymentType   PaymentType
	PaymentMethod string
	PaidAmount    money.Money
	DueDate       *time.Time

	Totals  Totals
	Balance money.Money
}

// New returns an empty draft. Sales default to cash, purchases to an
// explicit paid amount.
func New(kind Kind, id string, entityID ledger.EntityID, date time.Time) *Document {
	d := &Document{
		ID:       id,
		Number:   id,
		Kind:     kind,
		EntityID: entityID,
		Date:     date,
		Status:   StatusDraft,
	}
	if kind == KindSale {
		d.PaymentType = PaymentCash
	}
	return d
}

// IsWalkIn reports a sale with no customer account; it never posts.
func (d *Document) IsWalkIn() bool { return d.Kind == KindSale && d.EntityID == "" }

// LedgerType is the ledger this document posts to.
func (d *Document) LedgerType() ledger.LedgerType {
	if d.Kind == KindPurchase {
		return ledger.LedgerSupplier
	}
	return ledger.LedgerCustomer
}

// Recompute derives totals and payment state from the current inputs.
func (d *Document) Recompute() error {
	if d.Kind != KindSale && d.Kind != KindPurchase {
		return ledger.Invalid("kind", "must be sale or purchase")
	}
	if d.Kind == KindSale && d.PaymentType == PaymentExplicit {
		return ledger.Invalid("payment_type", "required for a sale")
	}
	totals, err := ComputeTotals(d.Items, d.Discount, d.TaxRate, d.DeliveryCharge, d.ServiceCharge)
	if err != nil {
		return err
	}
	paid, balance, err := DerivePayment(d.PaymentType, totals.Total, d.PaidAmount)
	if err != nil {
		return err
	}
	d.Totals = totals
	d.PaidAmount = paid
	d.Balance = balance
	return nil
}

// edit applies fn to a copy and keeps it only if the copy recomputes
// cleanly, so a rejected edit leaves the document untouched.
func (d *Document) edit(fn func(c *Document) error) error {
	if d.Status != StatusDraft {
		return fmt.Errorf("%w: %s", ErrNotDraft, d.Status)
	}
	c := *d
	c.Items = slices.Clone(d.Items)
	if err := fn(&c); err != nil {
		return err
	}
	if err := c.Recompute(); err != nil {
		return err
	}
	*d = c
	return nil
}

// =============================================================================
// EDITING
// =============================================================================

func (d *Document) AddItem(it Item) error {
	return d.edit(func(c *Document) error {
		if !it.Quantity.IsPositive() {
			return ledger.Invalid("quantity", "must be positive")
		}
		c.Items = append(c.Items, it)
		return nil
	})
}

// SetQuantity changes line idx. A quantity of zero removes the line.
func (d *Document) SetQuantity(idx int, qty decimal.Decimal) error {
	return d.edit(func(c *Document) error {
		if idx < 0 || idx >= len(c.Items) {
			return ledger.Invalid("items", "no line %d", idx+1)
		}
		switch {
		case qty.IsNegative():
			return ledger.Invalid("quantity", "must not be negative")
		case qty.IsZero():
			c.Items = slices.Delete(c.Items, idx, idx+1)
		default:
			c.Items[idx].Quantity = qty
		}
		return nil
	})
}

func (d *Document) RemoveItem(idx int) error {
	return d.SetQuantity(idx, decimal.Zero)
}

func (d *Document) SetDiscount(discount money.Money) error {
	return d.edit(func(c *Document) error {
		c.Discount = discount
		return nil
	})
}

func (d *Document) SetTaxRate(rate decimal.Decimal) error {
	return d.edit(func(c *Document) error {
		c.TaxRate = rate
		return nil
	})
}

func (d *Document) SetCharges(delivery, service money.Money) error {
	return d.edit(func(c *Document) error {
		c.DeliveryCharge = delivery
		c.ServiceCharge = service
		return nil
	})
}

// SetPaymentType switches the rule used for paid amount and balance. The
// previous paid amount is not carried into cash or pending, and a paid
// amount derived under cash or pending is not carried out of them.
func (d *Document) SetPaymentType(pt PaymentType) error {
	return d.edit(func(c *Document) error {
		derived := c.PaymentType == PaymentCash || c.PaymentType == PaymentPending
		entered := pt == PaymentCredit || pt == PaymentExplicit
		if c.PaymentType != pt && !entered {
			c.DueDate = nil
		}
		if c.PaymentType != pt && derived && entered {
			c.PaidAmount = money.Zero
		}
		c.PaymentType = pt
		return nil
	})
}

// SetPaidAmount records the user-entered paid amount for credit and
// explicit payments.
func (d *Document) SetPaidAmount(paid money.Money) error {
	return d.edit(func(c *Document) error {
		if c.PaymentType == PaymentCash || c.PaymentType == PaymentPending {
			return ledger.Invalid("paid_amount", "is derived for %s documents", c.PaymentType)
		}
		c.PaidAmount = paid
		return nil
	})
}

func (d *Document) SetDueDate(due time.Time) error {
	return d.edit(func(c *Document) error {
		c.DueDate = &due
		return nil
	})
}

// =============================================================================
// LIFECYCLE
// =============================================================================
//
//   draft ──Finalize──▶ finalized ──Cancel──▶ cancelled
//
// Only finalized documents post; cancelling posts reversing entries and
// leaves the originals in place.

// Finalize freezes a draft after a last full validation.
func (d *Document) Finalize() error {
	if d.Status != StatusDraft {
		return fmt.Errorf("%w: %s", ErrNotDraft, d.Status)
	}
	if len(d.Items) == 0 {
		return ErrEmptyDocument
	}
	if d.Date.IsZero() {
		return ledger.Invalid("date", "required")
	}
	if d.Kind == KindPurchase && d.EntityID == "" {
		return ledger.Invalid("entity_id", "a purchase needs a supplier")
	}
	if err := d.Recompute(); err != nil {
		return err
	}
	if d.PaymentType == PaymentCredit && d.DueDate == nil {
		return ledger.Invalid("due_date", "required for credit")
	}
	if d.PaidAmount.GreaterThan(d.Totals.Total) {
		return ledger.Invalid("paid_amount", "%s exceeds total %s", d.PaidAmount, d.Totals.Total)
	}
	if d.IsWalkIn() && d.Balance.IsPositive() {
		return ledger.Invalid("entity_id", "a walk-in sale must be paid in full")
	}
	d.Status = StatusFinalized
	return nil
}

// Cancel moves a finalized document to cancelled.
func (d *Document) Cancel() error {
	if d.Status != StatusFinalized {
		return fmt.Errorf("%w: %s", ErrNotFinalized, d.Status)
	}
	d.Status = StatusCancelled
	return nil
}
