/*
Package document computes the monetary fields of sale and purchase
documents and drives their draft → finalized → cancelled lifecycle.

TOTALS:
  subtotal     = Σ quantity × unitPrice
  totalCost    = Σ quantity × cost
  totalProfit  = Σ quantity × (unitPrice − cost)
  taxable      = subtotal − discount + deliveryCharge + serviceCharge
  tax          = taxable × taxRate / 100, rounded to money.Scale
  total        = taxable + tax

  Discount is a flat amount and may not exceed the subtotal. Nothing is
  clamped: an out-of-range input is a ValidationError.

PAYMENT STATE:
  cash     paidAmount = total, balance = 0
  credit   paidAmount entered by the user, balance = total − paidAmount
  pending  paidAmount = 0, balance = total
  explicit (purchases without a payment type) behaves like credit without
           the due-date requirement

SEE ALSO:
  - document.go: editing operations that re-derive all of the above
  - posting/:    turns a finalized document into ledger entries
*/
package document

import (
	"github.com/shopspring/decimal"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/money"
)

// Item is one line of a document.
type Item struct {
	ProductID string
	Name      string
	Quantity  decimal.Decimal
	UnitPrice money.Money
	Cost      money.Money
}

// LineTotal is quantity × unit price.
func (i Item) LineTotal() money.Money { return i.UnitPrice.MulQty(i.Quantity) }

// LineCost is quantity × cost.
func (i Item) LineCost() money.Money { return i.Cost.MulQty(i.Quantity) }

// Totals is the financial summary of a document.
type Totals struct {
	Subtotal    money.Money
	Discount    money.Money
	Taxable     money.Money
	Tax         money.Money
	Total       money.Money
	TotalCost   money.Money
	TotalProfit money.Money
}

// ComputeTotals is a pure function of its inputs. Line order does not
// affect the result.
func ComputeTotals(items []Item, discount money.Money, taxRate decimal.Decimal, deliveryCharge, serviceCharge money.Money) (Totals, error) {
	if discount.IsNegative() {
		return Totals{}, ledger.Invalid("discount", "must not be negative")
	}
	if taxRate.IsNegative() {
		return Totals{}, ledger.Invalid("tax_rate", "must not be negative")
	}
	if deliveryCharge.IsNegative() {
		return Totals{}, ledger.Invalid("delivery_charge", "must not be negative")
	}
	if serviceCharge.IsNegative() {
		return Totals{}, ledger.Invalid("service_charge", "must not be negative")
	}

	var subtotal, totalCost money.Money
	for idx, it := range items {
		if err := validateItem(idx, it); err != nil {
			return Totals{}, err
		}
		subtotal = subtotal.Add(it.LineTotal())
		totalCost = totalCost.Add(it.LineCost())
	}
	if discount.GreaterThan(subtotal) {
		return Totals{}, ledger.Invalid("discount", "%s exceeds subtotal %s", discount, subtotal)
	}

	taxable := money.Sum(subtotal.Sub(discount), deliveryCharge, serviceCharge)
	tax := taxable.Percent(taxRate).Round()

	return Totals{
		Subtotal:    subtotal,
		Discount:    discount,
		Taxable:     taxable,
		Tax:         tax,
		Total:       taxable.Add(tax),
		TotalCost:   totalCost,
		TotalProfit: subtotal.Sub(totalCost),
	}, nil
}

func validateItem(idx int, it Item) error {
	switch {
	case it.Quantity.IsNegative():
		return ledger.Invalid("items", "line %d: quantity must not be negative", idx+1)
	case it.UnitPrice.IsNegative():
		return ledger.Invalid("items", "line %d: unit price must not be negative", idx+1)
	case it.Cost.IsNegative():
		return ledger.Invalid("items", "line %d: cost must not be negative", idx+1)
	}
	return nil
}

// =============================================================================
// PAYMENT STATE
// =============================================================================

type PaymentType string

const (
	PaymentCash    PaymentType = "cash"
	PaymentCredit  PaymentType = "credit"
	PaymentPending PaymentType = "pending"
	// PaymentExplicit is a purchase recorded with a payment method and a
	// user-entered paid amount.
	PaymentExplicit PaymentType = ""
)

// DerivePayment applies the payment type's rule. entered is only read for
// credit and explicit payments; for cash and pending it is overridden.
func DerivePayment(pt PaymentType, total, entered money.Money) (paid, balance money.Money, err error) {
	switch pt {
	case PaymentCash:
		return total, money.Zero, nil
	case PaymentPending:
		return money.Zero, total, nil
	case PaymentCredit, PaymentExplicit:
		if entered.IsNegative() {
			return money.Zero, money.Zero, ledger.Invalid("paid_amount", "must not be negative")
		}
		return entered, total.Sub(entered), nil
	}
	return money.Zero, money.Zero, ledger.Invalid("payment_type", "unknown payment type %q", pt)
}
