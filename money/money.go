/*
Package money provides the fixed-precision currency primitive.

PURPOSE:
  Every monetary field in the ledger and the document totals flows through
  Money. It wraps shopspring/decimal so that sums such as 0.1 + 0.2 are exact
  and never drift the way float64 arithmetic does.

PRECISION:
  Values are held at arbitrary precision. Only Round() reduces precision and
  it is called explicitly where a currency amount must be settled (tax).
  Scale is the number of minor-unit digits used for that rounding.

USAGE:
  price := money.MustParse("19.99")
  line := price.MulQty(decimal.NewFromInt(3)) // 59.97
  total := money.Sum(line, money.FromInt(5))  // 64.97

SEE ALSO:
  - document/totals.go: Totals calculator built on Money
  - ledger/balance.go:  Balance calculator built on Money
*/
package money

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places a settled currency amount carries.
const Scale int32 = 2

// Money is an exact decimal currency amount. The zero value is 0.
type Money struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Money{}

func New(d decimal.Decimal) Money { return Money{d: d} }
func FromInt(v int64) Money        { return Money{d: decimal.NewFromInt(v)} }

// FromMinor builds an amount from an integer count of minor units (cents).
func FromMinor(v int64) Money { return Money{d: decimal.New(v, -Scale)} }

// Parse reads a decimal string such as "1250.50".
func Parse(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return Money{d: d}, nil
}

// MustParse is Parse for constants and tests. It panics on malformed input.
func MustParse(s string) Money {
	m, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money               { return Money{d: m.d.Add(o.d)} }
func (m Money) Sub(o Money) Money               { return Money{d: m.d.Sub(o.d)} }
func (m Money) Neg() Money                      { return Money{d: m.d.Neg()} }
func (m Money) Abs() Money                      { return Money{d: m.d.Abs()} }
func (m Money) MulQty(q decimal.Decimal) Money  { return Money{d: m.d.Mul(q)} }
func (m Money) Percent(rate decimal.Decimal) Money {
	return Money{d: m.d.Mul(rate).Div(decimal.NewFromInt(100))}
}

// Round settles the amount to Scale places, half away from zero.
func (m Money) Round() Money { return Money{d: m.d.Round(Scale)} }

func (m Money) IsZero() bool            { return m.d.IsZero() }
func (m Money) IsPositive() bool        { return m.d.IsPositive() }
func (m Money) IsNegative() bool        { return m.d.IsNegative() }
func (m Money) Cmp(o Money) int         { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool      { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool   { return m.d.LessThan(o.d) }

func (m Money) Min(o Money) Money {
	if m.LessThan(o) {
		return m
	}
	return o
}

// String renders at least Scale fractional digits: "220.00", "0.125".
func (m Money) String() string {
	if m.d.Exponent() >= -Scale {
		return m.d.StringFixed(Scale)
	}
	return m.d.String()
}

// Sum adds any number of amounts.
func Sum(ms ...Money) Money {
	total := Zero
	for _, m := range ms {
		total = total.Add(m)
	}
	return total
}

// =============================================================================
// ENCODING
// =============================================================================

// MarshalJSON encodes as a JSON string so no client parses it into a float.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts both "12.50" and 12.50.
func (m *Money) UnmarshalJSON(b []byte) error {
	var s string
	if len(b) > 0 && b[0] == '"' {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	} else {
		s = string(b)
	}
	if s == "" || s == "null" {
		*m = Zero
		return nil
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Value stores the amount as TEXT so SQLite keeps it exact.
func (m Money) Value() (driver.Value, error) {
	return m.d.String(), nil
}

// Scan reads TEXT, REAL or INTEGER columns.
func (m *Money) Scan(src any) error {
	return m.d.Scan(src)
}
