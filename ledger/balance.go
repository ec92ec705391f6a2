/*
balance.go - Balance Calculator

PURPOSE:
  Derives an entity's balance by replaying its entries in TransactionDate
  order through the polarity table. These are pure functions: no store,
  no locks, safe to call concurrently.

SIGN CONVENTION:
  customer ledger: positive = receivable (customer owes the business)
  supplier ledger: positive = payable (business owes the supplier)

ORDERING:
  Input need not be sorted. Entries are ordered by TransactionDate, then
  Seq, before replay, so insertion order never changes the result.

SEE ALSO:
  - polarity.go: per-type deltas
  - reconcile.go: compares this output to the cached balance
*/
package ledger

import (
	"slices"
	"time"

	"github.com/warp/subledger/money"
)

// Sorted returns a copy of entries in ledger order.
func Sorted(entries []Entry) []Entry {
	out := slices.Clone(entries)
	slices.SortStableFunc(out, func(a, b Entry) int {
		if a.Before(b) {
			return -1
		}
		if b.Before(a) {
			return 1
		}
		return 0
	})
	return out
}

// ComputeBalance replays entries and returns the final balance.
func ComputeBalance(entries []Entry) (money.Money, error) {
	balance := money.Zero
	for _, e := range Sorted(entries) {
		d, err := Delta(e)
		if err != nil {
			return money.Zero, err
		}
		balance = balance.Add(d)
	}
	return balance, nil
}

// ComputeBalanceAsOf replays only entries dated on or before asOf.
func ComputeBalanceAsOf(entries []Entry, asOf time.Time) (money.Money, error) {
	balance := money.Zero
	for _, e := range Sorted(entries) {
		if e.TransactionDate.After(asOf) {
			break
		}
		d, err := Delta(e)
		if err != nil {
			return money.Zero, err
		}
		balance = balance.Add(d)
	}
	return balance, nil
}

// ComputeRunningBalances returns every entry with the balance after it.
func ComputeRunningBalances(entries []Entry) ([]RunningBalance, error) {
	sorted := Sorted(entries)
	out := make([]RunningBalance, 0, len(sorted))
	balance := money.Zero
	for _, e := range sorted {
		d, err := Delta(e)
		if err != nil {
			return nil, err
		}
		balance = balance.Add(d)
		e.Balance = balance
		out = append(out, RunningBalance{Entry: e, BalanceAfter: balance})
	}
	return out, nil
}

// EndOfDay is the last instant of t's calendar day in t's location, used
// so that balanceAsOf(day) includes every entry timestamped on that day.
func EndOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1).Add(-time.Nanosecond)
}
