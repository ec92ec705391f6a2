package api

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/ledger/store"
	"github.com/warp/subledger/money"
)

func newSweepLedger(t *testing.T) (*ledger.Ledger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	l := ledger.New(mem, mem, mem)
	ctx := context.Background()
	for _, e := range []ledger.Entity{
		{ID: "cust-1", Name: "Acme Retail", LedgerType: ledger.LedgerCustomer},
		{ID: "supp-1", Name: "Bolt Wholesale", LedgerType: ledger.LedgerSupplier},
	} {
		_, err := l.RegisterEntity(ctx, e)
		require.NoError(t, err)
	}
	_, err := l.Append(ctx, ledger.Entry{
		EntityID: "cust-1", TransactionType: ledger.TxOpeningBalance,
		TransactionDate: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), Debit: money.FromInt(100),
	})
	require.NoError(t, err)
	return l, mem
}

func TestScheduler_RunNowReportsDriftWithoutFixingIt(t *testing.T) {
	l, mem := newSweepLedger(t)
	ctx := context.Background()
	require.NoError(t, mem.SetCachedBalance(ctx, "cust-1", money.FromInt(1)))
	rs := NewReconciliationScheduler(l, time.Hour, zerolog.Nop())

	report, err := rs.RunNow(ctx)

	require.NoError(t, err)
	assert.Equal(t, 2, report.Checked)
	assert.Equal(t, 1, report.Stale) // supp-1 has never been written
	require.Len(t, report.Drifted, 1)
	assert.Equal(t, ledger.EntityID("cust-1"), report.Drifted[0].EntityID)

	cached, _, err := mem.CachedBalance(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, cached.Equal(money.FromInt(1)))

	last, ok := rs.LastReport()
	require.True(t, ok)
	assert.Equal(t, report.RanAt, last.RanAt)
}

func TestScheduler_StartRunsImmediately(t *testing.T) {
	l, _ := newSweepLedger(t)
	rs := NewReconciliationScheduler(l, time.Hour, zerolog.Nop())

	rs.Start()
	defer rs.Stop()

	require.Eventually(t, func() bool {
		_, ok := rs.LastReport()
		return ok
	}, time.Second, 10*time.Millisecond)
}

func TestScheduler_DisabledWithoutInterval(t *testing.T) {
	l, _ := newSweepLedger(t)
	rs := NewReconciliationScheduler(l, 0, zerolog.Nop())

	rs.Start()
	rs.Stop()

	_, ok := rs.LastReport()
	assert.False(t, ok)
}
