package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/money"
	"github.com/warp/subledger/store/sqlite"
)

func seedDatabase(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(path)
	require.NoError(t, err)
	l := ledger.New(s, s, s)
	ctx := context.Background()
	_, err = l.RegisterEntity(ctx, ledger.Entity{ID: "cust-1", Name: "Acme Retail", LedgerType: ledger.LedgerCustomer})
	require.NoError(t, err)
	_, err = l.Append(ctx, ledger.Entry{
		EntityID: "cust-1", TransactionType: ledger.TxSale,
		TransactionDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Debit: money.FromInt(500),
	})
	require.NoError(t, err)
	return s
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("SUBLEDGER_LOG_OUTPUT", "stderr")
	t.Setenv("SUBLEDGER_LOG_LEVEL", "warn")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestVerify_Consistent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subledger.db")
	require.NoError(t, seedDatabase(t, path).Close())

	out, err := runCLI(t, "verify", "--db", path)

	require.NoError(t, err)
	assert.Contains(t, out, "cust-1")
	assert.Contains(t, out, "ok")
}

func TestVerify_DriftFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "subledger.db")
	s := seedDatabase(t, path)
	require.NoError(t, s.SetCachedBalance(context.Background(), "cust-1", money.FromInt(1)))
	require.NoError(t, s.Close())

	out, err := runCLI(t, "verify", "--db", path)

	require.ErrorIs(t, err, errDrift)
	assert.Contains(t, out, "DRIFT")
}
