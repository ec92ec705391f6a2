package rediscache_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/ledger/store"
	"github.com/warp/subledger/money"
	"github.com/warp/subledger/store/rediscache"
)

func newCache(t *testing.T, ttl time.Duration) (*rediscache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return rediscache.New(client, ttl), mr
}

func TestCache_RoundTrip(t *testing.T) {
	c, mr := newCache(t, 0)
	ctx := context.Background()

	_, ok, err := c.CachedBalance(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.SetCachedBalance(ctx, "cust-1", money.MustParse("170.50")))
	assert.Equal(t, "170.5", mustGet(t, mr, "subledger:balance:cust-1"))

	b, ok, err := c.CachedBalance(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, money.MustParse("170.5").Equal(b))

	require.NoError(t, c.InvalidateBalance(ctx, "cust-1"))
	_, ok, err = c.CachedBalance(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_ExpiredBalanceIsStale(t *testing.T) {
	c, mr := newCache(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.SetCachedBalance(ctx, "cust-1", money.FromInt(5)))

	mr.FastForward(2 * time.Minute)

	_, ok, err := c.CachedBalance(ctx, "cust-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCache_CorruptValue(t *testing.T) {
	c, mr := newCache(t, 0)
	require.NoError(t, mr.Set("subledger:balance:cust-1", "not-a-number"))

	_, _, err := c.CachedBalance(context.Background(), "cust-1")

	assert.Error(t, err)
}

func TestCache_BacksLedgerReconciliation(t *testing.T) {
	// GIVEN: entries in memory, cached balance in Redis
	c, mr := newCache(t, 0)
	mem := store.NewMemory()
	l := ledger.New(mem, mem, c)
	ctx := context.Background()
	_, err := l.RegisterEntity(ctx, ledger.Entity{ID: "supp-1", Name: "Bolt", LedgerType: ledger.LedgerSupplier})
	require.NoError(t, err)

	// WHEN
	_, err = l.Append(ctx, ledger.Entry{
		EntityID: "supp-1", TransactionType: ledger.TxPurchase,
		TransactionDate: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC), Credit: money.FromInt(500),
	})
	require.NoError(t, err)

	// THEN
	assert.Equal(t, "500", mustGet(t, mr, "subledger:balance:supp-1"))
	require.NoError(t, l.Require(ctx, "supp-1"))

	require.NoError(t, mr.Set("subledger:balance:supp-1", "499"))
	assert.ErrorIs(t, l.Require(ctx, "supp-1"), ledger.ErrReconciliationMismatch)
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
