// Package rediscache keeps the per-entity cached balance in Redis so that
// several API replicas share one view. Entries still live in the SQL
// store; Redis only ever holds the denormalized number reconciliation
// compares against.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/money"
)

const keyPrefix = "subledger:balance:"

// Cache implements ledger.BalanceCache on Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// Dial connects to addr and pings it.
func Dial(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("rediscache: ping: %w", err)
	}

	return client, nil
}

// New wraps client. A ttl of zero keeps balances until invalidated; an
// expired balance reads as stale.
func New(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func key(id ledger.EntityID) string { return keyPrefix + string(id) }

func (c *Cache) CachedBalance(ctx context.Context, id ledger.EntityID) (money.Money, bool, error) {
	raw, err := c.client.Get(ctx, key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return money.Zero, false, nil
	}
	if err != nil {
		return money.Zero, false, fmt.Errorf("rediscache: get %s: %w", id, err)
	}
	b, err := money.Parse(raw)
	if err != nil {
		return money.Zero, false, fmt.Errorf("rediscache: corrupt balance for %s: %w", id, err)
	}
	return b, true, nil
}

func (c *Cache) SetCachedBalance(ctx context.Context, id ledger.EntityID, b money.Money) error {
	if err := c.client.Set(ctx, key(id), b.Decimal().String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("rediscache: set %s: %w", id, err)
	}
	return nil
}

func (c *Cache) InvalidateBalance(ctx context.Context, id ledger.EntityID) error {
	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("rediscache: del %s: %w", id, err)
	}
	return nil
}

// Ping reports whether Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
