package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/warp/subledger/api"
	"github.com/warp/subledger/config"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/ledger/store"
	"github.com/warp/subledger/store/rediscache"
	"github.com/warp/subledger/store/sqlite"
)

// backend is what every store implementation provides.
type backend interface {
	ledger.Store
	ledger.Directory
	ledger.BalanceCache
	api.Resetter
}

// app is the wired service plus whatever must be closed on exit.
type app struct {
	ledger  *ledger.Ledger
	store   backend
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

func openApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*app, error) {
	a := &app{}

	switch cfg.Store {
	case config.StoreMemory:
		a.store = store.NewMemory()
	default:
		s, err := sqlite.New(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	}

	var cache ledger.BalanceCache = a.store
	if cfg.BalanceCache == config.CacheRedis {
		client, err := rediscache.Dial(ctx, cfg.RedisAddr)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		cache = rediscache.New(client, cfg.BalanceCacheTTL)
	}

	a.ledger = ledger.New(a.store, a.store, cache,
		ledger.WithLockTimeout(cfg.LockTimeout),
		ledger.WithLogger(log.With().Str("component", "ledger").Logger()),
	)

	log.Info().
		Str("store", cfg.Store).
		Str("balance_cache", cfg.BalanceCache).
		Dur("lock_timeout", cfg.LockTimeout).
		Msg("ledger ready")
	return a, nil
}
