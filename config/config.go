// Package config loads runtime configuration from the environment.
//
// Variables are prefixed SUBLEDGER_. A .env file in the working directory,
// if present, is loaded first; variables already set in the environment
// win over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const Prefix = "SUBLEDGER"

const (
	StoreSQLite = "sqlite"
	StoreMemory = "memory"

	CacheStore = "store"
	CacheRedis = "redis"
)

// Config holds runtime configuration for the server and CLI.
type Config struct {
	Addr         string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`

	Store  string `envconfig:"STORE" default:"sqlite"`
	DBPath string `envconfig:"DB_PATH" default:"subledger.db"`

	BalanceCache    string        `envconfig:"BALANCE_CACHE" default:"store"`
	RedisAddr       string        `envconfig:"REDIS_ADDR" default:"127.0.0.1:6379"`
	BalanceCacheTTL time.Duration `envconfig:"BALANCE_CACHE_TTL" default:"0"`

	LockTimeout time.Duration `envconfig:"LOCK_TIMEOUT" default:"2s"`

	// ReconcileInterval is how often every entity is verified in the
	// background; 0 disables the sweep.
	ReconcileInterval time.Duration `envconfig:"RECONCILE_INTERVAL" default:"1h"`

	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit      int      `envconfig:"RATE_LIMIT" default:"600"`
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"console"`
	LogOutput string `envconfig:"LOG_OUTPUT" default:"stdout"`
}

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	c.Store = strings.ToLower(c.Store)
	c.BalanceCache = strings.ToLower(c.BalanceCache)

	switch c.Store {
	case StoreSQLite:
		if c.DBPath == "" {
			return errors.New("SUBLEDGER_DB_PATH is required for the sqlite store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("SUBLEDGER_STORE must be %s or %s, got %q", StoreSQLite, StoreMemory, c.Store)
	}

	switch c.BalanceCache {
	case CacheStore:
	case CacheRedis:
		if c.RedisAddr == "" {
			return errors.New("SUBLEDGER_REDIS_ADDR is required for the redis balance cache")
		}
	default:
		return fmt.Errorf("SUBLEDGER_BALANCE_CACHE must be %s or %s, got %q", CacheStore, CacheRedis, c.BalanceCache)
	}

	if c.LockTimeout <= 0 {
		return errors.New("SUBLEDGER_LOCK_TIMEOUT must be positive")
	}
	if c.ReconcileInterval < 0 {
		return errors.New("SUBLEDGER_RECONCILE_INTERVAL must not be negative")
	}
	if c.RateLimit < 0 {
		return errors.New("SUBLEDGER_RATE_LIMIT must not be negative")
	}
	return nil
}
