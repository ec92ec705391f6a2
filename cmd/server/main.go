/*
main.go - Application entry point

PURPOSE:
  Builds the subledger from configuration and exposes it as a CLI:
  "serve" runs the HTTP API, "verify" checks every entity's cached
  balance against its history and exits non-zero on drift.

STARTUP SEQUENCE:
  1. Load .env and SUBLEDGER_* environment (config package)
  2. Configure zerolog
  3. Open the store (SQLite or memory) and the balance cache
  4. Wire ledger, poster, API handler and router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS (override the environment):
  serve --port   HTTP server port
  serve --db     SQLite database path (":memory:" for in-memory)
  verify --db    SQLite database path

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the reconciliation sweep
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database and cache connections

EXAMPLES:
  # Run with file database
  subledger serve --db=./data/subledger.db

  # Run in memory with balances cached in Redis
  SUBLEDGER_STORE=memory SUBLEDGER_BALANCE_CACHE=redis subledger serve

  # Nightly consistency check
  subledger verify --db=./data/subledger.db

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/warp/subledger/config"
	"github.com/warp/subledger/logger"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "subledger",
	Short:   "Customer and supplier subledger service",
	Version: version,
	Long: `subledger keeps per-customer receivable and per-supplier payable ledgers,
posts finalized sales and purchases into them, and reconciles cached
balances against entry history.

Configuration comes from SUBLEDGER_* environment variables or a .env file.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and sets up the global logger. The
// returned function closes the log output.
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	closer, err := logger.Setup(logger.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: cfg.LogOutput,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, func() { closer.Close() }, nil
}
