/*
Package sqlite provides a SQLite-backed implementation of the ledger ports.

INTERFACES IMPLEMENTED:
  ledger.Store:        entry persistence with running balances
  ledger.Directory:    customers and suppliers
  ledger.BalanceCache: the denormalized per-entity balance

KEY TABLES:
  ledger_entries:  every entry, manual and posted
  entities:        customer and supplier records
  cached_balances: one row per entity, checked by reconciliation

ORDERING:
  Entries are read ORDER BY transaction_date, seq. seq is the rowid
  (AUTOINCREMENT) so same-day entries keep insertion order, and dates are
  stored as fixed-width UTC text so that text order is time order.

AMOUNTS:
  Debit, credit and balance are TEXT. money.Money implements driver.Valuer
  and sql.Scanner over the decimal string, so nothing passes through float.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety, and a single connection so that
  ":memory:" databases are shared by every query. Callers serialize writes
  per entity above this layer.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) so readers don't block
  the single writer.

USAGE:
  store, err := sqlite.New("./data/subledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  l := ledger.New(store, store, store)

SEE ALSO:
  - ledger/store.go: interface definitions
  - ledger/store/memory.go: in-memory implementation for tests and demos
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/subledger/ledger"
	"github.com/warp/subledger/money"
)

// timeLayout is fixed-width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements the ledger ports using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone TEXT,
		ledger_type TEXT NOT NULL CHECK (ledger_type IN ('customer', 'supplier')),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name);

	CREATE TABLE IF NOT EXISTS ledger_entries (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		entity_id TEXT NOT NULL,
		ledger_type TEXT NOT NULL,
		tx_type TEXT NOT NULL,
		transaction_date TEXT NOT NULL,
		description TEXT,
		reference TEXT,
		payment_method TEXT,
		notes TEXT,
		debit TEXT NOT NULL DEFAULT '0',
		credit TEXT NOT NULL DEFAULT '0',
		balance TEXT NOT NULL DEFAULT '0',
		reference_id TEXT,
		idempotency_key TEXT UNIQUE,
		created_at TEXT NOT NULL
	);

	-- Balance replay (hot path)
	CREATE INDEX IF NOT EXISTS idx_entries_entity_date
		ON ledger_entries(entity_id, transaction_date, seq);

	-- Posting and cancellation lookups
	CREATE INDEX IF NOT EXISTS idx_entries_reference
		ON ledger_entries(entity_id, reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS cached_balances (
		entity_id TEXT PRIMARY KEY,
		balance TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ENTRY STORE (ledger.Store interface)
// =============================================================================

const entryColumns = `
	seq, id, entity_id, ledger_type, tx_type, transaction_date, description,
	reference, payment_method, notes, debit, credit, balance, reference_id,
	idempotency_key, created_at`

func (s *Store) Insert(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertEntry(ctx, s.db, e)
}

func insertEntry(ctx context.Context, q querier, e ledger.Entry) (ledger.Entry, error) {
	query := `
		INSERT INTO ledger_entries
		(id, entity_id, ledger_type, tx_type, transaction_date, description,
		 reference, payment_method, notes, debit, credit, balance, reference_id,
		 idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	res, err := q.ExecContext(ctx, query,
		e.ID,
		e.EntityID,
		e.LedgerType,
		e.TransactionType,
		formatTime(e.TransactionDate),
		e.Description,
		e.Reference,
		e.PaymentMethod,
		e.Notes,
		e.Debit,
		e.Credit,
		e.Balance,
		nullString(e.ReferenceID),
		nullString(e.IdempotencyKey),
		formatTime(e.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "idempotency_key") {
				return ledger.Entry{}, ledger.ErrDuplicateIdempotencyKey
			}
			return ledger.Entry{}, ledger.Invalid("id", "entry %s already exists", e.ID)
		}
		return ledger.Entry{}, fmt.Errorf("failed to insert entry: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("failed to read entry seq: %w", err)
	}
	e.Seq = seq
	return e, nil
}

func (s *Store) Get(ctx context.Context, id ledger.EntryID) (ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntry(ctx, s.db, id)
}

func getEntry(ctx context.Context, q querier, id ledger.EntryID) (ledger.Entry, error) {
	row := q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, ledger.ErrEntryNotFound
	}
	return e, err
}

// Update rewrites the mutable columns. Amounts, ledger and type are
// rewritten too, but the ledger only ever passes them through unchanged.
func (s *Store) Update(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateEntry(ctx, s.db, e)
}

func updateEntry(ctx context.Context, q querier, e ledger.Entry) error {
	res, err := q.ExecContext(ctx, `
		UPDATE ledger_entries SET
			transaction_date = ?, description = ?, reference = ?, payment_method = ?,
			notes = ?, debit = ?, credit = ?, balance = ?
		WHERE id = ?
	`,
		formatTime(e.TransactionDate), e.Description, e.Reference, e.PaymentMethod,
		e.Notes, e.Debit, e.Credit, e.Balance, e.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update entry: %w", err)
	}
	return requireOneRow(res, ledger.ErrEntryNotFound)
}

func (s *Store) Delete(ctx context.Context, id ledger.EntryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deleteEntry(ctx, s.db, id)
}

func deleteEntry(ctx context.Context, q querier, id ledger.EntryID) error {
	res, err := q.ExecContext(ctx, `DELETE FROM ledger_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return requireOneRow(res, ledger.ErrEntryNotFound)
}

func (s *Store) ListByEntity(ctx context.Context, entityID ledger.EntityID) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryEntries(ctx, s.db, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE entity_id = ?
		ORDER BY transaction_date ASC, seq ASC
	`, entityID)
}

func (s *Store) ListByReference(ctx context.Context, entityID ledger.EntityID, referenceID string) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listByReference(ctx, s.db, entityID, referenceID)
}

func listByReference(ctx context.Context, q querier, entityID ledger.EntityID, referenceID string) ([]ledger.Entry, error) {
	return queryEntries(ctx, q, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE entity_id = ? AND reference_id = ?
		ORDER BY transaction_date ASC, seq ASC
	`, entityID, referenceID)
}

func (s *Store) SetBalances(ctx context.Context, balances []ledger.RunningBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := setBalances(ctx, sqlTx, balances); err != nil {
		return err
	}
	return sqlTx.Commit()
}

func setBalances(ctx context.Context, q querier, balances []ledger.RunningBalance) error {
	for _, rb := range balances {
		if _, err := q.ExecContext(ctx,
			`UPDATE ledger_entries SET balance = ? WHERE id = ?`,
			rb.BalanceAfter, rb.Entry.ID,
		); err != nil {
			return fmt.Errorf("failed to set running balance: %w", err)
		}
	}
	return nil
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var (
		e              ledger.Entry
		txDate         string
		description    sql.NullString
		reference      sql.NullString
		paymentMethod  sql.NullString
		notes          sql.NullString
		referenceID    sql.NullString
		idempotencyKey sql.NullString
		createdAt      string
	)

	err := row.Scan(
		&e.Seq, &e.ID, &e.EntityID, &e.LedgerType, &e.TransactionType, &txDate,
		&description, &reference, &paymentMethod, &notes,
		&e.Debit, &e.Credit, &e.Balance,
		&referenceID, &idempotencyKey, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return e, err
	}
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	if e.TransactionDate, err = parseTime(txDate); err != nil {
		return e, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, err
	}
	e.Description = description.String
	e.Reference = reference.String
	e.PaymentMethod = paymentMethod.String
	e.Notes = notes.String
	e.ReferenceID = referenceID.String
	e.IdempotencyKey = idempotencyKey.String
	return e, nil
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through the open transaction, so reads inside
// fn see its own writes.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) Insert(ctx context.Context, e ledger.Entry) (ledger.Entry, error) {
	return insertEntry(ctx, ts.tx, e)
}

func (ts *txStore) Get(ctx context.Context, id ledger.EntryID) (ledger.Entry, error) {
	return getEntry(ctx, ts.tx, id)
}

func (ts *txStore) Update(ctx context.Context, e ledger.Entry) error {
	return updateEntry(ctx, ts.tx, e)
}

func (ts *txStore) Delete(ctx context.Context, id ledger.EntryID) error {
	return deleteEntry(ctx, ts.tx, id)
}

func (ts *txStore) ListByEntity(ctx context.Context, entityID ledger.EntityID) ([]ledger.Entry, error) {
	return queryEntries(ctx, ts.tx, `
		SELECT `+entryColumns+` FROM ledger_entries
		WHERE entity_id = ?
		ORDER BY transaction_date ASC, seq ASC
	`, entityID)
}

func (ts *txStore) ListByReference(ctx context.Context, entityID ledger.EntityID, referenceID string) ([]ledger.Entry, error) {
	return listByReference(ctx, ts.tx, entityID, referenceID)
}

func (ts *txStore) SetBalances(ctx context.Context, balances []ledger.RunningBalance) error {
	return setBalances(ctx, ts.tx, balances)
}

// WithTx on a txStore joins the enclosing transaction.
func (ts *txStore) WithTx(_ context.Context, fn func(store ledger.Store) error) error {
	return fn(ts)
}

// =============================================================================
// DIRECTORY (ledger.Directory interface)
// =============================================================================

// SaveEntity creates or replaces an entity record.
func (s *Store) SaveEntity(ctx context.Context, e ledger.Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT OR REPLACE INTO entities (id, name, phone, ledger_type, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.Name, nullString(e.Phone), e.LedgerType, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save entity: %w", err)
	}
	return nil
}

func (s *Store) Entity(ctx context.Context, id ledger.EntityID) (ledger.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, phone, ledger_type, created_at FROM entities WHERE id = ?`, id)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entity{}, ledger.ErrEntityNotFound
	}
	return e, err
}

func (s *Store) ListEntities(ctx context.Context) ([]ledger.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, phone, ledger_type, created_at FROM entities ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	var entities []ledger.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, e)
	}
	return entities, rows.Err()
}

func scanEntity(row rowScanner) (ledger.Entity, error) {
	var (
		e         ledger.Entity
		phone     sql.NullString
		createdAt string
	)
	if err := row.Scan(&e.ID, &e.Name, &phone, &e.LedgerType, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e, err
		}
		return e, fmt.Errorf("failed to scan entity: %w", err)
	}
	e.Phone = phone.String
	t, err := parseTime(createdAt)
	if err != nil {
		return e, err
	}
	e.CreatedAt = t
	return e, nil
}

// =============================================================================
// BALANCE CACHE (ledger.BalanceCache interface)
// =============================================================================

func (s *Store) CachedBalance(ctx context.Context, id ledger.EntityID) (money.Money, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b money.Money
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM cached_balances WHERE entity_id = ?`, id).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return money.Zero, false, nil
	}
	if err != nil {
		return money.Zero, false, fmt.Errorf("failed to read cached balance: %w", err)
	}
	return b, true, nil
}

func (s *Store) SetCachedBalance(ctx context.Context, id ledger.EntityID, b money.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cached_balances (entity_id, balance, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at
	`, id, b, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to write cached balance: %w", err)
	}
	return nil
}

func (s *Store) InvalidateBalance(ctx context.Context, id ledger.EntityID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cached_balances WHERE entity_id = ?`, id); err != nil {
		return fmt.Errorf("failed to invalidate cached balance: %w", err)
	}
	return nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears all data (for demo scenarios).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"ledger_entries", "cached_balances", "entities"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func requireOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
