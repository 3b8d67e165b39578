// Package store provides SQLite persistence for every domain entity.
//
// One process-wide *sql.DB pinned to a single connection backs all state.
// The three critical operations (case open, market buy, trade accept) run
// their multi-row writes inside an explicit transaction via Begin/WithTx;
// pinning to one connection guarantees a transaction stays on the
// connection that began it. Hot-path inserts use prepared statements,
// rebound to the active transaction with tx.Stmt.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a lookup matches no row, and by guarded
	// updates whose precondition no longer holds.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when an insert violates a uniqueness rule.
	ErrDuplicate = errors.New("store: duplicate")
)

// Store is the process-wide persistence handle.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// Prepared statements for the hottest write paths.
	stmtInsertInstance *sql.Stmt
	stmtAddInventory   *sql.Stmt
	stmtRemInventory   *sql.Stmt
	stmtSetOwner       *sql.Stmt
	stmtSetBalance     *sql.Stmt
	stmtLogTransaction *sql.Stmt
}

// Open opens (creating if needed) the database at path, migrates the schema
// and seeds the static multiplier tables and the default catalog.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: transactions serialize and stay pinned from begin to
	// commit.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: logger.With("component", "store")}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	if err := s.prepare(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func (s *Store) prepare() error {
	var err error
	if s.stmtInsertInstance, err = s.db.Prepare(
		`INSERT INTO skin_instances (definition_id, rarity, wear, pattern_seed, stattrak, owner_id, acquired_at, tradable)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`); err != nil {
		return err
	}
	if s.stmtAddInventory, err = s.db.Prepare(
		`INSERT INTO inventory (user_id, instance_id) VALUES (?, ?)`); err != nil {
		return err
	}
	if s.stmtRemInventory, err = s.db.Prepare(
		`DELETE FROM inventory WHERE user_id = ? AND instance_id = ?`); err != nil {
		return err
	}
	if s.stmtSetOwner, err = s.db.Prepare(
		`UPDATE skin_instances SET owner_id = ? WHERE id = ?`); err != nil {
		return err
	}
	if s.stmtSetBalance, err = s.db.Prepare(
		`UPDATE users SET balance = ? WHERE id = ?`); err != nil {
		return err
	}
	if s.stmtLogTransaction, err = s.db.Prepare(
		`INSERT INTO transaction_logs (user_id, kind, amount, ref_id, logged_at) VALUES (?, ?, ?, ?, ?)`); err != nil {
		return err
	}
	return nil
}

// Close releases the prepared statements and the underlying database.
func (s *Store) Close() error {
	for _, st := range []*sql.Stmt{
		s.stmtInsertInstance, s.stmtAddInventory, s.stmtRemInventory,
		s.stmtSetOwner, s.stmtSetBalance, s.stmtLogTransaction,
	} {
		if st != nil {
			_ = st.Close()
		}
	}
	return s.db.Close()
}

// Tx wraps one explicit transaction and exposes the domain write methods.
type Tx struct {
	tx *sql.Tx
	s  *Store
}

// Begin starts an explicit transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &Tx{tx: tx, s: s}, nil
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error. Every all-or-nothing domain operation goes through
// here.
func (s *Store) WithTx(ctx context.Context, fn func(*Tx) error) error {
	t, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(t); err != nil {
		if rbErr := t.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	return t.Commit()
}

// isConstraintErr reports whether err is a SQLite uniqueness/constraint
// violation.
func isConstraintErr(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// scanDecimal parses a TEXT money column.
func scanDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("bad decimal column %q: %w", s, err)
	}
	return d, nil
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
