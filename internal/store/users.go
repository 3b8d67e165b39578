package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/pkg/types"
)

const userColumns = `id, username, password_digest, balance, created_at, last_login, banned`

func scanUser(row *sql.Row) (*types.User, error) {
	var (
		u                    types.User
		balance              string
		createdAt, lastLogin int64
	)
	err := row.Scan(&u.ID, &u.Username, &u.PasswordDigest, &balance, &createdAt, &lastLogin, &u.Banned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if u.Balance, err = scanDecimal(balance); err != nil {
		return nil, err
	}
	u.CreatedAt = unixTime(createdAt)
	u.LastLogin = unixTime(lastLogin)
	return &u, nil
}

// CreateUser inserts a new account. Returns ErrDuplicate when the username
// is taken.
func (s *Store) CreateUser(ctx context.Context, username, digest string, balance decimal.Decimal, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (username, password_digest, balance, created_at) VALUES (?, ?, ?, ?)`,
		username, digest, balance.String(), at.Unix())
	if err != nil {
		if isConstraintErr(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return res.LastInsertId()
}

// UserByID loads one user.
func (s *Store) UserByID(ctx context.Context, id int64) (*types.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// UserByName loads one user by exact (case-sensitive) username.
func (s *Store) UserByName(ctx context.Context, username string) (*types.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = ?`, username))
}

// SearchUsers returns up to 50 users whose name contains term,
// alphabetically. Digests are not populated.
func (s *Store) SearchUsers(ctx context.Context, term string) ([]types.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, username, created_at, banned FROM users
		 WHERE username LIKE ? ORDER BY username LIMIT 50`,
		"%"+term+"%")
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	defer rows.Close()

	var out []types.User
	for rows.Next() {
		var (
			u         types.User
			createdAt int64
		)
		if err := rows.Scan(&u.ID, &u.Username, &createdAt, &u.Banned); err != nil {
			return nil, fmt.Errorf("search users: %w", err)
		}
		u.CreatedAt = unixTime(createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

// UpdateLastLogin stamps a successful login.
func (s *Store) UpdateLastLogin(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login = ? WHERE id = ?`, at.Unix(), id)
	return err
}

// UserByID reads a user inside the transaction, so balance checks see any
// earlier writes of the same transaction.
func (t *Tx) UserByID(id int64) (*types.User, error) {
	return scanUser(t.tx.QueryRow(
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
}

// SetBalance writes a user's balance. Negative balances are a programming
// error upstream and rejected here as a last line of defense for the
// non-negativity invariant.
func (t *Tx) SetBalance(id int64, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("set balance: negative balance %s for user %d", balance, id)
	}
	res, err := t.tx.Stmt(t.s.stmtSetBalance).Exec(balance.String(), id)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustBalance applies a signed delta to a user's balance, reading the
// current value inside the transaction first.
func (t *Tx) AdjustBalance(id int64, delta decimal.Decimal) (decimal.Decimal, error) {
	u, err := t.UserByID(id)
	if err != nil {
		return decimal.Zero, err
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return decimal.Zero, fmt.Errorf("adjust balance: user %d would go negative (%s + %s)", id, u.Balance, delta)
	}
	return next, t.SetBalance(id, next)
}
