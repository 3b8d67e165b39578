package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skintrade/pkg/types"
)

const (
	tradeSideOffered   = 0
	tradeSideRequested = 1
)

// CreateTrade persists a new PENDING offer and its item rows.
func (t *Tx) CreateTrade(o *types.TradeOffer) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO trades (from_user, to_user, offered_cash, requested_cash, status, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.FromUser, o.ToUser, o.OfferedCash.String(), o.RequestedCash.String(),
		string(o.Status), o.CreatedAt.Unix(), o.ExpiresAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("create trade: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	insert := func(side int, ids []int64) error {
		for _, inst := range ids {
			if _, err := t.tx.Exec(
				`INSERT INTO trade_items (trade_id, side, instance_id) VALUES (?, ?, ?)`,
				id, side, inst); err != nil {
				return fmt.Errorf("create trade items: %w", err)
			}
		}
		return nil
	}
	if err := insert(tradeSideOffered, o.Offered); err != nil {
		return 0, err
	}
	if err := insert(tradeSideRequested, o.Requested); err != nil {
		return 0, err
	}
	return id, nil
}

const tradeColumns = `id, from_user, to_user, offered_cash, requested_cash, status, created_at, expires_at`

func scanTrade(scan func(dest ...any) error) (*types.TradeOffer, error) {
	var (
		o                    types.TradeOffer
		offered, requested   string
		status               string
		createdAt, expiresAt int64
	)
	err := scan(&o.ID, &o.FromUser, &o.ToUser, &offered, &requested, &status, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	if o.OfferedCash, err = scanDecimal(offered); err != nil {
		return nil, err
	}
	if o.RequestedCash, err = scanDecimal(requested); err != nil {
		return nil, err
	}
	o.Status = types.TradeStatus(status)
	o.CreatedAt = unixTime(createdAt)
	o.ExpiresAt = unixTime(expiresAt)
	return &o, nil
}

type rowQuerier interface {
	QueryRow(query string, args ...any) *sql.Row
	Query(query string, args ...any) (*sql.Rows, error)
}

func loadTrade(q rowQuerier, id int64) (*types.TradeOffer, error) {
	o, err := scanTrade(q.QueryRow(`SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id).Scan)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(`SELECT side, instance_id FROM trade_items WHERE trade_id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("trade items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var side int
		var inst int64
		if err := rows.Scan(&side, &inst); err != nil {
			return nil, err
		}
		if side == tradeSideOffered {
			o.Offered = append(o.Offered, inst)
		} else {
			o.Requested = append(o.Requested, inst)
		}
	}
	return o, rows.Err()
}

type dbQuerier struct {
	ctx context.Context
	db  *sql.DB
}

func (q dbQuerier) QueryRow(query string, args ...any) *sql.Row {
	return q.db.QueryRowContext(q.ctx, query, args...)
}

func (q dbQuerier) Query(query string, args ...any) (*sql.Rows, error) {
	return q.db.QueryContext(q.ctx, query, args...)
}

// TradeByID loads one offer with its item lists.
func (s *Store) TradeByID(ctx context.Context, id int64) (*types.TradeOffer, error) {
	return loadTrade(dbQuerier{ctx, s.db}, id)
}

// TradeByID is the transactional variant used by accept.
func (t *Tx) TradeByID(id int64) (*types.TradeOffer, error) {
	return loadTrade(t.tx, id)
}

// UpdateTradeStatus performs the guarded one-shot transition from → to.
// ErrNotFound means the offer was missing or no longer in the from status.
func (t *Tx) UpdateTradeStatus(id int64, from, to types.TradeStatus) error {
	res, err := t.tx.Exec(
		`UPDATE trades SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("update trade status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveTradesFor returns all PENDING offers where the user is either side,
// most recent first.
func (s *Store) ActiveTradesFor(ctx context.Context, userID int64) ([]types.TradeOffer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM trades
		  WHERE status = ? AND (from_user = ? OR to_user = ?)
		  ORDER BY created_at DESC, id DESC`,
		string(types.TradePending), userID, userID)
	if err != nil {
		return nil, fmt.Errorf("active trades: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]types.TradeOffer, 0, len(ids))
	for _, id := range ids {
		o, err := s.TradeByID(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

// ExpirePendingTrades flips every PENDING offer past its deadline to
// EXPIRED. The guarded status predicate makes the flip exactly-once even if
// the reaper races an accept.
func (s *Store) ExpirePendingTrades(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE trades SET status = ? WHERE status = ? AND expires_at < ?`,
		string(types.TradeExpired), string(types.TradePending), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("expire trades: %w", err)
	}
	return res.RowsAffected()
}
