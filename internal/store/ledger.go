package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/pkg/types"
)

// LogTransaction appends one ledger row. Amount is signed from the user's
// perspective; the dedicated decimal column means downstream reporting
// never parses amounts out of free-form text.
func (t *Tx) LogTransaction(userID int64, kind string, amount decimal.Decimal, refID int64, at time.Time) error {
	if _, err := t.tx.Stmt(t.s.stmtLogTransaction).Exec(
		userID, kind, amount.String(), refID, at.Unix()); err != nil {
		return fmt.Errorf("log transaction: %w", err)
	}
	return nil
}

// TransactionsFor lists a user's ledger rows, newest first.
func (s *Store) TransactionsFor(ctx context.Context, userID int64) ([]types.TransactionLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, kind, amount, ref_id, logged_at
		   FROM transaction_logs WHERE user_id = ? ORDER BY id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("transactions for: %w", err)
	}
	defer rows.Close()

	var out []types.TransactionLog
	for rows.Next() {
		var (
			l        types.TransactionLog
			amount   string
			loggedAt int64
		)
		if err := rows.Scan(&l.ID, &l.UserID, &l.Kind, &amount, &l.RefID, &loggedAt); err != nil {
			return nil, err
		}
		if l.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}
		l.LoggedAt = unixTime(loggedAt)
		out = append(out, l)
	}
	return out, rows.Err()
}

// InsertPriceHistory records one side of a completed sale.
func (t *Tx) InsertPriceHistory(definitionID int64, side int, price decimal.Decimal, at time.Time) error {
	if _, err := t.tx.Exec(
		`INSERT INTO price_history (definition_id, side, price, recorded_at) VALUES (?, ?, ?, ?)`,
		definitionID, side, price.String(), at.Unix()); err != nil {
		return fmt.Errorf("insert price history: %w", err)
	}
	return nil
}

// PriceHistoryFor returns a definition's recorded sale legs, oldest first.
func (s *Store) PriceHistoryFor(ctx context.Context, definitionID int64) ([]types.PriceHistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, definition_id, side, price, recorded_at
		   FROM price_history WHERE definition_id = ? ORDER BY id`, definitionID)
	if err != nil {
		return nil, fmt.Errorf("price history: %w", err)
	}
	defer rows.Close()

	var out []types.PriceHistoryEntry
	for rows.Next() {
		var (
			e          types.PriceHistoryEntry
			price      string
			recordedAt int64
		)
		if err := rows.Scan(&e.ID, &e.DefinitionID, &e.Side, &price, &recordedAt); err != nil {
			return nil, err
		}
		if e.Price, err = scanDecimal(price); err != nil {
			return nil, err
		}
		e.RecordedAt = unixTime(recordedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// InsertChat persists a chat line. userID 0 marks system announcements.
func (s *Store) InsertChat(ctx context.Context, userID int64, text string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_messages (user_id, text, sent_at) VALUES (?, ?, ?)`,
		userID, text, at.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert chat: %w", err)
	}
	return res.LastInsertId()
}

// RecentChat returns the latest n chat lines, oldest first.
func (s *Store) RecentChat(ctx context.Context, n int) ([]types.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, text, sent_at FROM
		   (SELECT id, user_id, text, sent_at FROM chat_messages ORDER BY id DESC LIMIT ?)
		 ORDER BY id`, n)
	if err != nil {
		return nil, fmt.Errorf("recent chat: %w", err)
	}
	defer rows.Close()

	var out []types.ChatMessage
	for rows.Next() {
		var (
			m      types.ChatMessage
			sentAt int64
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Text, &sentAt); err != nil {
			return nil, err
		}
		m.SentAt = unixTime(sentAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// InsertReport files a report against a user.
func (s *Store) InsertReport(ctx context.Context, reporterID, reportedID int64, reason string, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (reporter_id, reported_id, reason, open, filed_at) VALUES (?, ?, ?, 1, ?)`,
		reporterID, reportedID, reason, at.Unix())
	if err != nil {
		return 0, fmt.Errorf("insert report: %w", err)
	}
	return res.LastInsertId()
}

// OpenReportCount counts a user's open reports.
func (s *Store) OpenReportCount(ctx context.Context, reportedID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reports WHERE reported_id = ? AND open = 1`, reportedID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("open report count: %w", err)
	}
	return n, nil
}
