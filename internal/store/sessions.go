package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"skintrade/pkg/types"
)

// InsertSession persists a freshly-issued session.
func (s *Store) InsertSession(ctx context.Context, sess *types.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (token, user_id, login_time, last_activity, active)
		 VALUES (?, ?, ?, ?, ?)`,
		sess.Token, sess.UserID, sess.LoginTime.Unix(), sess.LastActivity.Unix(), sess.Active)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// SessionByToken loads one session.
func (s *Store) SessionByToken(ctx context.Context, token string) (*types.Session, error) {
	var (
		sess                    types.Session
		loginTime, lastActivity int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT token, user_id, login_time, last_activity, active FROM sessions WHERE token = ?`,
		token).Scan(&sess.Token, &sess.UserID, &loginTime, &lastActivity, &sess.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session by token: %w", err)
	}
	sess.LoginTime = unixTime(loginTime)
	sess.LastActivity = unixTime(lastActivity)
	return &sess, nil
}

// TouchSession advances the last-activity clock.
func (s *Store) TouchSession(ctx context.Context, token string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_activity = ? WHERE token = ?`, at.Unix(), token)
	return err
}

// DeleteSession removes the session row (logout).
func (s *Store) DeleteSession(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
