package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"skintrade/pkg/types"
)

// QuestByType reads one quest row inside the transaction. Returns nil (not
// ErrNotFound) when the user has no row yet, since absence is the normal
// first-progress case.
func (t *Tx) QuestByType(userID int64, qtype string) (*types.Quest, error) {
	var (
		q                types.Quest
		progress, target string
	)
	err := t.tx.QueryRow(
		`SELECT id, user_id, type, progress, target, completed, claimed
		   FROM quests WHERE user_id = ? AND type = ?`, userID, qtype).
		Scan(&q.ID, &q.UserID, &q.Type, &progress, &target, &q.Completed, &q.Claimed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quest by type: %w", err)
	}
	if q.Progress, err = scanDecimal(progress); err != nil {
		return nil, err
	}
	if q.Target, err = scanDecimal(target); err != nil {
		return nil, err
	}
	return &q, nil
}

// AdvanceQuest applies the read-check-insert pattern: create the row on
// first progress, otherwise accumulate, marking completion when the target
// is reached. Completion is latched; further progress never unsets it.
func (t *Tx) AdvanceQuest(userID int64, qtype string, delta, target decimal.Decimal) error {
	q, err := t.QuestByType(userID, qtype)
	if err != nil {
		return err
	}
	if q == nil {
		progress := delta
		completed := progress.GreaterThanOrEqual(target)
		_, err := t.tx.Exec(
			`INSERT INTO quests (user_id, type, progress, target, completed) VALUES (?, ?, ?, ?, ?)`,
			userID, qtype, progress.String(), target.String(), completed)
		if err != nil {
			return fmt.Errorf("insert quest: %w", err)
		}
		return nil
	}
	progress := q.Progress.Add(delta)
	completed := q.Completed || progress.GreaterThanOrEqual(q.Target)
	if _, err := t.tx.Exec(
		`UPDATE quests SET progress = ?, completed = ? WHERE id = ?`,
		progress.String(), completed, q.ID); err != nil {
		return fmt.Errorf("update quest: %w", err)
	}
	return nil
}

// QuestsFor lists a user's quest rows.
func (s *Store) QuestsFor(ctx context.Context, userID int64) ([]types.Quest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, progress, target, completed, claimed
		   FROM quests WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("quests for: %w", err)
	}
	defer rows.Close()

	var out []types.Quest
	for rows.Next() {
		var (
			q                types.Quest
			progress, target string
		)
		if err := rows.Scan(&q.ID, &q.UserID, &q.Type, &progress, &target, &q.Completed, &q.Claimed); err != nil {
			return nil, err
		}
		if q.Progress, err = scanDecimal(progress); err != nil {
			return nil, err
		}
		if q.Target, err = scanDecimal(target); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// UnlockAchievement latches a one-shot flag. Returns true only on the first
// unlock; the read-check-insert under the transaction makes a double unlock
// impossible.
func (t *Tx) UnlockAchievement(userID int64, atype string) (bool, error) {
	var unlocked bool
	err := t.tx.QueryRow(
		`SELECT unlocked FROM achievements WHERE user_id = ? AND type = ?`,
		userID, atype).Scan(&unlocked)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := t.tx.Exec(
			`INSERT INTO achievements (user_id, type, unlocked) VALUES (?, ?, 1)`,
			userID, atype); err != nil {
			return false, fmt.Errorf("insert achievement: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("achievement lookup: %w", err)
	case unlocked:
		return false, nil
	default:
		if _, err := t.tx.Exec(
			`UPDATE achievements SET unlocked = 1 WHERE user_id = ? AND type = ?`,
			userID, atype); err != nil {
			return false, fmt.Errorf("update achievement: %w", err)
		}
		return true, nil
	}
}

// AchievementsFor lists a user's achievement rows.
func (s *Store) AchievementsFor(ctx context.Context, userID int64) ([]types.Achievement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, type, unlocked, claimed FROM achievements WHERE user_id = ? ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("achievements for: %w", err)
	}
	defer rows.Close()

	var out []types.Achievement
	for rows.Next() {
		var a types.Achievement
		if err := rows.Scan(&a.ID, &a.UserID, &a.Type, &a.Unlocked, &a.Claimed); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoginStreakFor reads a user's streak row; nil if they have never logged in.
func (t *Tx) LoginStreakFor(userID int64) (*types.LoginStreak, error) {
	var ls types.LoginStreak
	err := t.tx.QueryRow(
		`SELECT user_id, streak, last_login_date, last_reward_date FROM login_streaks WHERE user_id = ?`,
		userID).Scan(&ls.UserID, &ls.Streak, &ls.LastLoginDate, &ls.LastRewardDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("login streak: %w", err)
	}
	return &ls, nil
}

// UpsertLoginStreak writes the full streak row.
func (t *Tx) UpsertLoginStreak(ls *types.LoginStreak) error {
	_, err := t.tx.Exec(
		`INSERT INTO login_streaks (user_id, streak, last_login_date, last_reward_date)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   streak = excluded.streak,
		   last_login_date = excluded.last_login_date,
		   last_reward_date = excluded.last_reward_date`,
		ls.UserID, ls.Streak, ls.LastLoginDate, ls.LastRewardDate)
	if err != nil {
		return fmt.Errorf("upsert streak: %w", err)
	}
	return nil
}

// LoginStreakFor is the read-only variant outside a transaction.
func (s *Store) LoginStreakFor(ctx context.Context, userID int64) (*types.LoginStreak, error) {
	var ls types.LoginStreak
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, streak, last_login_date, last_reward_date FROM login_streaks WHERE user_id = ?`,
		userID).Scan(&ls.UserID, &ls.Streak, &ls.LastLoginDate, &ls.LastRewardDate)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("login streak: %w", err)
	}
	return &ls, nil
}
