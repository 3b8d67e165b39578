// Package hooks implements the derived-state side effects fired by the
// transactional core ops: quest progress, achievements, login streaks,
// price history, chat persistence and reports.
//
// Hook methods run after the triggering operation has committed, outside
// its critical section. Their own mutations use a transaction with a
// read-then-check-then-insert pattern so one-shot flags cannot unlock
// twice. A failed hook is logged, never propagated: the core op already
// succeeded.
package hooks

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/internal/store"
	"skintrade/pkg/types"
)

// Quest and achievement type keys.
const (
	QuestLuckyGambler = "lucky_gambler" // cases opened
	QuestProfitMaker  = "profit_maker"  // cumulative unbox profit
	QuestFirstSteps   = "first_steps"   // trades completed
	QuestSocialTrader = "social_trader" // trades completed, long haul

	AchievementFirstKnife = "first_knife" // first Contraband drop
	AchievementFirstTrade = "first_trade" // first accepted trade
)

var questTargets = map[string]decimal.Decimal{
	QuestLuckyGambler: decimal.NewFromInt(10),
	QuestProfitMaker:  decimal.NewFromInt(1000),
	QuestFirstSteps:   decimal.NewFromInt(1),
	QuestSocialTrader: decimal.NewFromInt(10),
}

// reportThreshold is the open-report count that triggers a moderation
// warning broadcast.
const reportThreshold = 5

// dailyRewardUnit is multiplied by the current streak for a claim.
var dailyRewardUnit = decimal.NewFromInt(5)

// Broadcaster pushes events to the observer feed. The live hub satisfies
// it; nil disables broadcasting.
type Broadcaster interface {
	Broadcast(evtType string, data any)
}

// Hooks wires the side-effect handlers.
type Hooks struct {
	store  *store.Store
	feed   Broadcaster
	now    func() time.Time
	logger *slog.Logger
}

// New builds the hook set. feed may be nil.
func New(st *store.Store, feed Broadcaster, logger *slog.Logger) *Hooks {
	return &Hooks{
		store:  st,
		feed:   feed,
		now:    time.Now,
		logger: logger.With("component", "hooks"),
	}
}

// SetClock overrides the time source (tests).
func (h *Hooks) SetClock(now func() time.Time) { h.now = now }

func (h *Hooks) broadcast(evtType string, data any) {
	if h.feed != nil {
		h.feed.Broadcast(evtType, data)
	}
}

// OnCaseOpened advances the gambling quests, unlocks the knife achievement
// on a Contraband drop and announces rare pulls.
func (h *Hooks) OnCaseOpened(ctx context.Context, userID int64, inst *types.SkinInstance, value, cost decimal.Decimal) {
	err := h.store.WithTx(ctx, func(t *store.Tx) error {
		if err := t.AdvanceQuest(userID, QuestLuckyGambler, decimal.NewFromInt(1), questTargets[QuestLuckyGambler]); err != nil {
			return err
		}
		if profit := value.Sub(cost); profit.IsPositive() {
			if err := t.AdvanceQuest(userID, QuestProfitMaker, profit, questTargets[QuestProfitMaker]); err != nil {
				return err
			}
		}
		if inst.Rarity == types.RarityContraband {
			if _, err := t.UnlockAchievement(userID, AchievementFirstKnife); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.logger.Error("case-open hook failed", "user_id", userID, "error", err)
	}

	if inst.Rarity >= types.RarityCovert {
		text := "rare drop: " + inst.Name + " (" + inst.Rarity.String() + ")"
		if _, err := h.store.InsertChat(ctx, 0, text, h.now()); err != nil {
			h.logger.Error("rare-drop chat persist failed", "error", err)
		}
		h.broadcast("drop", DropEventFor(userID, inst))
	}
}

// DropEventFor shapes a rare-pull announcement.
func DropEventFor(userID int64, inst *types.SkinInstance) map[string]any {
	return map[string]any{
		"user_id":     userID,
		"instance_id": inst.ID,
		"skin_name":   inst.Name,
		"rarity":      inst.Rarity.String(),
		"wear":        inst.Wear,
		"stattrak":    inst.StatTrak,
	}
}

// OnTradeAccepted advances the trading quests and unlocks the first-trade
// achievement for both sides.
func (h *Hooks) OnTradeAccepted(ctx context.Context, offer *types.TradeOffer) {
	one := decimal.NewFromInt(1)
	err := h.store.WithTx(ctx, func(t *store.Tx) error {
		for _, userID := range []int64{offer.FromUser, offer.ToUser} {
			if err := t.AdvanceQuest(userID, QuestFirstSteps, one, questTargets[QuestFirstSteps]); err != nil {
				return err
			}
			if err := t.AdvanceQuest(userID, QuestSocialTrader, one, questTargets[QuestSocialTrader]); err != nil {
				return err
			}
			if _, err := t.UnlockAchievement(userID, AchievementFirstTrade); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		h.logger.Error("trade hook failed", "trade_id", offer.ID, "error", err)
	}
}

// OnMarketSale records both legs of a completed sale in the price history.
func (h *Hooks) OnMarketSale(ctx context.Context, definitionID int64, price decimal.Decimal) {
	now := h.now()
	err := h.store.WithTx(ctx, func(t *store.Tx) error {
		if err := t.InsertPriceHistory(definitionID, 0, price, now); err != nil {
			return err
		}
		return t.InsertPriceHistory(definitionID, 1, price, now)
	})
	if err != nil {
		h.logger.Error("price-history hook failed", "definition_id", definitionID, "error", err)
	}
}

// OnLogin advances the login streak: consecutive days roll forward,
// wrapping from 7 back to 1; a gap of more than one day resets to 1; a
// second login on the same day is a no-op.
func (h *Hooks) OnLogin(ctx context.Context, userID int64, at time.Time) {
	today := at.UTC().Format(time.DateOnly)
	err := h.store.WithTx(ctx, func(t *store.Tx) error {
		ls, err := t.LoginStreakFor(userID)
		if err != nil {
			return err
		}
		if ls == nil {
			return t.UpsertLoginStreak(&types.LoginStreak{
				UserID:        userID,
				Streak:        1,
				LastLoginDate: today,
			})
		}
		if ls.LastLoginDate == today {
			return nil
		}
		if ls.LastLoginDate == at.UTC().AddDate(0, 0, -1).Format(time.DateOnly) {
			ls.Streak++
			if ls.Streak > 7 {
				ls.Streak = 1
			}
		} else {
			ls.Streak = 1
		}
		ls.LastLoginDate = today
		return t.UpsertLoginStreak(ls)
	})
	if err != nil {
		h.logger.Error("login streak hook failed", "user_id", userID, "error", err)
	}
}

// ClaimDailyReward credits the streak reward once per calendar day. The
// claim is idempotent: a second claim on the same date returns the zero
// amount with no balance change.
func (h *Hooks) ClaimDailyReward(ctx context.Context, userID int64) (decimal.Decimal, error) {
	today := h.now().UTC().Format(time.DateOnly)
	reward := decimal.Zero
	err := h.store.WithTx(ctx, func(t *store.Tx) error {
		ls, err := t.LoginStreakFor(userID)
		if err != nil {
			return err
		}
		if ls == nil || ls.LastRewardDate == today {
			return nil
		}
		reward = dailyRewardUnit.Mul(decimal.NewFromInt(int64(ls.Streak)))
		if _, err := t.AdjustBalance(userID, reward); err != nil {
			return err
		}
		if err := t.LogTransaction(userID, "daily_reward", reward, 0, h.now()); err != nil {
			return err
		}
		ls.LastRewardDate = today
		return t.UpsertLoginStreak(ls)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return reward, nil
}

// Chat persists a chat line and broadcasts it to observers.
func (h *Hooks) Chat(ctx context.Context, userID int64, text string) error {
	if _, err := h.store.InsertChat(ctx, userID, text, h.now()); err != nil {
		return err
	}
	h.broadcast("chat", map[string]any{"user_id": userID, "text": text})
	return nil
}

// Report files a report; crossing the open-report threshold logs and
// broadcasts a moderation warning.
func (h *Hooks) Report(ctx context.Context, reporterID, reportedID int64, reason string) error {
	if _, err := h.store.InsertReport(ctx, reporterID, reportedID, reason, h.now()); err != nil {
		return err
	}
	n, err := h.store.OpenReportCount(ctx, reportedID)
	if err != nil {
		return err
	}
	if n >= reportThreshold {
		h.logger.Warn("user over report threshold", "user_id", reportedID, "open_reports", n)
		h.broadcast("warning", map[string]any{"user_id": reportedID, "open_reports": n})
	}
	return nil
}
