package hooks

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/internal/store"
	"skintrade/pkg/types"
)

// feedRecorder captures broadcast events in place of the live hub.
type feedRecorder struct {
	mu     sync.Mutex
	events []string
}

func (f *feedRecorder) Broadcast(evtType string, _ any) {
	f.mu.Lock()
	f.events = append(f.events, evtType)
	f.mu.Unlock()
}

func (f *feedRecorder) count(evtType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == evtType {
			n++
		}
	}
	return n
}

func newTestHooks(t *testing.T) (*Hooks, *store.Store, *feedRecorder) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"), logger)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	feed := &feedRecorder{}
	return New(st, feed, logger), st, feed
}

func mustUser(t *testing.T, st *store.Store, name string) int64 {
	t.Helper()
	id, err := st.CreateUser(context.Background(), name, "digest", decimal.NewFromInt(100), time.Now())
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return id
}

func streak(t *testing.T, st *store.Store, userID int64) *types.LoginStreak {
	t.Helper()
	ls, err := st.LoginStreakFor(context.Background(), userID)
	if err != nil {
		t.Fatalf("LoginStreakFor: %v", err)
	}
	if ls == nil {
		t.Fatal("no streak row")
	}
	return ls
}

func TestLoginStreakAdvanceWrapAndReset(t *testing.T) {
	t.Parallel()
	h, st, _ := newTestHooks(t)
	ctx := context.Background()
	userID := mustUser(t, st, "alice")

	day0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	// First login starts at 1.
	h.OnLogin(ctx, userID, day0)
	if got := streak(t, st, userID).Streak; got != 1 {
		t.Fatalf("streak = %d, want 1", got)
	}

	// A second login the same day is a no-op.
	h.OnLogin(ctx, userID, day0.Add(5*time.Hour))
	if got := streak(t, st, userID).Streak; got != 1 {
		t.Fatalf("streak = %d after same-day login, want 1", got)
	}

	// Seven consecutive days reach 7, the eighth wraps to 1.
	for i := 1; i <= 6; i++ {
		h.OnLogin(ctx, userID, day0.AddDate(0, 0, i))
	}
	if got := streak(t, st, userID).Streak; got != 7 {
		t.Fatalf("streak = %d after 7 consecutive days, want 7", got)
	}
	h.OnLogin(ctx, userID, day0.AddDate(0, 0, 7))
	if got := streak(t, st, userID).Streak; got != 1 {
		t.Fatalf("streak = %d after wrap, want 1", got)
	}

	// A gap of more than one day resets.
	h.OnLogin(ctx, userID, day0.AddDate(0, 0, 8))
	h.OnLogin(ctx, userID, day0.AddDate(0, 0, 9))
	if got := streak(t, st, userID).Streak; got != 3 {
		t.Fatalf("streak = %d, want 3", got)
	}
	h.OnLogin(ctx, userID, day0.AddDate(0, 0, 12))
	if got := streak(t, st, userID).Streak; got != 1 {
		t.Fatalf("streak = %d after gap, want 1", got)
	}
}

func TestClaimDailyRewardIdempotent(t *testing.T) {
	t.Parallel()
	h, st, _ := newTestHooks(t)
	ctx := context.Background()
	userID := mustUser(t, st, "alice")

	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	h.SetClock(func() time.Time { return now })

	h.OnLogin(ctx, userID, now.AddDate(0, 0, -1))
	h.OnLogin(ctx, userID, now) // streak 2

	reward, err := h.ClaimDailyReward(ctx, userID)
	if err != nil {
		t.Fatalf("ClaimDailyReward: %v", err)
	}
	if !reward.Equal(decimal.NewFromInt(10)) { // 5 × streak 2
		t.Fatalf("reward = %s, want 10", reward)
	}

	// A second claim the same day pays nothing.
	again, err := h.ClaimDailyReward(ctx, userID)
	if err != nil {
		t.Fatalf("second ClaimDailyReward: %v", err)
	}
	if !again.IsZero() {
		t.Fatalf("second reward = %s, want 0", again)
	}

	u, err := st.UserByID(ctx, userID)
	if err != nil {
		t.Fatalf("UserByID: %v", err)
	}
	if !u.Balance.Equal(decimal.NewFromInt(110)) {
		t.Fatalf("balance = %s, want 110 (credited once)", u.Balance)
	}

	// The next day the claim opens again.
	now = now.AddDate(0, 0, 1)
	h.OnLogin(ctx, userID, now) // streak 3
	reward, err = h.ClaimDailyReward(ctx, userID)
	if err != nil {
		t.Fatalf("next-day ClaimDailyReward: %v", err)
	}
	if !reward.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("next-day reward = %s, want 15", reward)
	}
}

func TestOnCaseOpenedQuestsAndDrops(t *testing.T) {
	t.Parallel()
	h, st, feed := newTestHooks(t)
	ctx := context.Background()
	userID := mustUser(t, st, "alice")

	plain := &types.SkinInstance{ID: 1, Name: "P250 | Supernova", Rarity: types.RarityMilSpec}
	for i := 0; i < 10; i++ {
		h.OnCaseOpened(ctx, userID, plain, decimal.NewFromInt(2), decimal.NewFromInt(10))
	}

	qs, err := st.QuestsFor(ctx, userID)
	if err != nil {
		t.Fatalf("QuestsFor: %v", err)
	}
	byType := make(map[string]types.Quest, len(qs))
	for _, q := range qs {
		byType[q.Type] = q
	}
	lucky, ok := byType[QuestLuckyGambler]
	if !ok || !lucky.Completed || !lucky.Progress.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("lucky_gambler = %+v, want completed at 10", lucky)
	}
	// Every open lost money, so no profit progress exists.
	if _, ok := byType[QuestProfitMaker]; ok {
		t.Fatal("profit_maker advanced on a losing open")
	}

	// A profitable open advances profit_maker by the margin.
	h.OnCaseOpened(ctx, userID, plain, decimal.NewFromInt(60), decimal.NewFromInt(10))
	qs, err = st.QuestsFor(ctx, userID)
	if err != nil {
		t.Fatalf("QuestsFor: %v", err)
	}
	found := false
	for _, q := range qs {
		if q.Type == QuestProfitMaker {
			found = true
			if !q.Progress.Equal(decimal.NewFromInt(50)) {
				t.Fatalf("profit_maker progress = %s, want 50", q.Progress)
			}
		}
	}
	if !found {
		t.Fatal("profit_maker row missing after a profitable open")
	}

	// Mil-Spec pulls stay quiet.
	if n := feed.count("drop"); n != 0 {
		t.Fatalf("drop events = %d for plain pulls, want 0", n)
	}

	// A Contraband pull unlocks the knife achievement and announces itself.
	knife := &types.SkinInstance{ID: 2, Name: "Butterfly Knife | Fade", Rarity: types.RarityContraband}
	h.OnCaseOpened(ctx, userID, knife, decimal.NewFromInt(1800), decimal.NewFromInt(10))

	as, err := st.AchievementsFor(ctx, userID)
	if err != nil {
		t.Fatalf("AchievementsFor: %v", err)
	}
	if len(as) != 1 || as[0].Type != AchievementFirstKnife || !as[0].Unlocked {
		t.Fatalf("achievements = %+v, want first_knife unlocked", as)
	}
	if n := feed.count("drop"); n != 1 {
		t.Fatalf("drop events = %d, want 1", n)
	}
	ms, err := st.RecentChat(ctx, 10)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	if len(ms) != 1 || ms[0].UserID != 0 {
		t.Fatalf("chat = %+v, want one system announcement", ms)
	}
}

func TestOnTradeAcceptedBothSides(t *testing.T) {
	t.Parallel()
	h, st, _ := newTestHooks(t)
	ctx := context.Background()
	alice := mustUser(t, st, "alice")
	bob := mustUser(t, st, "bob")

	offer := &types.TradeOffer{ID: 1, FromUser: alice, ToUser: bob}
	h.OnTradeAccepted(ctx, offer)
	h.OnTradeAccepted(ctx, offer)

	for _, userID := range []int64{alice, bob} {
		as, err := st.AchievementsFor(ctx, userID)
		if err != nil {
			t.Fatalf("AchievementsFor: %v", err)
		}
		if len(as) != 1 || as[0].Type != AchievementFirstTrade {
			t.Fatalf("user %d achievements = %+v, want one first_trade", userID, as)
		}

		qs, err := st.QuestsFor(ctx, userID)
		if err != nil {
			t.Fatalf("QuestsFor: %v", err)
		}
		byType := make(map[string]types.Quest, len(qs))
		for _, q := range qs {
			byType[q.Type] = q
		}
		if q := byType[QuestFirstSteps]; !q.Completed {
			t.Fatalf("user %d first_steps = %+v, want completed", userID, q)
		}
		if q := byType[QuestSocialTrader]; !q.Progress.Equal(decimal.NewFromInt(2)) {
			t.Fatalf("user %d social_trader progress = %s, want 2", userID, q.Progress)
		}
	}
}

func TestOnMarketSaleWritesBothLegs(t *testing.T) {
	t.Parallel()
	h, st, _ := newTestHooks(t)
	ctx := context.Background()

	h.OnMarketSale(ctx, 1, decimal.RequireFromString("12.50"))

	es, err := st.PriceHistoryFor(ctx, 1)
	if err != nil {
		t.Fatalf("PriceHistoryFor: %v", err)
	}
	if len(es) != 2 {
		t.Fatalf("price history rows = %d, want 2", len(es))
	}
	sides := map[int]bool{}
	for _, e := range es {
		sides[e.Side] = true
		if !e.Price.Equal(decimal.RequireFromString("12.50")) {
			t.Fatalf("price = %s, want 12.50", e.Price)
		}
	}
	if !sides[0] || !sides[1] {
		t.Fatalf("sides = %v, want both legs", sides)
	}
}

func TestReportThresholdWarning(t *testing.T) {
	t.Parallel()
	h, st, feed := newTestHooks(t)
	ctx := context.Background()

	reported := mustUser(t, st, "griefer")
	for i := 0; i < 5; i++ {
		reporter := mustUser(t, st, "reporter"+string(rune('a'+i)))
		if err := h.Report(ctx, reporter, reported, "scam attempt"); err != nil {
			t.Fatalf("Report: %v", err)
		}
	}

	if n := feed.count("warning"); n != 1 {
		t.Fatalf("warning events = %d, want 1 at the fifth open report", n)
	}
	n, err := st.OpenReportCount(ctx, reported)
	if err != nil {
		t.Fatalf("OpenReportCount: %v", err)
	}
	if n != 5 {
		t.Fatalf("open reports = %d, want 5", n)
	}
}

func TestChatPersistsAndBroadcasts(t *testing.T) {
	t.Parallel()
	h, st, feed := newTestHooks(t)
	ctx := context.Background()
	userID := mustUser(t, st, "alice")

	if err := h.Chat(ctx, userID, "anyone selling a Cyrex?"); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	ms, err := st.RecentChat(ctx, 10)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	if len(ms) != 1 || ms[0].UserID != userID {
		t.Fatalf("chat = %+v", ms)
	}
	if n := feed.count("chat"); n != 1 {
		t.Fatalf("chat events = %d, want 1", n)
	}
}
