package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/pkg/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustUser(t *testing.T, st *Store, name string) int64 {
	t.Helper()
	id, err := st.CreateUser(context.Background(), name, "digest", decimal.NewFromInt(100), time.Now())
	if err != nil {
		t.Fatalf("CreateUser(%s): %v", name, err)
	}
	return id
}

// mintInstance inserts an instance of seeded definition 1 and puts it in
// the owner's inventory.
func mintInstance(t *testing.T, st *Store, ownerID int64, tradable bool, acquiredAt time.Time) int64 {
	t.Helper()
	var id int64
	err := st.WithTx(context.Background(), func(tx *Tx) error {
		var err error
		id, err = tx.InsertInstance(&types.SkinInstance{
			DefinitionID: 1,
			Rarity:       types.RarityMilSpec,
			Wear:         0.12,
			PatternSeed:  7,
			OwnerID:      ownerID,
			AcquiredAt:   acquiredAt,
			Tradable:     tradable,
		})
		if err != nil {
			return err
		}
		return tx.AddInventory(ownerID, id)
	})
	if err != nil {
		t.Fatalf("mint instance: %v", err)
	}
	return id
}

func TestCreateUserDuplicate(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	mustUser(t, st, "alice")
	_, err := st.CreateUser(context.Background(), "alice", "other", decimal.Zero, time.Now())
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestActiveListingUniquePerInstance(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	seller := mustUser(t, st, "seller")
	instID := mintInstance(t, st, seller, true, time.Now())

	list := func() error {
		return st.WithTx(ctx, func(tx *Tx) error {
			_, err := tx.CreateListing(&types.MarketListing{
				SellerID:   seller,
				InstanceID: instID,
				Price:      decimal.NewFromInt(10),
				ListedAt:   time.Now(),
			})
			return err
		})
	}
	if err := list(); err != nil {
		t.Fatalf("first listing: %v", err)
	}
	if err := list(); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second listing err = %v, want ErrDuplicate", err)
	}
}

func TestMarkListingSoldIsOneShot(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	seller := mustUser(t, st, "seller")
	instID := mintInstance(t, st, seller, true, time.Now())

	var listingID int64
	err := st.WithTx(ctx, func(tx *Tx) error {
		var err error
		listingID, err = tx.CreateListing(&types.MarketListing{
			SellerID: seller, InstanceID: instID,
			Price: decimal.NewFromInt(5), ListedAt: time.Now(),
		})
		return err
	})
	if err != nil {
		t.Fatalf("CreateListing: %v", err)
	}

	if err := st.WithTx(ctx, func(tx *Tx) error { return tx.MarkListingSold(listingID) }); err != nil {
		t.Fatalf("first MarkListingSold: %v", err)
	}
	err = st.WithTx(ctx, func(tx *Tx) error { return tx.MarkListingSold(listingID) })
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second MarkListingSold err = %v, want ErrNotFound", err)
	}
}

func TestUpdateTradeStatusGuard(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	from := mustUser(t, st, "from")
	to := mustUser(t, st, "to")
	instID := mintInstance(t, st, from, true, time.Now())

	var tradeID int64
	err := st.WithTx(ctx, func(tx *Tx) error {
		var err error
		tradeID, err = tx.CreateTrade(&types.TradeOffer{
			FromUser: from, ToUser: to,
			Offered:     []int64{instID},
			OfferedCash: decimal.Zero, RequestedCash: decimal.Zero,
			Status:    types.TradePending,
			CreatedAt: time.Now(), ExpiresAt: time.Now().Add(time.Minute),
		})
		return err
	})
	if err != nil {
		t.Fatalf("CreateTrade: %v", err)
	}

	if err := st.WithTx(ctx, func(tx *Tx) error {
		return tx.UpdateTradeStatus(tradeID, types.TradePending, types.TradeAccepted)
	}); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	// The losing side of a race sees its precondition gone.
	err = st.WithTx(ctx, func(tx *Tx) error {
		return tx.UpdateTradeStatus(tradeID, types.TradePending, types.TradeDeclined)
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("second transition err = %v, want ErrNotFound", err)
	}

	got, err := st.TradeByID(ctx, tradeID)
	if err != nil {
		t.Fatalf("TradeByID: %v", err)
	}
	if got.Status != types.TradeAccepted {
		t.Fatalf("status = %s, want ACCEPTED", got.Status)
	}
	if len(got.Offered) != 1 || got.Offered[0] != instID {
		t.Fatalf("offered items = %v", got.Offered)
	}
}

func TestSetBalanceRejectsNegative(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)

	id := mustUser(t, st, "alice")
	err := st.WithTx(context.Background(), func(tx *Tx) error {
		return tx.SetBalance(id, decimal.NewFromInt(-1))
	})
	if err == nil {
		t.Fatal("negative balance accepted")
	}
}

func TestUnlockExpiredInstances(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	owner := mustUser(t, st, "owner")
	now := time.Now()
	oldID := mintInstance(t, st, owner, false, now.Add(-8*24*time.Hour))
	freshID := mintInstance(t, st, owner, false, now.Add(-time.Hour))

	n, err := st.UnlockExpiredInstances(ctx, now.Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("UnlockExpiredInstances: %v", err)
	}
	if n != 1 {
		t.Fatalf("unlocked %d instances, want 1", n)
	}

	oldInst, _, err := st.InstanceByID(ctx, oldID)
	if err != nil {
		t.Fatalf("InstanceByID: %v", err)
	}
	if !oldInst.Tradable {
		t.Fatal("aged lock not released")
	}
	freshInst, _, err := st.InstanceByID(ctx, freshID)
	if err != nil {
		t.Fatalf("InstanceByID: %v", err)
	}
	if freshInst.Tradable {
		t.Fatal("fresh lock released early")
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	userID := mustUser(t, st, "alice")
	now := time.Now().Truncate(time.Second)
	sess := &types.Session{
		Token: "00112233445566778899aabbccddeeff", UserID: userID,
		LoginTime: now, LastActivity: now, Active: true,
	}
	if err := st.InsertSession(ctx, sess); err != nil {
		t.Fatalf("InsertSession: %v", err)
	}

	got, err := st.SessionByToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("SessionByToken: %v", err)
	}
	if got.UserID != userID || !got.Active {
		t.Fatalf("session = %+v", got)
	}

	later := now.Add(10 * time.Minute)
	if err := st.TouchSession(ctx, sess.Token, later); err != nil {
		t.Fatalf("TouchSession: %v", err)
	}
	got, err = st.SessionByToken(ctx, sess.Token)
	if err != nil {
		t.Fatalf("SessionByToken: %v", err)
	}
	if !got.LastActivity.Equal(later.Truncate(time.Second)) {
		t.Fatalf("last activity = %v, want %v", got.LastActivity, later)
	}

	if err := st.DeleteSession(ctx, sess.Token); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if err := st.DeleteSession(ctx, sess.Token); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestAdvanceQuestLatchesCompletion(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	userID := mustUser(t, st, "alice")
	one := decimal.NewFromInt(1)
	target := decimal.NewFromInt(3)

	for i := 0; i < 5; i++ {
		if err := st.WithTx(ctx, func(tx *Tx) error {
			return tx.AdvanceQuest(userID, "lucky_gambler", one, target)
		}); err != nil {
			t.Fatalf("AdvanceQuest: %v", err)
		}
	}

	qs, err := st.QuestsFor(ctx, userID)
	if err != nil {
		t.Fatalf("QuestsFor: %v", err)
	}
	if len(qs) != 1 {
		t.Fatalf("quest rows = %d, want 1", len(qs))
	}
	if !qs[0].Completed {
		t.Fatal("quest not completed")
	}
	if !qs[0].Progress.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("progress = %s, want 5", qs[0].Progress)
	}
}

func TestUnlockAchievementOnce(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	userID := mustUser(t, st, "alice")
	var first, second bool
	if err := st.WithTx(ctx, func(tx *Tx) error {
		var err error
		first, err = tx.UnlockAchievement(userID, "first_knife")
		return err
	}); err != nil {
		t.Fatalf("UnlockAchievement: %v", err)
	}
	if err := st.WithTx(ctx, func(tx *Tx) error {
		var err error
		second, err = tx.UnlockAchievement(userID, "first_knife")
		return err
	}); err != nil {
		t.Fatalf("UnlockAchievement: %v", err)
	}
	if !first || second {
		t.Fatalf("unlock results = (%v, %v), want (true, false)", first, second)
	}
}

func TestRecentChatOldestFirst(t *testing.T) {
	t.Parallel()
	st := newTestStore(t)
	ctx := context.Background()

	userID := mustUser(t, st, "alice")
	base := time.Now()
	for i, text := range []string{"one", "two", "three"} {
		if _, err := st.InsertChat(ctx, userID, text, base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("InsertChat: %v", err)
		}
	}

	ms, err := st.RecentChat(ctx, 2)
	if err != nil {
		t.Fatalf("RecentChat: %v", err)
	}
	if len(ms) != 2 || ms[0].Text != "two" || ms[1].Text != "three" {
		t.Fatalf("RecentChat = %+v, want last two oldest-first", ms)
	}
}
