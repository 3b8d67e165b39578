// Package trade implements peer-to-peer trade offers: the PENDING →
// {ACCEPTED, DECLINED, CANCELLED, EXPIRED} lifecycle, the atomic multi-item
// bilateral swap on accept, and the background reaper that expires stale
// offers.
package trade

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/internal/protocol"
	"skintrade/internal/store"
	"skintrade/pkg/types"
)

// Hooks receives post-commit notifications of accepted trades.
type Hooks interface {
	OnTradeAccepted(ctx context.Context, offer *types.TradeOffer)
}

// Engine runs the trade-offer lifecycle on top of the store.
type Engine struct {
	store    *store.Store
	hooks    Hooks
	offerTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New wires a trade engine. hooks may be nil.
func New(st *store.Store, hooks Hooks, offerTTL time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		store:    st,
		hooks:    hooks,
		offerTTL: offerTTL,
		now:      time.Now,
		logger:   logger.With("component", "trade"),
	}
}

// SetClock overrides the time source (tests).
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

func hasDuplicates(ids []int64) bool {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			return true
		}
		seen[id] = struct{}{}
	}
	return false
}

// Send validates and persists a new PENDING offer. Trade locks are not
// consulted: they apply to market listings only.
func (e *Engine) Send(ctx context.Context, o *types.TradeOffer) (*types.TradeOffer, error) {
	if o.FromUser == o.ToUser {
		return nil, protocol.Errf(protocol.CodeInvalidRequest, "cannot trade with yourself")
	}
	if len(o.Offered) > types.MaxTradeItems || len(o.Requested) > types.MaxTradeItems {
		return nil, protocol.Errf(protocol.CodeInvalidRequest, "at most %d items per side", types.MaxTradeItems)
	}
	if o.OfferedCash.IsNegative() || o.RequestedCash.IsNegative() {
		return nil, protocol.Errf(protocol.CodeInvalidRequest, "cash must be non-negative")
	}
	empty := len(o.Offered) == 0 && len(o.Requested) == 0 &&
		o.OfferedCash.IsZero() && o.RequestedCash.IsZero()
	if empty {
		return nil, protocol.Errf(protocol.CodeInvalidTrade, "empty trade")
	}
	if hasDuplicates(o.Offered) || hasDuplicates(o.Requested) {
		return nil, protocol.Errf(protocol.CodeInvalidRequest, "duplicate instance in offer")
	}

	now := e.now()
	offer := &types.TradeOffer{
		FromUser:      o.FromUser,
		ToUser:        o.ToUser,
		Offered:       o.Offered,
		OfferedCash:   o.OfferedCash,
		Requested:     o.Requested,
		RequestedCash: o.RequestedCash,
		Status:        types.TradePending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(e.offerTTL),
	}

	err := e.store.WithTx(ctx, func(t *store.Tx) error {
		from, err := t.UserByID(o.FromUser)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.Errf(protocol.CodeItemNotFound, "user %d", o.FromUser)
		}
		if err != nil {
			return err
		}
		to, err := t.UserByID(o.ToUser)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.Errf(protocol.CodeItemNotFound, "user %d", o.ToUser)
		}
		if err != nil {
			return err
		}
		if from.Balance.LessThan(o.OfferedCash) {
			return protocol.Errf(protocol.CodeInsufficientFunds, "sender balance %s < offered cash %s", from.Balance, o.OfferedCash)
		}
		if to.Balance.LessThan(o.RequestedCash) {
			return protocol.Errf(protocol.CodeInsufficientFunds, "recipient balance %s < requested cash %s", to.Balance, o.RequestedCash)
		}
		if err := e.checkOwnership(t, o.Offered, o.FromUser); err != nil {
			return err
		}
		if err := e.checkOwnership(t, o.Requested, o.ToUser); err != nil {
			return err
		}
		id, err := t.CreateTrade(offer)
		if err != nil {
			return err
		}
		offer.ID = id
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("trade offer sent",
		"trade_id", offer.ID, "from", offer.FromUser, "to", offer.ToUser,
		"offered_items", len(offer.Offered), "requested_items", len(offer.Requested))
	return offer, nil
}

func (e *Engine) checkOwnership(t *store.Tx, ids []int64, owner int64) error {
	for _, id := range ids {
		inst, _, err := t.InstanceByID(id)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.Errf(protocol.CodeItemNotFound, "instance %d", id)
		}
		if err != nil {
			return err
		}
		if inst.OwnerID != owner {
			return protocol.Errf(protocol.CodeInvalidTrade, "instance %d not owned by %d", id, owner)
		}
	}
	return nil
}

// Accept executes the swap. Only the recipient may accept a PENDING offer;
// a stale offer is flipped to EXPIRED (that flip commits) and the accept
// fails with TRADE_EXPIRED.
func (e *Engine) Accept(ctx context.Context, userID, tradeID int64) (*types.TradeOffer, error) {
	o, err := e.store.TradeByID(ctx, tradeID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.Errf(protocol.CodeItemNotFound, "trade %d", tradeID)
	}
	if err != nil {
		return nil, err
	}
	if o.ToUser != userID {
		return nil, protocol.Errf(protocol.CodePermissionDenied, "trade %d not addressed to %d", tradeID, userID)
	}
	if o.Status != types.TradePending {
		return nil, protocol.Errf(protocol.CodeInvalidTrade, "trade %d is %s", tradeID, o.Status)
	}
	if e.now().After(o.ExpiresAt) {
		// The expiry flip must survive the failed accept, so it runs in its
		// own transaction before the error is returned.
		flipErr := e.store.WithTx(ctx, func(t *store.Tx) error {
			return t.UpdateTradeStatus(tradeID, types.TradePending, types.TradeExpired)
		})
		if flipErr != nil && !errors.Is(flipErr, store.ErrNotFound) {
			return nil, flipErr
		}
		return nil, protocol.Errf(protocol.CodeTradeExpired, "trade %d expired at %s", tradeID, o.ExpiresAt)
	}

	now := e.now()
	err = e.store.WithTx(ctx, func(t *store.Tx) error {
		// Guarded transition first: if a racing decline/cancel/reaper got
		// here before us, the swap never starts.
		if err := t.UpdateTradeStatus(tradeID, types.TradePending, types.TradeAccepted); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return protocol.Errf(protocol.CodeInvalidTrade, "trade %d already processed", tradeID)
			}
			return err
		}
		if err := e.swapItems(t, o.Offered, o.FromUser, o.ToUser); err != nil {
			return err
		}
		if err := e.swapItems(t, o.Requested, o.ToUser, o.FromUser); err != nil {
			return err
		}
		return e.swapCash(t, o, now)
	})
	if err != nil {
		return nil, err
	}

	o.Status = types.TradeAccepted
	e.logger.Info("trade accepted", "trade_id", tradeID, "from", o.FromUser, "to", o.ToUser)

	if e.hooks != nil {
		e.hooks.OnTradeAccepted(ctx, o)
	}
	return o, nil
}

// swapItems moves each instance from one user to the other: inventory row
// out, owner reassigned, inventory row in. Peer trades do not apply trade
// locks.
func (e *Engine) swapItems(t *store.Tx, ids []int64, from, to int64) error {
	for _, id := range ids {
		inst, _, err := t.InstanceByID(id)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.Errf(protocol.CodeItemNotFound, "instance %d", id)
		}
		if err != nil {
			return err
		}
		if inst.OwnerID != from {
			return protocol.Errf(protocol.CodeInvalidTrade, "instance %d no longer owned by %d", id, from)
		}
		if err := t.RemoveInventory(from, id); err != nil {
			return err
		}
		if err := t.SetInstanceOwner(id, to); err != nil {
			return err
		}
		if err := t.AddInventory(to, id); err != nil {
			return err
		}
	}
	return nil
}

// swapCash transfers offered cash from → to and requested cash to → from.
func (e *Engine) swapCash(t *store.Tx, o *types.TradeOffer, now time.Time) error {
	fromDelta := o.RequestedCash.Sub(o.OfferedCash)
	toDelta := o.OfferedCash.Sub(o.RequestedCash)

	if err := applyCashDelta(t, o.FromUser, fromDelta, o.ID, now); err != nil {
		return err
	}
	return applyCashDelta(t, o.ToUser, toDelta, o.ID, now)
}

func applyCashDelta(t *store.Tx, userID int64, delta decimal.Decimal, tradeID int64, now time.Time) error {
	if delta.IsZero() {
		return nil
	}
	u, err := t.UserByID(userID)
	if err != nil {
		return err
	}
	next := u.Balance.Add(delta)
	if next.IsNegative() {
		return protocol.Errf(protocol.CodeInsufficientFunds, "user %d cannot cover %s", userID, delta.Neg())
	}
	if err := t.SetBalance(userID, next); err != nil {
		return err
	}
	return t.LogTransaction(userID, "trade_cash", delta, tradeID, now)
}

// Decline rejects a PENDING offer. Only the recipient may decline.
func (e *Engine) Decline(ctx context.Context, userID, tradeID int64) error {
	return e.resolve(ctx, userID, tradeID, types.TradeDeclined, false)
}

// Cancel withdraws a PENDING offer. Only the sender may cancel.
func (e *Engine) Cancel(ctx context.Context, userID, tradeID int64) error {
	return e.resolve(ctx, userID, tradeID, types.TradeCancelled, true)
}

func (e *Engine) resolve(ctx context.Context, userID, tradeID int64, to types.TradeStatus, bySender bool) error {
	o, err := e.store.TradeByID(ctx, tradeID)
	if errors.Is(err, store.ErrNotFound) {
		return protocol.Errf(protocol.CodeItemNotFound, "trade %d", tradeID)
	}
	if err != nil {
		return err
	}
	actor := o.ToUser
	if bySender {
		actor = o.FromUser
	}
	if actor != userID {
		return protocol.Errf(protocol.CodePermissionDenied, "trade %d not actionable by %d", tradeID, userID)
	}
	if o.Status != types.TradePending {
		return protocol.Errf(protocol.CodeInvalidTrade, "trade %d is %s", tradeID, o.Status)
	}
	err = e.store.WithTx(ctx, func(t *store.Tx) error {
		return t.UpdateTradeStatus(tradeID, types.TradePending, to)
	})
	if errors.Is(err, store.ErrNotFound) {
		return protocol.Errf(protocol.CodeInvalidTrade, "trade %d already processed", tradeID)
	}
	if err != nil {
		return err
	}
	e.logger.Info("trade resolved", "trade_id", tradeID, "status", string(to))
	return nil
}

// ListActive returns the user's PENDING offers, either side, newest first.
func (e *Engine) ListActive(ctx context.Context, userID int64) ([]types.TradeOffer, error) {
	return e.store.ActiveTradesFor(ctx, userID)
}

// RunReaper periodically flips PENDING offers past their deadline to
// EXPIRED. The guarded update makes each flip exactly-once even when an
// accept races the sweep.
func (e *Engine) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.store.ExpirePendingTrades(ctx, e.now())
			if err != nil {
				if ctx.Err() == nil {
					e.logger.Error("trade reaper failed", "error", err)
				}
				continue
			}
			if n > 0 {
				e.logger.Info("trades expired", "count", n)
			}
		}
	}
}
