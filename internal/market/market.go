// Package market implements the seller-listed marketplace: list, buy,
// delist and search. Purchases transfer balance, ownership and the listing
// state in one transaction; market actions apply the 7-day trade lock.
package market

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/internal/protocol"
	"skintrade/internal/store"
	"skintrade/pkg/types"
)

// Hooks receives post-commit notifications of completed sales.
type Hooks interface {
	OnMarketSale(ctx context.Context, definitionID int64, price decimal.Decimal)
}

// Engine mediates the marketplace on top of the store.
type Engine struct {
	store   *store.Store
	hooks   Hooks
	feeRate decimal.Decimal
	lockTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// New wires a market engine. hooks may be nil.
func New(st *store.Store, hooks Hooks, feeRate decimal.Decimal, lockTTL time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		store:   st,
		hooks:   hooks,
		feeRate: feeRate,
		lockTTL: lockTTL,
		now:     time.Now,
		logger:  logger.With("component", "market"),
	}
}

// SetClock overrides the time source (tests).
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// List puts an instance on the market. The instance stays in the seller's
// inventory until purchase; listing applies the trade lock and restarts its
// clock.
func (e *Engine) List(ctx context.Context, sellerID, instanceID int64, price decimal.Decimal) (*types.MarketListing, error) {
	if !price.IsPositive() {
		return nil, protocol.Errf(protocol.CodeInvalidRequest, "price must be positive")
	}

	listing := &types.MarketListing{
		SellerID:   sellerID,
		InstanceID: instanceID,
		Price:      price,
		ListedAt:   e.now(),
	}
	err := e.store.WithTx(ctx, func(t *store.Tx) error {
		inst, _, err := t.InstanceByID(instanceID)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.Errf(protocol.CodeItemNotFound, "instance %d", instanceID)
		}
		if err != nil {
			return err
		}
		if inst.OwnerID != sellerID {
			return protocol.Errf(protocol.CodePermissionDenied, "instance %d not owned by %d", instanceID, sellerID)
		}
		if !inst.Tradable {
			return protocol.Errf(protocol.CodeTradeLocked, "instance %d is trade-locked", instanceID)
		}
		id, err := t.CreateListing(listing)
		if errors.Is(err, store.ErrDuplicate) {
			return protocol.Errf(protocol.CodeInvalidRequest, "instance %d already listed", instanceID)
		}
		if err != nil {
			return err
		}
		listing.ID = id
		return t.SetInstanceLock(instanceID, false, listing.ListedAt)
	})
	if err != nil {
		return nil, err
	}
	e.logger.Info("listing created",
		"listing_id", listing.ID, "seller_id", sellerID,
		"instance_id", instanceID, "price", price)
	return listing, nil
}

// Buy executes a purchase: debit buyer by price, credit seller by
// price − fee, mark the listing sold, move ownership and the inventory row,
// and trade-lock the instance for the buyer. All-or-nothing.
func (e *Engine) Buy(ctx context.Context, buyerID, listingID int64) (*types.MarketListing, error) {
	var definitionID int64
	var listing *types.MarketListing

	now := e.now()
	err := e.store.WithTx(ctx, func(t *store.Tx) error {
		l, err := t.ListingByID(listingID)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.Errf(protocol.CodeItemNotFound, "listing %d", listingID)
		}
		if err != nil {
			return err
		}
		if l.Sold {
			return protocol.Errf(protocol.CodeItemNotFound, "listing %d already sold", listingID)
		}
		if l.SellerID == buyerID {
			return protocol.Errf(protocol.CodeInvalidRequest, "cannot buy own listing")
		}

		buyer, err := t.UserByID(buyerID)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.Errf(protocol.CodeItemNotFound, "user %d", buyerID)
		}
		if err != nil {
			return err
		}
		if buyer.Balance.LessThan(l.Price) {
			return protocol.Errf(protocol.CodeInsufficientFunds, "balance %s < price %s", buyer.Balance, l.Price)
		}

		inst, _, err := t.InstanceByID(l.InstanceID)
		if err != nil {
			return err
		}
		definitionID = inst.DefinitionID

		// The fee leg is a sink: the seller receives price − fee and the
		// difference is not credited anywhere. Both legs hit the ledger.
		fee := l.Price.Mul(e.feeRate)
		payout := l.Price.Sub(fee)

		if err := t.SetBalance(buyerID, buyer.Balance.Sub(l.Price)); err != nil {
			return err
		}
		if _, err := t.AdjustBalance(l.SellerID, payout); err != nil {
			return err
		}
		if err := t.MarkListingSold(listingID); err != nil {
			return err
		}
		if err := t.RemoveInventory(l.SellerID, l.InstanceID); err != nil {
			return err
		}
		if err := t.SetInstanceOwner(l.InstanceID, buyerID); err != nil {
			return err
		}
		if err := t.AddInventory(buyerID, l.InstanceID); err != nil {
			return err
		}
		if err := t.SetInstanceLock(l.InstanceID, false, now); err != nil {
			return err
		}
		if err := t.LogTransaction(buyerID, "market_buy", l.Price.Neg(), listingID, now); err != nil {
			return err
		}
		if err := t.LogTransaction(l.SellerID, "market_sell", payout, listingID, now); err != nil {
			return err
		}
		listing = l
		return nil
	})
	if err != nil {
		return nil, err
	}

	listing.Sold = true
	e.logger.Info("listing purchased",
		"listing_id", listingID, "buyer_id", buyerID,
		"seller_id", listing.SellerID, "price", listing.Price)

	if e.hooks != nil {
		e.hooks.OnMarketSale(ctx, definitionID, listing.Price)
	}
	return listing, nil
}

// Delist removes a non-sold listing. The trade-lock clock is deliberately
// not reset: the lock applied at listing time keeps running.
func (e *Engine) Delist(ctx context.Context, sellerID, listingID int64) error {
	return e.store.WithTx(ctx, func(t *store.Tx) error {
		l, err := t.ListingByID(listingID)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.Errf(protocol.CodeItemNotFound, "listing %d", listingID)
		}
		if err != nil {
			return err
		}
		if l.Sold {
			return protocol.Errf(protocol.CodeItemNotFound, "listing %d already sold", listingID)
		}
		if l.SellerID != sellerID {
			return protocol.Errf(protocol.CodePermissionDenied, "listing %d not owned by %d", listingID, sellerID)
		}
		return t.DeleteListing(listingID, sellerID)
	})
}

// Listings returns every active listing.
func (e *Engine) Listings(ctx context.Context) ([]types.MarketListing, error) {
	return e.store.ActiveListings(ctx)
}

// Search returns active listings whose skin name contains term.
func (e *Engine) Search(ctx context.Context, term string) ([]types.MarketListing, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return e.store.ActiveListings(ctx)
	}
	return e.store.SearchListings(ctx, term)
}

// RunLockSweep periodically restores tradable on instances whose lock clock
// has aged past the lock TTL.
func (e *Engine) RunLockSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := e.store.UnlockExpiredInstances(ctx, e.now().Add(-e.lockTTL))
			if err != nil {
				if ctx.Err() == nil {
					e.logger.Error("lock sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				e.logger.Info("trade locks expired", "unlocked", n)
			}
		}
	}
}
