// Package unbox implements the case-opening engine: the balance debit,
// rarity roll, attribute generation, mint and inventory insert, all inside
// one store transaction.
package unbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/internal/protocol"
	"skintrade/internal/store"
	"skintrade/pkg/types"
)

// Hooks receives post-commit notifications of successful opens.
type Hooks interface {
	OnCaseOpened(ctx context.Context, userID int64, inst *types.SkinInstance, value, cost decimal.Decimal)
}

// Engine mints skin instances from cases. The rand source is injectable so
// tests pin the roll sequence; it is mutex-guarded because handlers run on
// parallel workers.
type Engine struct {
	store *store.Store
	hooks Hooks

	keyPrice    decimal.Decimal
	rarityMults map[types.Rarity]decimal.Decimal
	wearMults   map[types.WearBand]decimal.Decimal

	mu  sync.Mutex
	rng *rand.Rand

	now    func() time.Time
	logger *slog.Logger
}

// New builds the engine, loading the persisted multiplier tables once.
// hooks may be nil.
func New(ctx context.Context, st *store.Store, hooks Hooks, keyPrice decimal.Decimal, logger *slog.Logger) (*Engine, error) {
	rarityMults, err := st.RarityMultipliers(ctx)
	if err != nil {
		return nil, err
	}
	wearMults, err := st.WearMultipliers(ctx)
	if err != nil {
		return nil, err
	}
	if len(rarityMults) == 0 || len(wearMults) == 0 {
		return nil, fmt.Errorf("multiplier tables not seeded")
	}
	return &Engine{
		store:       st,
		hooks:       hooks,
		keyPrice:    keyPrice,
		rarityMults: rarityMults,
		wearMults:   wearMults,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now:         time.Now,
		logger:      logger.With("component", "unbox"),
	}, nil
}

// SetRand overrides the random source (tests).
func (e *Engine) SetRand(r *rand.Rand) { e.rng = r }

// SetClock overrides the time source (tests).
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// KeyPrice returns the fixed per-open key cost.
func (e *Engine) KeyPrice() decimal.Decimal { return e.keyPrice }

// rollCeilings are the tier thresholds over a uniform [0, 100) roll, tried
// in descending rarity. A tier wins when the roll is under its ceiling AND
// the tier is present in the case; otherwise the roll falls through to the
// next lower tier. Changing this to renormalized per-case weights would
// change drop economics, so the fall-through is load-bearing.
var rollCeilings = []struct {
	rarity  types.Rarity
	ceiling float64
}{
	{types.RarityContraband, 0.26},
	{types.RarityCovert, 0.90},
	{types.RarityClassified, 4.10},
	{types.RarityRestricted, 20.08},
	{types.RarityMilSpec, 100.0},
}

// rollRarity picks the drop tier for one roll given the tiers present in
// the case. When no threshold tier is present (a case of only Consumer and
// Industrial drops, say), the highest tier actually present wins.
func rollRarity(roll float64, present map[types.Rarity]bool) types.Rarity {
	for _, c := range rollCeilings {
		if roll < c.ceiling && present[c.rarity] {
			return c.rarity
		}
	}
	for r := types.RarityContraband; r >= types.RarityConsumer; r-- {
		if present[r] {
			return r
		}
	}
	return types.RarityConsumer
}

// truncWear truncates a wear float to 10 decimal places.
func truncWear(w float64) float64 {
	return math.Trunc(w*1e10) / 1e10
}

const (
	wearDenominator = float64(1<<31 - 1)
	statTrakChance  = 0.10
	patternSeedMax  = 1000
)

func (e *Engine) draw() (roll float64, wear float64, statTrak bool, pattern int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	roll = e.rng.Float64() * 100
	wear = truncWear(float64(e.rng.Int64N(1<<31)) / wearDenominator)
	statTrak = e.rng.Float64() < statTrakChance
	pattern = e.rng.IntN(patternSeedMax)
	return roll, wear, statTrak, pattern
}

// pickDefinition draws uniformly among defs.
func (e *Engine) pickDefinition(defs []types.SkinDefinition) types.SkinDefinition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return defs[e.rng.IntN(len(defs))]
}

// Open runs one case opening for userID. The debit, mint, inventory insert
// and ledger row commit or roll back together; on any error the caller's
// balance is untouched.
func (e *Engine) Open(ctx context.Context, userID, caseID int64) (*types.SkinInstance, error) {
	c, err := e.store.CaseByID(ctx, caseID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, protocol.Errf(protocol.CodeItemNotFound, "case %d", caseID)
	}
	if err != nil {
		return nil, err
	}

	rarities, err := e.store.CaseRarities(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if len(rarities) == 0 {
		return nil, protocol.Errf(protocol.CodeItemNotFound, "case %d has no contents", caseID)
	}
	present := make(map[types.Rarity]bool, len(rarities))
	for _, r := range rarities {
		present[r] = true
	}

	roll, wear, statTrak, pattern := e.draw()
	rarity := rollRarity(roll, present)

	defs, err := e.store.CaseDefinitionsByRarity(ctx, caseID, rarity)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return nil, fmt.Errorf("case %d has rarity %s but no definitions", caseID, rarity)
	}
	def := e.pickDefinition(defs)

	// Contraband drops never carry StatTrak.
	if def.Rarity == types.RarityContraband {
		statTrak = false
	}

	cost := c.Price.Add(e.keyPrice)
	now := e.now()
	inst := &types.SkinInstance{
		DefinitionID: def.ID,
		Name:         def.Name,
		Rarity:       def.Rarity,
		Wear:         wear,
		PatternSeed:  pattern,
		StatTrak:     statTrak,
		OwnerID:      userID,
		AcquiredAt:   now,
		Tradable:     true,
	}

	err = e.store.WithTx(ctx, func(t *store.Tx) error {
		u, err := t.UserByID(userID)
		if errors.Is(err, store.ErrNotFound) {
			return protocol.Errf(protocol.CodeItemNotFound, "user %d", userID)
		}
		if err != nil {
			return err
		}
		if u.Balance.LessThan(cost) {
			return protocol.Errf(protocol.CodeInsufficientFunds, "balance %s < cost %s", u.Balance, cost)
		}
		if err := t.SetBalance(userID, u.Balance.Sub(cost)); err != nil {
			return err
		}
		id, err := t.InsertInstance(inst)
		if err != nil {
			return err
		}
		inst.ID = id
		if err := t.AddInventory(userID, id); err != nil {
			return err
		}
		return t.LogTransaction(userID, "unbox", cost.Neg(), id, now)
	})
	if err != nil {
		return nil, err
	}

	inst.CurrentPrice = e.Appraise(inst.Rarity, inst.Wear, def.BasePrice)
	e.logger.Info("case opened",
		"user_id", userID, "case_id", caseID,
		"instance_id", inst.ID, "rarity", inst.Rarity.String(),
		"wear", inst.Wear, "stattrak", inst.StatTrak,
		"value", inst.CurrentPrice)

	if e.hooks != nil {
		e.hooks.OnCaseOpened(ctx, userID, inst, inst.CurrentPrice, cost)
	}
	return inst, nil
}

// Appraise computes base × rarity multiplier × wear multiplier.
func (e *Engine) Appraise(rarity types.Rarity, wear float64, basePrice decimal.Decimal) decimal.Decimal {
	return basePrice.
		Mul(e.rarityMults[rarity]).
		Mul(e.wearMults[types.WearBandFor(wear)])
}
