package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"skintrade/pkg/types"
)

// Static multiplier tables. Rows, not code, so operators can retune prices
// without a rebuild; the ranges are non-overlapping and cover [0, 1].
var rarityMultipliers = map[types.Rarity]string{
	types.RarityConsumer:   "0.1",
	types.RarityIndustrial: "0.15",
	types.RarityMilSpec:    "0.3",
	types.RarityRestricted: "0.5",
	types.RarityClassified: "0.75",
	types.RarityCovert:     "1.0",
	types.RarityContraband: "1.5",
}

var wearMultipliers = []struct {
	band       types.WearBand
	low, high  float64
	multiplier string
}{
	{types.WearFactoryNew, 0.00, 0.07, "1.00"},
	{types.WearMinimalWear, 0.07, 0.15, "0.92"},
	{types.WearFieldTested, 0.15, 0.37, "0.78"},
	{types.WearWellWorn, 0.37, 0.45, "0.65"},
	// high is exclusive in lookups; 1.01 keeps wear == 1.0 inside BS.
	{types.WearBattleScarred, 0.45, 1.01, "0.52"},
}

func (s *Store) seedMultipliers() error {
	for rarity, mult := range rarityMultipliers {
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO rarity_multipliers (rarity, multiplier) VALUES (?, ?)`,
			int(rarity), mult); err != nil {
			return err
		}
	}
	for _, w := range wearMultipliers {
		if _, err := s.db.Exec(
			`INSERT OR IGNORE INTO wear_multipliers (band, low, high, multiplier) VALUES (?, ?, ?, ?)`,
			string(w.band), w.low, w.high, w.multiplier); err != nil {
			return err
		}
	}
	return nil
}

// seedDef is one catalog row of the built-in default catalog.
type seedDef struct {
	name   string
	rarity types.Rarity
	price  string
}

// defaultCatalog is seeded once, only when case_definitions is empty.
var defaultCatalog = []struct {
	name  string
	price string
	defs  []seedDef
}{
	{
		name: "Breakout Case", price: "8.00",
		defs: []seedDef{
			{"P250 | Supernova", types.RarityMilSpec, "4.20"},
			{"MP7 | Urban Hazard", types.RarityMilSpec, "3.10"},
			{"Nova | Koi", types.RarityMilSpec, "5.60"},
			{"SSG 08 | Abyss", types.RarityMilSpec, "2.80"},
			{"Five-SeveN | Fowl Play", types.RarityRestricted, "18.50"},
			{"Glock-18 | Water Elemental", types.RarityRestricted, "24.00"},
			{"P90 | Asiimov", types.RarityClassified, "62.00"},
			{"Desert Eagle | Conspiracy", types.RarityClassified, "48.00"},
			{"M4A1-S | Cyrex", types.RarityCovert, "140.00"},
			{"Butterfly Knife | Fade", types.RarityContraband, "1800.00"},
		},
	},
	{
		name: "Chroma Case", price: "6.50",
		defs: []seedDef{
			{"MP9 | Deadly Poison", types.RarityMilSpec, "2.40"},
			{"XM1014 | Quicksilver", types.RarityMilSpec, "3.00"},
			{"Sawed-Off | Serenity", types.RarityMilSpec, "2.10"},
			{"AK-47 | Cartel", types.RarityRestricted, "32.00"},
			{"MAC-10 | Malachite", types.RarityRestricted, "12.00"},
			{"M4A4 | 龍王 (Dragon King)", types.RarityClassified, "55.00"},
			{"AWP | Man-o'-war", types.RarityCovert, "120.00"},
			{"Karambit | Doppler", types.RarityContraband, "2400.00"},
		},
	},
	{
		name: "Starter Crate", price: "2.00",
		defs: []seedDef{
			{"P2000 | Granite Marbleized", types.RarityConsumer, "0.40"},
			{"MP5-SD | Dirt Drop", types.RarityConsumer, "0.30"},
			{"UMP-45 | Mudder", types.RarityIndustrial, "0.80"},
			{"G3SG1 | Polar Camo", types.RarityIndustrial, "0.95"},
			{"FAMAS | Colony", types.RarityMilSpec, "1.60"},
		},
	},
}

// InsertCase adds one case to the catalog and returns its id.
func (s *Store) InsertCase(ctx context.Context, name string, price decimal.Decimal) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO case_definitions (name, price) VALUES (?, ?)`, name, price.String())
	if err != nil {
		return 0, fmt.Errorf("insert case %q: %w", name, err)
	}
	return res.LastInsertId()
}

// InsertDefinition adds one skin definition to the catalog and returns
// its id.
func (s *Store) InsertDefinition(ctx context.Context, name string, rarity types.Rarity, basePrice decimal.Decimal) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO skin_definitions (name, rarity, base_price) VALUES (?, ?, ?)`,
		name, int(rarity), basePrice.String())
	if err != nil {
		return 0, fmt.Errorf("insert definition %q: %w", name, err)
	}
	return res.LastInsertId()
}

// AddCaseContent puts a definition into a case's drop set.
func (s *Store) AddCaseContent(ctx context.Context, caseID, definitionID int64) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO case_contents (case_id, definition_id) VALUES (?, ?)`,
		caseID, definitionID); err != nil {
		return fmt.Errorf("add case content: %w", err)
	}
	return nil
}

// seedCatalog installs the default catalog on first boot. A non-empty
// case_definitions table means an operator already loaded one.
func (s *Store) seedCatalog() error {
	ctx := context.Background()
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM case_definitions`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	for _, c := range defaultCatalog {
		caseID, err := s.InsertCase(ctx, c.name, decimal.RequireFromString(c.price))
		if err != nil {
			return err
		}
		for _, d := range c.defs {
			defID, err := s.InsertDefinition(ctx, d.name, d.rarity, decimal.RequireFromString(d.price))
			if err != nil {
				return err
			}
			if err := s.AddCaseContent(ctx, caseID, defID); err != nil {
				return err
			}
		}
	}
	s.logger.Info("seeded default catalog", "cases", len(defaultCatalog))
	return nil
}
