package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"skintrade/pkg/types"
)

// RarityMultipliers loads the persisted rarity multiplier table.
func (s *Store) RarityMultipliers(ctx context.Context) (map[types.Rarity]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT rarity, multiplier FROM rarity_multipliers`)
	if err != nil {
		return nil, fmt.Errorf("rarity multipliers: %w", err)
	}
	defer rows.Close()

	out := make(map[types.Rarity]decimal.Decimal)
	for rows.Next() {
		var (
			r int
			m string
		)
		if err := rows.Scan(&r, &m); err != nil {
			return nil, err
		}
		d, err := scanDecimal(m)
		if err != nil {
			return nil, err
		}
		out[types.Rarity(r)] = d
	}
	return out, rows.Err()
}

// WearMultipliers loads the persisted wear multiplier table keyed by band.
func (s *Store) WearMultipliers(ctx context.Context) (map[types.WearBand]decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT band, multiplier FROM wear_multipliers`)
	if err != nil {
		return nil, fmt.Errorf("wear multipliers: %w", err)
	}
	defer rows.Close()

	out := make(map[types.WearBand]decimal.Decimal)
	for rows.Next() {
		var band, m string
		if err := rows.Scan(&band, &m); err != nil {
			return nil, err
		}
		d, err := scanDecimal(m)
		if err != nil {
			return nil, err
		}
		out[types.WearBand(band)] = d
	}
	return out, rows.Err()
}
