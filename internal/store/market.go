package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"skintrade/pkg/types"
)

// CreateListing inserts a non-sold listing. The partial unique index on
// (instance_id) WHERE sold = 0 turns a second active listing for the same
// instance into ErrDuplicate.
func (t *Tx) CreateListing(l *types.MarketListing) (int64, error) {
	res, err := t.tx.Exec(
		`INSERT INTO market_listings (seller_id, instance_id, price, listed_at, sold)
		 VALUES (?, ?, ?, ?, 0)`,
		l.SellerID, l.InstanceID, l.Price.String(), l.ListedAt.Unix())
	if err != nil {
		if isConstraintErr(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("create listing: %w", err)
	}
	return res.LastInsertId()
}

const listingColumns = `l.id, l.seller_id, l.instance_id, l.price, l.listed_at, l.sold,
	d.name, i.rarity, i.wear, i.stattrak`

const listingJoin = `
	FROM market_listings l
	JOIN skin_instances i ON i.id = l.instance_id
	JOIN skin_definitions d ON d.id = i.definition_id`

func scanListing(scan func(dest ...any) error) (*types.MarketListing, error) {
	var (
		l        types.MarketListing
		price    string
		listedAt int64
		rarity   int
	)
	err := scan(&l.ID, &l.SellerID, &l.InstanceID, &price, &listedAt, &l.Sold,
		&l.SkinName, &rarity, &l.Wear, &l.StatTrak)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan listing: %w", err)
	}
	if l.Price, err = scanDecimal(price); err != nil {
		return nil, err
	}
	l.ListedAt = unixTime(listedAt)
	l.Rarity = types.Rarity(rarity)
	return &l, nil
}

// ListingByID loads one listing with its display fields.
func (s *Store) ListingByID(ctx context.Context, id int64) (*types.MarketListing, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+listingColumns+listingJoin+` WHERE l.id = ?`, id)
	return scanListing(row.Scan)
}

// ListingByID is the transactional variant used by the purchase path.
func (t *Tx) ListingByID(id int64) (*types.MarketListing, error) {
	row := t.tx.QueryRow(
		`SELECT `+listingColumns+listingJoin+` WHERE l.id = ?`, id)
	return scanListing(row.Scan)
}

func (s *Store) queryListings(ctx context.Context, where string, args ...any) ([]types.MarketListing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+listingColumns+listingJoin+` `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var out []types.MarketListing
	for rows.Next() {
		l, err := scanListing(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// ActiveListings returns every non-sold listing, newest first.
func (s *Store) ActiveListings(ctx context.Context) ([]types.MarketListing, error) {
	return s.queryListings(ctx, `WHERE l.sold = 0 ORDER BY l.listed_at DESC, l.id DESC`)
}

// SearchListings returns non-sold listings whose definition name contains
// term (case-insensitive substring).
func (s *Store) SearchListings(ctx context.Context, term string) ([]types.MarketListing, error) {
	return s.queryListings(ctx,
		`WHERE l.sold = 0 AND d.name LIKE ? ORDER BY l.listed_at DESC, l.id DESC`,
		"%"+term+"%")
}

// MarkListingSold flips the sold flag; already-sold listings are ErrNotFound
// so a purchase can never complete twice.
func (t *Tx) MarkListingSold(id int64) error {
	res, err := t.tx.Exec(`UPDATE market_listings SET sold = 1 WHERE id = ? AND sold = 0`, id)
	if err != nil {
		return fmt.Errorf("mark sold: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteListing removes a non-sold listing owned by sellerID.
func (t *Tx) DeleteListing(id, sellerID int64) error {
	res, err := t.tx.Exec(
		`DELETE FROM market_listings WHERE id = ? AND seller_id = ? AND sold = 0`, id, sellerID)
	if err != nil {
		return fmt.Errorf("delete listing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
