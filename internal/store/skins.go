package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"skintrade/pkg/types"
)

// CaseByID loads one case definition.
func (s *Store) CaseByID(ctx context.Context, id int64) (*types.Case, error) {
	var (
		c     types.Case
		price string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, price FROM case_definitions WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("case by id: %w", err)
	}
	if c.Price, err = scanDecimal(price); err != nil {
		return nil, err
	}
	return &c, nil
}

// Cases lists the whole case catalog.
func (s *Store) Cases(ctx context.Context) ([]types.Case, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, price FROM case_definitions ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("cases: %w", err)
	}
	defer rows.Close()

	var out []types.Case
	for rows.Next() {
		var (
			c     types.Case
			price string
		)
		if err := rows.Scan(&c.ID, &c.Name, &price); err != nil {
			return nil, err
		}
		if c.Price, err = scanDecimal(price); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CaseRarities returns the distinct rarities present in a case's content set.
func (s *Store) CaseRarities(ctx context.Context, caseID int64) ([]types.Rarity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT d.rarity
		   FROM case_contents c JOIN skin_definitions d ON d.id = c.definition_id
		  WHERE c.case_id = ?`, caseID)
	if err != nil {
		return nil, fmt.Errorf("case rarities: %w", err)
	}
	defer rows.Close()

	var out []types.Rarity
	for rows.Next() {
		var r int
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, types.Rarity(r))
	}
	return out, rows.Err()
}

// CaseDefinitionsByRarity returns a case's definitions at one rarity.
// The rarity column on skin_definitions is authoritative; callers must not
// assume the rolled tier without this reconfirmation.
func (s *Store) CaseDefinitionsByRarity(ctx context.Context, caseID int64, rarity types.Rarity) ([]types.SkinDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.name, d.rarity, d.base_price
		   FROM case_contents c JOIN skin_definitions d ON d.id = c.definition_id
		  WHERE c.case_id = ? AND d.rarity = ?`, caseID, int(rarity))
	if err != nil {
		return nil, fmt.Errorf("case definitions: %w", err)
	}
	defer rows.Close()

	var out []types.SkinDefinition
	for rows.Next() {
		var (
			d     types.SkinDefinition
			r     int
			price string
		)
		if err := rows.Scan(&d.ID, &d.Name, &r, &price); err != nil {
			return nil, err
		}
		d.Rarity = types.Rarity(r)
		if d.BasePrice, err = scanDecimal(price); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DefinitionByID loads one catalog row.
func (s *Store) DefinitionByID(ctx context.Context, id int64) (*types.SkinDefinition, error) {
	var (
		d     types.SkinDefinition
		r     int
		price string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, rarity, base_price FROM skin_definitions WHERE id = ?`, id).
		Scan(&d.ID, &d.Name, &r, &price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("definition by id: %w", err)
	}
	d.Rarity = types.Rarity(r)
	if d.BasePrice, err = scanDecimal(price); err != nil {
		return nil, err
	}
	return &d, nil
}

const instanceColumns = `i.id, i.definition_id, d.name, i.rarity, i.wear, i.pattern_seed,
	i.stattrak, i.owner_id, i.acquired_at, i.tradable, d.base_price`

func scanInstance(scan func(dest ...any) error) (*types.SkinInstance, decimal.Decimal, error) {
	var (
		inst       types.SkinInstance
		rarity     int
		acquiredAt int64
		basePrice  string
	)
	err := scan(&inst.ID, &inst.DefinitionID, &inst.Name, &rarity, &inst.Wear,
		&inst.PatternSeed, &inst.StatTrak, &inst.OwnerID, &acquiredAt, &inst.Tradable, &basePrice)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, decimal.Zero, ErrNotFound
	}
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("scan instance: %w", err)
	}
	inst.Rarity = types.Rarity(rarity)
	inst.AcquiredAt = unixTime(acquiredAt)
	base, err := scanDecimal(basePrice)
	if err != nil {
		return nil, decimal.Zero, err
	}
	return &inst, base, nil
}

// InstanceByID loads one instance with its display name, plus the
// definition's base price so callers can appraise it.
func (s *Store) InstanceByID(ctx context.Context, id int64) (*types.SkinInstance, decimal.Decimal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceColumns+`
		   FROM skin_instances i JOIN skin_definitions d ON d.id = i.definition_id
		  WHERE i.id = ?`, id)
	return scanInstance(row.Scan)
}

// InstanceByID is the transactional variant, used for ownership checks that
// must see the transaction's own writes.
func (t *Tx) InstanceByID(id int64) (*types.SkinInstance, decimal.Decimal, error) {
	row := t.tx.QueryRow(
		`SELECT `+instanceColumns+`
		   FROM skin_instances i JOIN skin_definitions d ON d.id = i.definition_id
		  WHERE i.id = ?`, id)
	return scanInstance(row.Scan)
}

// InsertInstance mints a new instance and returns its id.
func (t *Tx) InsertInstance(inst *types.SkinInstance) (int64, error) {
	res, err := t.tx.Stmt(t.s.stmtInsertInstance).Exec(
		inst.DefinitionID, int(inst.Rarity), inst.Wear, inst.PatternSeed,
		inst.StatTrak, inst.OwnerID, inst.AcquiredAt.Unix(), inst.Tradable)
	if err != nil {
		return 0, fmt.Errorf("insert instance: %w", err)
	}
	return res.LastInsertId()
}

// SetInstanceOwner reassigns exclusive ownership.
func (t *Tx) SetInstanceOwner(instanceID, ownerID int64) error {
	res, err := t.tx.Stmt(t.s.stmtSetOwner).Exec(ownerID, instanceID)
	if err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetInstanceLock writes the trade-lock pair: the tradable flag and the
// acquired_at lock clock.
func (t *Tx) SetInstanceLock(instanceID int64, tradable bool, at time.Time) error {
	res, err := t.tx.Exec(
		`UPDATE skin_instances SET tradable = ?, acquired_at = ? WHERE id = ?`,
		tradable, at.Unix(), instanceID)
	if err != nil {
		return fmt.Errorf("set lock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddInventory inserts the (user, instance) membership row.
func (t *Tx) AddInventory(userID, instanceID int64) error {
	if _, err := t.tx.Stmt(t.s.stmtAddInventory).Exec(userID, instanceID); err != nil {
		if isConstraintErr(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("add inventory: %w", err)
	}
	return nil
}

// RemoveInventory deletes the membership row; missing rows are ErrNotFound
// so swaps cannot silently skip a leg.
func (t *Tx) RemoveInventory(userID, instanceID int64) error {
	res, err := t.tx.Stmt(t.s.stmtRemInventory).Exec(userID, instanceID)
	if err != nil {
		return fmt.Errorf("remove inventory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InventoryIDs returns the instance ids a user holds, oldest first.
func (s *Store) InventoryIDs(ctx context.Context, userID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_id FROM inventory WHERE user_id = ? ORDER BY instance_id`, userID)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// UnlockExpiredInstances flips tradable back on for locked instances whose
// lock clock is older than before. Used by the background sweep.
func (s *Store) UnlockExpiredInstances(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE skin_instances SET tradable = 1 WHERE tradable = 0 AND acquired_at < ?`,
		before.Unix())
	if err != nil {
		return 0, fmt.Errorf("unlock expired: %w", err)
	}
	return res.RowsAffected()
}
