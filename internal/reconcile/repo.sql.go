package reconcile

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/meridian-erp/meridian/internal/ledger"
)

// ErrNoLocationConfigured indicates no stock location exists at all, so the
// null-location migration has nowhere to assign legacy rows.
var ErrNoLocationConfigured = errors.New("reconcile: no stock location configured")

func (r *Repository) DuplicateSaleGroups(ctx context.Context) ([]DuplicateSaleGroup, error) {
	rows, err := r.pool.Query(ctx, `SELECT order_id, product_variant_id, ARRAY_AGG(id ORDER BY created_at ASC, id ASC)
FROM stock_movements
WHERE type=$1 AND order_id IS NOT NULL
GROUP BY order_id, product_variant_id
HAVING COUNT(*) > 1
ORDER BY order_id ASC, product_variant_id ASC`, string(ledger.MovementTypeSale))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	groups := []DuplicateSaleGroup{}
	for rows.Next() {
		var g DuplicateSaleGroup
		if err := rows.Scan(&g.OrderID, &g.ProductVariantID, &g.MovementIDs); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (r *Repository) NullLocationMovements(ctx context.Context) ([]ledger.Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_variant_id, 0, type, quantity, quantity_before, quantity_after, COALESCE(order_id, 0), COALESCE(reference, ''), COALESCE(purchase_order_item_id, 0), created_at
FROM stock_movements WHERE location_id IS NULL ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []ledger.Movement{}
	for rows.Next() {
		var m ledger.Movement
		if err := rows.Scan(&m.ID, &m.ProductVariantID, &m.LocationID, &m.Type, &m.Quantity, &m.QuantityBefore, &m.QuantityAfter, &m.OrderID, &m.Reference, &m.PurchaseOrderItemID, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// DefaultLocation resolves the location flagged default, or else the earliest
// created one.
func (r *Repository) DefaultLocation(ctx context.Context) (ledger.Location, error) {
	var loc ledger.Location
	err := r.pool.QueryRow(ctx, `SELECT id, name, is_default, active, created_at FROM stock_locations
ORDER BY is_default DESC, created_at ASC, id ASC LIMIT 1`).
		Scan(&loc.ID, &loc.Name, &loc.IsDefault, &loc.Active, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Location{}, ErrNoLocationConfigured
		}
		return ledger.Location{}, err
	}
	return loc, nil
}

func (r *Repository) CancelledOrdersWithSales(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT m.order_id
FROM stock_movements m
JOIN orders o ON o.id = m.order_id
WHERE o.status = 'cancelled' AND m.type = $1
ORDER BY m.order_id ASC`, string(ledger.MovementTypeSale))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	orderIDs := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		orderIDs = append(orderIDs, id)
	}
	return orderIDs, rows.Err()
}

func (r *Repository) DuplicateRestorations(ctx context.Context) ([]RestorationPair, error) {
	rows, err := r.pool.Query(ctx, `SELECT c.order_id, c.product_variant_id, c.id, ret.id
FROM stock_movements c
JOIN stock_movements ret ON ret.order_id = c.order_id AND ret.product_variant_id = c.product_variant_id
WHERE c.type = $1 AND ret.type = $2
ORDER BY c.order_id ASC, c.product_variant_id ASC`, string(ledger.MovementTypeCancellation), string(ledger.MovementTypeReturn))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	pairs := []RestorationPair{}
	for rows.Next() {
		var p RestorationPair
		if err := rows.Scan(&p.OrderID, &p.ProductVariantID, &p.CancellationID, &p.ReturnID); err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (r *Repository) MovementScopes(ctx context.Context) ([]Scope, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT product_variant_id, location_id
FROM stock_movements WHERE location_id IS NOT NULL
ORDER BY product_variant_id ASC, location_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	scopes := []Scope{}
	for rows.Next() {
		var s Scope
		if err := rows.Scan(&s.ProductVariantID, &s.LocationID); err != nil {
			return nil, err
		}
		scopes = append(scopes, s)
	}
	return scopes, rows.Err()
}

func (s *txStore) DeleteMovements(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.tx.Exec(ctx, `DELETE FROM stock_movements WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *txStore) DeleteOrderMovements(ctx context.Context, orderID int64, types []ledger.MovementType) ([]int64, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	rows, err := s.tx.Query(ctx, `DELETE FROM stock_movements WHERE order_id=$1 AND type = ANY($2) RETURNING product_variant_id`, orderID, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	variants := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		variants = append(variants, id)
	}
	return variants, rows.Err()
}

func (s *txStore) SetMovementLocation(ctx context.Context, movementID, locationID int64) error {
	_, err := s.tx.Exec(ctx, `UPDATE stock_movements SET location_id=$2 WHERE id=$1`, movementID, locationID)
	return err
}

func (s *txStore) UpdateMovementSnapshot(ctx context.Context, fix ledger.SnapshotFix) error {
	_, err := s.tx.Exec(ctx, `UPDATE stock_movements SET quantity_before=$2, quantity_after=$3 WHERE id=$1`,
		fix.MovementID, fix.QuantityBefore, fix.QuantityAfter)
	return err
}

func (s *txStore) ScopeMovements(ctx context.Context, variantID, locationID int64) ([]ledger.Movement, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, product_variant_id, COALESCE(location_id, 0), type, quantity, quantity_before, quantity_after, COALESCE(order_id, 0), COALESCE(reference, ''), COALESCE(purchase_order_item_id, 0), created_at
FROM stock_movements WHERE product_variant_id=$1 AND location_id=$2
ORDER BY created_at ASC, id ASC`, variantID, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []ledger.Movement{}
	for rows.Next() {
		var m ledger.Movement
		if err := rows.Scan(&m.ID, &m.ProductVariantID, &m.LocationID, &m.Type, &m.Quantity, &m.QuantityBefore, &m.QuantityAfter, &m.OrderID, &m.Reference, &m.PurchaseOrderItemID, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// VariantLocations returns every location the variant has movements or a
// projection row for. Projection rows matter when a repair deleted a scope's
// last movement: the projection must be reset to zero, not left stale.
func (s *txStore) VariantLocations(ctx context.Context, variantID int64) ([]int64, error) {
	rows, err := s.tx.Query(ctx, `SELECT location_id FROM (
SELECT DISTINCT location_id FROM stock_movements WHERE product_variant_id=$1 AND location_id IS NOT NULL
UNION
SELECT location_id FROM location_stocks WHERE product_variant_id=$1
) locations ORDER BY location_id ASC`, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
