package ledger

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func (r *txRepository) GetLocation(ctx context.Context, id int64) (Location, error) {
	var loc Location
	err := r.tx.QueryRow(ctx, `SELECT id, name, is_default, active, created_at FROM stock_locations WHERE id=$1`, id).
		Scan(&loc.ID, &loc.Name, &loc.IsDefault, &loc.Active, &loc.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, ErrLocationNotFound
		}
		return Location{}, err
	}
	return loc, nil
}

func (r *txRepository) GetLocationStockForUpdate(ctx context.Context, variantID, locationID int64) (LocationStock, error) {
	var stock LocationStock
	err := r.tx.QueryRow(ctx, `SELECT product_variant_id, location_id, quantity, updated_at FROM location_stocks WHERE product_variant_id=$1 AND location_id=$2 FOR UPDATE`, variantID, locationID).
		Scan(&stock.ProductVariantID, &stock.LocationID, &stock.Quantity, &stock.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LocationStock{ProductVariantID: variantID, LocationID: locationID}, ErrStockNotFound
		}
		return LocationStock{}, err
	}
	return stock, nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_variant_id, location_id, type, quantity, quantity_before, quantity_after, order_id, reference, purchase_order_item_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,COALESCE($10, NOW())) RETURNING id`,
		m.ProductVariantID, nullInt(m.LocationID), string(m.Type), m.Quantity, m.QuantityBefore, m.QuantityAfter,
		nullInt(m.OrderID), nullString(m.Reference), nullInt(m.PurchaseOrderItemID), nullTime(m.CreatedAt)).Scan(&id)
	if err != nil {
		// The partial unique index on (order_id, product_variant_id, type)
		// backstops the at-most-once guarantee for order-linked movements.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateSuppressed
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) HasRestorativeMovement(ctx context.Context, orderID, variantID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_movements WHERE order_id=$1 AND product_variant_id=$2 AND type IN ($3,$4))`,
		orderID, variantID, string(MovementTypeCancellation), string(MovementTypeReturn)).Scan(&exists)
	return exists, err
}

func (r *txRepository) UpsertLocationStock(ctx context.Context, stock LocationStock) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO location_stocks (product_variant_id, location_id, quantity, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (product_variant_id, location_id) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=NOW()`,
		stock.ProductVariantID, stock.LocationID, stock.Quantity)
	return err
}

func (r *txRepository) RecomputeVariantStock(ctx context.Context, variantID int64) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO variant_stocks (product_variant_id, quantity, updated_at)
VALUES ($1, (SELECT COALESCE(SUM(quantity), 0) FROM location_stocks WHERE product_variant_id=$1), NOW())
ON CONFLICT (product_variant_id) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=NOW()`, variantID)
	return err
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
