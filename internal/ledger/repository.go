package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Repository persists the movement ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by the Writer. Every
// projection write in the system, including reconciliation repairs, goes
// through these methods so the derivation path is single.
type TxRepository interface {
	GetLocation(ctx context.Context, id int64) (Location, error)
	GetLocationStockForUpdate(ctx context.Context, variantID, locationID int64) (LocationStock, error)
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	HasRestorativeMovement(ctx context.Context, orderID, variantID int64) (bool, error)
	UpsertLocationStock(ctx context.Context, stock LocationStock) error
	RecomputeVariantStock(ctx context.Context, variantID int64) error
}

// ErrStockNotFound indicates a missing location stock row.
var ErrStockNotFound = errors.New("ledger: location stock not found")

// ErrLocationNotFound indicates a missing location row.
var ErrLocationNotFound = errors.New("ledger: location not found")

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction with the ledger's projection
// operations. Reconciliation repairs embed this so corrected projections are
// written through the same path as live appends.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// GetMovements lists movements for a (variant, location) scope in replay order.
func (r *Repository) GetMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if r == nil {
		return nil, errors.New("ledger repository not initialised")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_variant_id, COALESCE(location_id, 0), type, quantity, quantity_before, quantity_after, COALESCE(order_id, 0), COALESCE(reference, ''), COALESCE(purchase_order_item_id, 0), created_at
FROM stock_movements
WHERE product_variant_id=$1 AND location_id=$2 AND created_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY created_at ASC, id ASC
LIMIT $5`, filter.ProductVariantID, filter.LocationID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// GetLocationStocks returns the materialized per-location quantities of a variant.
func (r *Repository) GetLocationStocks(ctx context.Context, variantID int64) ([]LocationStock, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_variant_id, location_id, quantity, updated_at
FROM location_stocks WHERE product_variant_id=$1 ORDER BY location_id ASC`, variantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	stocks := []LocationStock{}
	for rows.Next() {
		var s LocationStock
		if err := rows.Scan(&s.ProductVariantID, &s.LocationID, &s.Quantity, &s.UpdatedAt); err != nil {
			return nil, err
		}
		stocks = append(stocks, s)
	}
	return stocks, rows.Err()
}

// GetVariantStock returns the cross-location total for a variant.
func (r *Repository) GetVariantStock(ctx context.Context, variantID int64) (VariantStock, error) {
	var s VariantStock
	err := r.pool.QueryRow(ctx, `SELECT product_variant_id, quantity, updated_at FROM variant_stocks WHERE product_variant_id=$1`, variantID).
		Scan(&s.ProductVariantID, &s.Quantity, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VariantStock{ProductVariantID: variantID}, ErrStockNotFound
		}
		return VariantStock{}, err
	}
	return s, nil
}

func scanMovements(rows pgx.Rows) ([]Movement, error) {
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.ProductVariantID, &m.LocationID, &m.Type, &m.Quantity, &m.QuantityBefore, &m.QuantityAfter, &m.OrderID, &m.Reference, &m.PurchaseOrderItemID, &m.CreatedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
