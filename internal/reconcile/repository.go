package reconcile

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/ledger"
	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Store exposes detection scans plus transactional repair operations.
// Detection reads run outside any transaction; every repair runs inside its
// own unit-of-work transaction via WithTx.
type Store interface {
	WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error
	DuplicateSaleGroups(ctx context.Context) ([]DuplicateSaleGroup, error)
	NullLocationMovements(ctx context.Context) ([]ledger.Movement, error)
	DefaultLocation(ctx context.Context) (ledger.Location, error)
	CancelledOrdersWithSales(ctx context.Context) ([]int64, error)
	DuplicateRestorations(ctx context.Context) ([]RestorationPair, error)
	MovementScopes(ctx context.Context) ([]Scope, error)
}

// TxStore extends the ledger's transactional projection operations with the
// repair mutations only the reconciliation engine may perform.
type TxStore interface {
	ledger.TxRepository
	DeleteMovements(ctx context.Context, ids []int64) (int64, error)
	DeleteOrderMovements(ctx context.Context, orderID int64, types []ledger.MovementType) ([]int64, error)
	SetMovementLocation(ctx context.Context, movementID, locationID int64) error
	UpdateMovementSnapshot(ctx context.Context, fix ledger.SnapshotFix) error
	ScopeMovements(ctx context.Context, variantID, locationID int64) ([]ledger.Movement, error)
	VariantLocations(ctx context.Context, variantID int64) ([]int64, error)
}

// DuplicateSaleGroup lists the sale movements sharing one (order, variant)
// key, ordered chronologically. The first ID is the canonical keeper.
type DuplicateSaleGroup struct {
	OrderID          int64
	ProductVariantID int64
	MovementIDs      []int64
}

// Keep returns the canonical movement that survives cleanup.
func (g DuplicateSaleGroup) Keep() int64 {
	if len(g.MovementIDs) == 0 {
		return 0
	}
	return g.MovementIDs[0]
}

// Duplicates returns the movement IDs slated for deletion.
func (g DuplicateSaleGroup) Duplicates() []int64 {
	if len(g.MovementIDs) < 2 {
		return nil
	}
	return g.MovementIDs[1:]
}

// RestorationPair is a cancellation and a return crediting the same order
// items twice.
type RestorationPair struct {
	OrderID          int64
	ProductVariantID int64
	CancellationID   int64
	ReturnID         int64
}

// Scope identifies one (variant, location) movement set.
type Scope struct {
	ProductVariantID int64
	LocationID       int64
}

// Repository implements Store against PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txStore struct {
	ledger.TxRepository
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	if r == nil {
		return errors.New("reconcile repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{TxRepository: ledger.NewTxRepository(tx), tx: tx})
	})
}
