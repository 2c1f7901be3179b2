package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	locations map[int64]Location
	stocks    map[string]LocationStock
	variants  map[int64]int64
	movements []Movement
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		locations: map[int64]Location{
			1: {ID: 1, Name: "Main", IsDefault: true, Active: true},
			2: {ID: 2, Name: "Outlet", Active: true},
			9: {ID: 9, Name: "Closed", Active: false},
		},
		stocks:   make(map[string]LocationStock),
		variants: make(map[int64]int64),
	}
}

func stockKey(variantID, locationID int64) string {
	return fmt.Sprintf("%d:%d", variantID, locationID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if m.ProductVariantID == filter.ProductVariantID && m.LocationID == filter.LocationID {
			out = append(out, m)
		}
	}
	SortChronological(out)
	return out, nil
}

func (tx *memoryTx) GetLocation(ctx context.Context, id int64) (Location, error) {
	loc, ok := tx.repo.locations[id]
	if !ok {
		return Location{}, ErrLocationNotFound
	}
	return loc, nil
}

func (tx *memoryTx) GetLocationStockForUpdate(ctx context.Context, variantID, locationID int64) (LocationStock, error) {
	if stock, ok := tx.repo.stocks[stockKey(variantID, locationID)]; ok {
		return stock, nil
	}
	return LocationStock{ProductVariantID: variantID, LocationID: locationID}, ErrStockNotFound
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	if m.OrderID != 0 {
		switch m.Type {
		case MovementTypeSale, MovementTypeCancellation, MovementTypeReturn:
			for _, existing := range tx.repo.movements {
				if existing.OrderID == m.OrderID && existing.ProductVariantID == m.ProductVariantID && existing.Type == m.Type {
					return 0, ErrDuplicateSuppressed
				}
			}
		}
	}
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) HasRestorativeMovement(ctx context.Context, orderID, variantID int64) (bool, error) {
	for _, m := range tx.repo.movements {
		if m.OrderID == orderID && m.ProductVariantID == variantID && m.Type.Restorative() {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) UpsertLocationStock(ctx context.Context, stock LocationStock) error {
	tx.repo.stocks[stockKey(stock.ProductVariantID, stock.LocationID)] = stock
	return nil
}

func (tx *memoryTx) RecomputeVariantStock(ctx context.Context, variantID int64) error {
	var total int64
	for _, stock := range tx.repo.stocks {
		if stock.ProductVariantID == variantID {
			total += stock.Quantity
		}
	}
	tx.repo.variants[variantID] = total
	return nil
}

func TestAppendUpdatesProjections(t *testing.T) {
	repo := newMemoryRepo()
	w := NewWriter(repo, nil, nil, nil)
	ctx := context.Background()

	m, err := w.Append(ctx, AppendInput{ProductVariantID: 7, LocationID: 1, Type: MovementTypePurchaseReceived, Quantity: 10, PurchaseOrderItemID: 42})
	require.NoError(t, err)
	require.EqualValues(t, 0, m.QuantityBefore)
	require.EqualValues(t, 10, m.QuantityAfter)

	m, err = w.Append(ctx, AppendInput{ProductVariantID: 7, LocationID: 1, Type: MovementTypeSale, Quantity: -3, OrderID: 100})
	require.NoError(t, err)
	require.EqualValues(t, 10, m.QuantityBefore)
	require.EqualValues(t, 7, m.QuantityAfter)
	require.EqualValues(t, 7, repo.stocks[stockKey(7, 1)].Quantity)

	_, err = w.Append(ctx, AppendInput{ProductVariantID: 7, LocationID: 2, Type: MovementTypeAdjustment, Quantity: 5})
	require.NoError(t, err)
	require.EqualValues(t, 12, repo.variants[7])
}

func TestAppendSignMismatch(t *testing.T) {
	repo := newMemoryRepo()
	w := NewWriter(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := w.Append(ctx, AppendInput{ProductVariantID: 1, LocationID: 1, Type: MovementTypeSale, Quantity: 2})
	require.ErrorIs(t, err, ErrSignMismatch)

	_, err = w.Append(ctx, AppendInput{ProductVariantID: 1, LocationID: 1, Type: MovementTypeReturn, Quantity: -2})
	require.ErrorIs(t, err, ErrSignMismatch)

	_, err = w.Append(ctx, AppendInput{ProductVariantID: 1, LocationID: 1, Type: MovementTypeCancellation, Quantity: -1})
	require.ErrorIs(t, err, ErrSignMismatch)
}

func TestAppendInvalidLocation(t *testing.T) {
	repo := newMemoryRepo()
	w := NewWriter(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := w.Append(ctx, AppendInput{ProductVariantID: 1, LocationID: 77, Type: MovementTypeAdjustment, Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidLocation)

	// Inactive locations are rejected the same way.
	_, err = w.Append(ctx, AppendInput{ProductVariantID: 1, LocationID: 9, Type: MovementTypeAdjustment, Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidLocation)

	_, err = w.Append(ctx, AppendInput{ProductVariantID: 1, Type: MovementTypeAdjustment, Quantity: 1})
	require.ErrorIs(t, err, ErrInvalidLocation)
}

func TestAppendDuplicateSaleSuppressed(t *testing.T) {
	repo := newMemoryRepo()
	w := NewWriter(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := w.Append(ctx, AppendInput{ProductVariantID: 3, LocationID: 1, Type: MovementTypeSale, Quantity: -2, OrderID: 55})
	require.NoError(t, err)

	_, err = w.Append(ctx, AppendInput{ProductVariantID: 3, LocationID: 1, Type: MovementTypeSale, Quantity: -2, OrderID: 55})
	require.ErrorIs(t, err, ErrDuplicateSuppressed)

	// The suppressed append must leave no quantity effect behind.
	require.EqualValues(t, -2, repo.stocks[stockKey(3, 1)].Quantity)
	require.Len(t, repo.movements, 1)
}

func TestAppendRestorativeExclusivity(t *testing.T) {
	repo := newMemoryRepo()
	w := NewWriter(repo, nil, nil, nil)
	ctx := context.Background()

	_, err := w.Append(ctx, AppendInput{ProductVariantID: 3, LocationID: 1, Type: MovementTypeSale, Quantity: -4, OrderID: 60})
	require.NoError(t, err)
	_, err = w.Append(ctx, AppendInput{ProductVariantID: 3, LocationID: 1, Type: MovementTypeCancellation, Quantity: 4, OrderID: 60})
	require.NoError(t, err)

	// A return after a cancellation would credit the same items twice.
	_, err = w.Append(ctx, AppendInput{ProductVariantID: 3, LocationID: 1, Type: MovementTypeReturn, Quantity: 4, OrderID: 60})
	require.ErrorIs(t, err, ErrDuplicateSuppressed)
	require.EqualValues(t, 0, repo.stocks[stockKey(3, 1)].Quantity)
}

func TestAppendRejectsUnknownType(t *testing.T) {
	repo := newMemoryRepo()
	w := NewWriter(repo, nil, nil, nil)

	_, err := w.Append(context.Background(), AppendInput{ProductVariantID: 1, LocationID: 1, Type: MovementType("UNKNOWN"), Quantity: 1})
	require.ErrorIs(t, err, ErrUnknownMovementType)

	_, err = w.Append(context.Background(), AppendInput{ProductVariantID: 1, LocationID: 1, Type: MovementTypeAdjustment})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}
