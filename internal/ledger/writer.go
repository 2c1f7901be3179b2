package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-erp/meridian/internal/shared"
)

// RepositoryPort abstracts repository usage for the Writer.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts ledger writes and suppressed duplicates.
type MetricsPort interface {
	MovementAppended(movementType string)
	DuplicateSuppressed(movementType string)
}

// Writer is the only component allowed to append movements and update the
// stock projections. Both happen inside one transaction per append.
type Writer struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
}

// NewWriter builds Writer.
func NewWriter(repo RepositoryPort, audit AuditPort, metrics MetricsPort, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{repo: repo, audit: audit, metrics: metrics, logger: logger}
}

// Append validates and appends a movement, updating the location stock
// projection and the variant aggregate in the same transaction. A duplicate
// order-linked movement returns ErrDuplicateSuppressed without any effect.
func (w *Writer) Append(ctx context.Context, input AppendInput) (Movement, error) {
	if input.ProductVariantID == 0 {
		return Movement{}, errors.New("ledger: product variant required")
	}
	if input.LocationID == 0 {
		return Movement{}, ErrInvalidLocation
	}
	if input.Quantity == 0 {
		return Movement{}, ErrInvalidQuantity
	}
	if _, err := ParseMovementType(string(input.Type)); err != nil {
		return Movement{}, err
	}
	if err := checkSign(input.Type, input.Quantity); err != nil {
		return Movement{}, err
	}

	var movement Movement
	err := w.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		loc, err := tx.GetLocation(ctx, input.LocationID)
		if err != nil {
			if errors.Is(err, ErrLocationNotFound) {
				return ErrInvalidLocation
			}
			return err
		}
		if !loc.Active {
			return ErrInvalidLocation
		}
		if input.Type.Restorative() && input.OrderID != 0 {
			// A cancellation and a return both credit the same order items
			// back; only one restorative movement may exist per order+variant.
			exists, err := tx.HasRestorativeMovement(ctx, input.OrderID, input.ProductVariantID)
			if err != nil {
				return err
			}
			if exists {
				return ErrDuplicateSuppressed
			}
		}
		stock, err := tx.GetLocationStockForUpdate(ctx, input.ProductVariantID, input.LocationID)
		if err != nil && !errors.Is(err, ErrStockNotFound) {
			return err
		}
		before := stock.Quantity
		after := before + input.Quantity
		movement = Movement{
			ProductVariantID:    input.ProductVariantID,
			LocationID:          input.LocationID,
			Type:                input.Type,
			Quantity:            input.Quantity,
			QuantityBefore:      before,
			QuantityAfter:       after,
			OrderID:             input.OrderID,
			Reference:           input.Reference,
			PurchaseOrderItemID: input.PurchaseOrderItemID,
			CreatedAt:           time.Now().UTC(),
		}
		id, err := tx.InsertMovement(ctx, movement)
		if err != nil {
			return err
		}
		movement.ID = id
		stock.ProductVariantID = input.ProductVariantID
		stock.LocationID = input.LocationID
		stock.Quantity = after
		if err := tx.UpsertLocationStock(ctx, stock); err != nil {
			return err
		}
		return tx.RecomputeVariantStock(ctx, input.ProductVariantID)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateSuppressed) {
			w.logger.Info("duplicate movement suppressed",
				slog.String("type", string(input.Type)),
				slog.Int64("order_id", input.OrderID),
				slog.Int64("variant_id", input.ProductVariantID))
			if w.metrics != nil {
				w.metrics.DuplicateSuppressed(string(input.Type))
			}
		}
		return Movement{}, err
	}
	if w.metrics != nil {
		w.metrics.MovementAppended(string(input.Type))
	}
	if w.audit != nil {
		_ = w.audit.Record(ctx, shared.AuditLog{
			Action:   fmt.Sprintf("ledger:%s", input.Type),
			Entity:   "stock_movement",
			EntityID: fmt.Sprintf("%d", movement.ID),
			Meta: map[string]any{
				"variant_id":  input.ProductVariantID,
				"location_id": input.LocationID,
				"quantity":    input.Quantity,
				"order_id":    input.OrderID,
			},
		})
	}
	return movement, nil
}

// GetMovements lists the movement log for a (variant, location) scope.
func (w *Writer) GetMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	if filter.ProductVariantID == 0 || filter.LocationID == 0 {
		return nil, errors.New("ledger: variant and location required")
	}
	return w.repo.GetMovements(ctx, filter)
}

func checkSign(t MovementType, quantity int64) error {
	switch t {
	case MovementTypeSale:
		if quantity >= 0 {
			return ErrSignMismatch
		}
	case MovementTypeCancellation, MovementTypeReturn, MovementTypePurchaseReceived:
		if quantity <= 0 {
			return ErrSignMismatch
		}
	}
	return nil
}
