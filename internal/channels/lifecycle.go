package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian/internal/ledger"
	"github.com/meridian-erp/meridian/internal/shared"
)

// WriterPort abstracts the ledger writer.
type WriterPort interface {
	Append(ctx context.Context, input ledger.AppendInput) (ledger.Movement, error)
}

// IdempotencyPort deduplicates webhook deliveries before any ledger work.
// Delete rolls a key back when processing fails so the marketplace's retry
// is not mistaken for a duplicate.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, channel string) error
	Delete(ctx context.Context, key string) error
}

// LifecycleHandler translates marketplace order lifecycle events into ledger
// appends. It holds the caller-side at-most-once checks; the ledger's unique
// constraint remains the backstop for races it cannot see.
type LifecycleHandler struct {
	writer      WriterPort
	idempotency IdempotencyPort
	logger      *slog.Logger
}

// NewLifecycleHandler builds LifecycleHandler.
func NewLifecycleHandler(writer WriterPort, idempotency IdempotencyPort, logger *slog.Logger) *LifecycleHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleHandler{writer: writer, idempotency: idempotency, logger: logger}
}

// LifecycleResult summarises one processed event.
type LifecycleResult struct {
	Appended   int
	Suppressed int
}

// OrderPlaced deducts stock for each line item of a newly placed order.
func (h *LifecycleHandler) OrderPlaced(ctx context.Context, channel Channel, evt OrderEvent) (LifecycleResult, error) {
	return h.process(ctx, channel, "placed", evt, func(item OrderItem) ledger.AppendInput {
		return ledger.AppendInput{
			ProductVariantID: item.ProductVariantID,
			LocationID:       item.LocationID,
			Type:             ledger.MovementTypeSale,
			Quantity:         -item.Quantity,
			OrderID:          evt.OrderID,
			Reference:        evt.OrderNumber,
		}
	})
}

// OrderCancelled restores the stock a cancelled or rejected order had deducted.
func (h *LifecycleHandler) OrderCancelled(ctx context.Context, channel Channel, evt OrderEvent) (LifecycleResult, error) {
	return h.process(ctx, channel, "cancelled", evt, func(item OrderItem) ledger.AppendInput {
		return ledger.AppendInput{
			ProductVariantID: item.ProductVariantID,
			LocationID:       item.LocationID,
			Type:             ledger.MovementTypeCancellation,
			Quantity:         item.Quantity,
			OrderID:          evt.OrderID,
			Reference:        evt.OrderNumber,
		}
	})
}

// ReturnCompleted credits stock back for a completed customer return. The
// restorative-exclusivity check in the writer rejects it when the order was
// already cancelled.
func (h *LifecycleHandler) ReturnCompleted(ctx context.Context, channel Channel, evt OrderEvent) (LifecycleResult, error) {
	return h.process(ctx, channel, "return_completed", evt, func(item OrderItem) ledger.AppendInput {
		return ledger.AppendInput{
			ProductVariantID: item.ProductVariantID,
			LocationID:       item.LocationID,
			Type:             ledger.MovementTypeReturn,
			Quantity:         item.Quantity,
			OrderID:          evt.OrderID,
			Reference:        evt.OrderNumber,
		}
	})
}

// PurchaseReceived appends an inbound movement for received goods. Receipts
// without a supplier reference get a generated one so the movement stays
// traceable.
func (h *LifecycleHandler) PurchaseReceived(ctx context.Context, receipt PurchaseReceipt) (ledger.Movement, error) {
	if err := ValidateReceipt(receipt); err != nil {
		return ledger.Movement{}, err
	}
	if receipt.Reference == "" {
		receipt.Reference = "grn-" + uuid.NewString()
	}
	return h.writer.Append(ctx, ledger.AppendInput{
		ProductVariantID:    receipt.ProductVariantID,
		LocationID:          receipt.LocationID,
		Type:                ledger.MovementTypePurchaseReceived,
		Quantity:            receipt.Quantity,
		Reference:           receipt.Reference,
		PurchaseOrderItemID: receipt.PurchaseOrderItemID,
	})
}

func (h *LifecycleHandler) process(ctx context.Context, channel Channel, transition string, evt OrderEvent, build func(OrderItem) ledger.AppendInput) (LifecycleResult, error) {
	var result LifecycleResult
	if err := ValidateEvent(evt); err != nil {
		return result, err
	}
	key := fmt.Sprintf("%s:%s:%s", channel, transition, evt.DeliveryID)
	if h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(ctx, key, string(channel)); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				h.logger.Info("webhook delivery already processed",
					slog.String("channel", string(channel)),
					slog.String("transition", transition),
					slog.String("delivery_id", evt.DeliveryID))
				result.Suppressed = len(evt.Items)
				return result, nil
			}
			return result, err
		}
	}
	for _, item := range evt.Items {
		_, err := h.writer.Append(ctx, build(item))
		if err != nil {
			if errors.Is(err, ledger.ErrDuplicateSuppressed) {
				result.Suppressed++
				continue
			}
			if h.idempotency != nil {
				if delErr := h.idempotency.Delete(ctx, key); delErr != nil {
					h.logger.Warn("idempotency rollback failed",
						slog.String("key", key), slog.Any("error", delErr))
				}
			}
			return result, fmt.Errorf("channels: %s order %d variant %d: %w", transition, evt.OrderID, item.ProductVariantID, err)
		}
		result.Appended++
	}
	return result, nil
}
