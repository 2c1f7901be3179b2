package reconcile

import (
	"context"
	"log/slog"

	"github.com/meridian-erp/meridian/internal/ledger"
)

const routineCancelledOrders = "cancelled_orders"

// CancelledOrdersSummary reports removal of stock effects left behind by
// terminally cancelled orders.
type CancelledOrdersSummary struct {
	Mode               Mode          `json:"mode"`
	OrderCount         int           `json:"order_count"`
	OrderIDs           []int64       `json:"order_ids,omitempty"`
	DeletedMovements   int           `json:"deleted_movements"`
	AffectedVariants   int           `json:"affected_variants"`
	RecomputedVariants int           `json:"recomputed_variants"`
	StaleVariants      []int64       `json:"stale_variants,omitempty"`
	Failures           []ItemFailure `json:"failures,omitempty"`
	FailureTotal       int           `json:"failure_total,omitempty"`
}

// CancelledOrders removes all sale and cancellation movements belonging to
// orders whose terminal status is cancelled. Both directions are removed:
// the order never should have held stock, and keeping only the restorative
// half would leave a spurious credit with no matching deduction. Each order
// is deleted in its own transaction, then affected variants are
// replay-recomputed.
func (e *Engine) CancelledOrders(ctx context.Context, mode Mode) (CancelledOrdersSummary, error) {
	summary := CancelledOrdersSummary{Mode: mode}
	orderIDs, err := e.store.CancelledOrdersWithSales(ctx)
	if err != nil {
		return summary, err
	}
	summary.OrderCount = len(orderIDs)
	summary.OrderIDs = orderIDs
	if mode == ModeDryRun || len(orderIDs) == 0 {
		e.recordRun(ctx, routineCancelledOrders, mode, map[string]any{"orders": summary.OrderCount})
		return summary, nil
	}

	types := []ledger.MovementType{ledger.MovementTypeSale, ledger.MovementTypeCancellation}
	var variantIDs []int64
	var failures []ItemFailure
	for _, orderID := range orderIDs {
		var deleted []int64
		err := e.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			var err error
			deleted, err = tx.DeleteOrderMovements(ctx, orderID, types)
			return err
		})
		if err != nil {
			failures = append(failures, ItemFailure{OrderID: orderID, Cause: err.Error()})
			e.logger.Error("cancelled-order cleanup failed for order",
				slog.Int64("order_id", orderID),
				slog.Any("error", err))
			continue
		}
		summary.DeletedMovements += len(deleted)
		variantIDs = append(variantIDs, deleted...)
	}
	variantIDs = dedupeVariants(variantIDs)
	summary.AffectedVariants = len(variantIDs)
	summary.FailureTotal = len(failures)
	summary.Failures = previewFailures(failures)
	if e.metrics != nil {
		e.metrics.MovementsRepaired(routineCancelledOrders, summary.DeletedMovements)
	}

	summary.RecomputedVariants, summary.StaleVariants = e.recomputeVariants(ctx, variantIDs)
	e.recordRun(ctx, routineCancelledOrders, mode, map[string]any{
		"orders":  summary.OrderCount,
		"deleted": summary.DeletedMovements,
	})
	e.logger.Info("cancelled-order cleanup finished",
		slog.Int("orders", summary.OrderCount),
		slog.Int("deleted", summary.DeletedMovements),
		slog.Int("recomputed_variants", summary.RecomputedVariants))
	if len(summary.StaleVariants) > 0 {
		return summary, ErrProjectionStale
	}
	return summary, nil
}
