package reconcile

import (
	"context"
	"log/slog"
)

const routineDuplicateRestorations = "duplicate_restorations"

// RestorationEntry reports one double-credited (order, variant) pair.
type RestorationEntry struct {
	OrderID          int64 `json:"order_id"`
	ProductVariantID int64 `json:"product_variant_id"`
	KeepID           int64 `json:"keep_id"`
	DeleteID         int64 `json:"delete_id"`
}

// DuplicateRestorationsSummary is the outcome of a duplicate-restoration run.
type DuplicateRestorationsSummary struct {
	Mode               Mode               `json:"mode"`
	Policy             RestorationPolicy  `json:"policy"`
	PairCount          int                `json:"pair_count"`
	Entries            []RestorationEntry `json:"entries,omitempty"`
	Deleted            int                `json:"deleted"`
	AffectedVariants   int                `json:"affected_variants"`
	RecomputedVariants int                `json:"recomputed_variants"`
	StaleVariants      []int64            `json:"stale_variants,omitempty"`
	Failures           []ItemFailure      `json:"failures,omitempty"`
	FailureTotal       int                `json:"failure_total,omitempty"`
}

// DuplicateRestorations finds orders holding both a cancellation and a return
// for the same variant, which credits the stock back twice. The engine's
// policy decides which side survives; each pair is repaired in its own
// transaction, then affected variants are replay-recomputed.
func (e *Engine) DuplicateRestorations(ctx context.Context, mode Mode) (DuplicateRestorationsSummary, error) {
	summary := DuplicateRestorationsSummary{Mode: mode, Policy: e.policy}
	pairs, err := e.store.DuplicateRestorations(ctx)
	if err != nil {
		return summary, err
	}
	summary.PairCount = len(pairs)
	for _, pair := range pairs {
		keep, remove := pair.CancellationID, pair.ReturnID
		if e.policy == KeepReturn {
			keep, remove = pair.ReturnID, pair.CancellationID
		}
		summary.Entries = append(summary.Entries, RestorationEntry{
			OrderID:          pair.OrderID,
			ProductVariantID: pair.ProductVariantID,
			KeepID:           keep,
			DeleteID:         remove,
		})
	}
	if mode == ModeDryRun || len(pairs) == 0 {
		e.recordRun(ctx, routineDuplicateRestorations, mode, map[string]any{"pairs": summary.PairCount})
		return summary, nil
	}

	var variantIDs []int64
	var failures []ItemFailure
	for _, entry := range summary.Entries {
		err := e.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			_, err := tx.DeleteMovements(ctx, []int64{entry.DeleteID})
			return err
		})
		if err != nil {
			failures = append(failures, ItemFailure{
				MovementID: entry.DeleteID,
				OrderID:    entry.OrderID,
				VariantID:  entry.ProductVariantID,
				Cause:      err.Error(),
			})
			e.logger.Error("duplicate restoration removal failed",
				slog.Int64("movement_id", entry.DeleteID),
				slog.Any("error", err))
			continue
		}
		summary.Deleted++
		variantIDs = append(variantIDs, entry.ProductVariantID)
	}
	variantIDs = dedupeVariants(variantIDs)
	summary.AffectedVariants = len(variantIDs)
	summary.FailureTotal = len(failures)
	summary.Failures = previewFailures(failures)
	if e.metrics != nil {
		e.metrics.MovementsRepaired(routineDuplicateRestorations, summary.Deleted)
	}

	summary.RecomputedVariants, summary.StaleVariants = e.recomputeVariants(ctx, variantIDs)
	e.recordRun(ctx, routineDuplicateRestorations, mode, map[string]any{
		"pairs":   summary.PairCount,
		"deleted": summary.Deleted,
		"policy":  string(e.policy),
	})
	e.logger.Info("duplicate restoration removal finished",
		slog.Int("pairs", summary.PairCount),
		slog.Int("deleted", summary.Deleted),
		slog.String("policy", string(e.policy)))
	if len(summary.StaleVariants) > 0 {
		return summary, ErrProjectionStale
	}
	return summary, nil
}
