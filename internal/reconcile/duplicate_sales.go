package reconcile

import (
	"context"
	"log/slog"
)

const routineDuplicateSales = "duplicate_sales"

// DuplicateSaleEntry reports the keep/delete decision for one corrupted
// (order, variant) group.
type DuplicateSaleEntry struct {
	OrderID          int64   `json:"order_id"`
	ProductVariantID int64   `json:"product_variant_id"`
	KeepID           int64   `json:"keep_id"`
	DeleteIDs        []int64 `json:"delete_ids"`
}

// DuplicateSalesSummary is the machine-readable outcome of a cleanup run.
type DuplicateSalesSummary struct {
	Mode               Mode                 `json:"mode"`
	GroupCount         int                  `json:"group_count"`
	DuplicateCount     int                  `json:"duplicate_count"`
	AffectedVariants   int                  `json:"affected_variants"`
	Entries            []DuplicateSaleEntry `json:"entries,omitempty"`
	Deleted            int64                `json:"deleted"`
	RecomputedVariants int                  `json:"recomputed_variants"`
	StaleVariants      []int64              `json:"stale_variants,omitempty"`
}

// DuplicateSales finds (order, variant) groups holding more than one sale
// movement, keeps the chronologically earliest of each, and in apply mode
// deletes the rest in a single transaction before replay-recomputing every
// affected variant's projections.
func (e *Engine) DuplicateSales(ctx context.Context, mode Mode) (DuplicateSalesSummary, error) {
	summary := DuplicateSalesSummary{Mode: mode}
	groups, err := e.store.DuplicateSaleGroups(ctx)
	if err != nil {
		return summary, err
	}

	var deleteIDs []int64
	var variantIDs []int64
	for _, group := range groups {
		duplicates := group.Duplicates()
		if len(duplicates) == 0 {
			continue
		}
		summary.GroupCount++
		summary.DuplicateCount += len(duplicates)
		deleteIDs = append(deleteIDs, duplicates...)
		variantIDs = append(variantIDs, group.ProductVariantID)
		summary.Entries = append(summary.Entries, DuplicateSaleEntry{
			OrderID:          group.OrderID,
			ProductVariantID: group.ProductVariantID,
			KeepID:           group.Keep(),
			DeleteIDs:        duplicates,
		})
	}
	variantIDs = dedupeVariants(variantIDs)
	summary.AffectedVariants = len(variantIDs)

	if mode == ModeDryRun || summary.GroupCount == 0 {
		e.recordRun(ctx, routineDuplicateSales, mode, map[string]any{
			"groups": summary.GroupCount, "duplicates": summary.DuplicateCount,
		})
		return summary, nil
	}

	// All groups are deleted atomically; a partial cleanup would leave the
	// ledger in a state no single re-run recognises.
	err = e.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		deleted, err := tx.DeleteMovements(ctx, deleteIDs)
		if err != nil {
			return err
		}
		summary.Deleted = deleted
		return nil
	})
	if err != nil {
		return summary, err
	}
	if e.metrics != nil {
		e.metrics.MovementsRepaired(routineDuplicateSales, int(summary.Deleted))
	}

	summary.RecomputedVariants, summary.StaleVariants = e.recomputeVariants(ctx, variantIDs)
	e.recordRun(ctx, routineDuplicateSales, mode, map[string]any{
		"groups":  summary.GroupCount,
		"deleted": summary.Deleted,
	})
	e.logger.Info("duplicate sale cleanup finished",
		slog.Int("groups", summary.GroupCount),
		slog.Int64("deleted", summary.Deleted),
		slog.Int("recomputed_variants", summary.RecomputedVariants))
	if len(summary.StaleVariants) > 0 {
		return summary, ErrProjectionStale
	}
	return summary, nil
}
