package reconcile

import (
	"context"
	"errors"
	"log/slog"

	"github.com/meridian-erp/meridian/internal/ledger"
)

const routineNullLocation = "null_location"

// NullLocationSummary reports the legacy-row migration outcome.
type NullLocationSummary struct {
	Mode              Mode          `json:"mode"`
	Found             int           `json:"found"`
	Fixed             int           `json:"fixed"`
	Failed            int           `json:"failed"`
	DefaultLocationID int64         `json:"default_location_id,omitempty"`
	Failures          []ItemFailure `json:"failures,omitempty"`
	FailureTotal      int           `json:"failure_total,omitempty"`
}

// NullLocations migrates legacy movements without a location onto the default
// location. Each movement is its own transaction: the location is assigned,
// the projection row is found-or-created and incremented by the movement's
// quantity, and the variant aggregate is recomputed. Per-movement failures
// are counted and the batch continues; a second run is a no-op.
func (e *Engine) NullLocations(ctx context.Context, mode Mode) (NullLocationSummary, error) {
	summary := NullLocationSummary{Mode: mode}
	movements, err := e.store.NullLocationMovements(ctx)
	if err != nil {
		return summary, err
	}
	summary.Found = len(movements)
	if len(movements) == 0 {
		e.recordRun(ctx, routineNullLocation, mode, map[string]any{"found": 0})
		return summary, nil
	}

	location, err := e.store.DefaultLocation(ctx)
	if err != nil {
		// No location at all is a global precondition failure, not a
		// per-item one: abort before touching anything.
		return summary, err
	}
	summary.DefaultLocationID = location.ID

	if mode == ModeDryRun {
		summary.Fixed = len(movements)
		e.recordRun(ctx, routineNullLocation, mode, map[string]any{"would_fix": summary.Fixed})
		return summary, nil
	}

	var failures []ItemFailure
	for _, movement := range movements {
		err := e.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
			stock, err := tx.GetLocationStockForUpdate(ctx, movement.ProductVariantID, location.ID)
			if err != nil && !errors.Is(err, ledger.ErrStockNotFound) {
				return err
			}
			if err := tx.SetMovementLocation(ctx, movement.ID, location.ID); err != nil {
				return err
			}
			// Incremental add, not a replay: the movement is treated as if it
			// had always targeted the default location.
			stock.ProductVariantID = movement.ProductVariantID
			stock.LocationID = location.ID
			stock.Quantity += movement.Quantity
			if err := tx.UpsertLocationStock(ctx, stock); err != nil {
				return err
			}
			return tx.RecomputeVariantStock(ctx, movement.ProductVariantID)
		})
		if err != nil {
			failures = append(failures, ItemFailure{
				MovementID: movement.ID,
				VariantID:  movement.ProductVariantID,
				Cause:      err.Error(),
			})
			e.logger.Error("null-location migration failed for movement",
				slog.Int64("movement_id", movement.ID),
				slog.Any("error", err))
			continue
		}
		summary.Fixed++
	}
	summary.Failed = len(failures)
	summary.FailureTotal = len(failures)
	summary.Failures = previewFailures(failures)
	if e.metrics != nil {
		e.metrics.MovementsRepaired(routineNullLocation, summary.Fixed)
	}
	e.recordRun(ctx, routineNullLocation, mode, map[string]any{
		"found":    summary.Found,
		"fixed":    summary.Fixed,
		"failed":   summary.Failed,
		"location": location.ID,
	})
	e.logger.Info("null-location migration finished",
		slog.Int("found", summary.Found),
		slog.Int("fixed", summary.Fixed),
		slog.Int("failed", summary.Failed))
	return summary, nil
}
