package reconcile

import (
	"context"
	"log/slog"

	"github.com/meridian-erp/meridian/internal/ledger"
)

const routineRecalculate = "recalculate_history"

// RecalculateSummary reports the history recalculation outcome.
type RecalculateSummary struct {
	Mode            Mode          `json:"mode"`
	Scopes          int           `json:"scopes"`
	ScopesCorrected int           `json:"scopes_corrected"`
	Corrected       int           `json:"movements_corrected"`
	AlreadyCorrect  int           `json:"movements_already_correct"`
	Failures        []ItemFailure `json:"failures,omitempty"`
	FailureTotal    int           `json:"failure_total,omitempty"`
}

// RecalculateHistory replays every (variant, location) pair from zero,
// rewriting each movement's before/after snapshot where it drifted and the
// final projection value. Scopes that need no snapshot fix are left untouched:
// replay correctness guarantees their projection already matches. Safe to run
// at any time; it is the designated recovery for stale projections.
func (e *Engine) RecalculateHistory(ctx context.Context, mode Mode) (RecalculateSummary, error) {
	summary := RecalculateSummary{Mode: mode}
	scopes, err := e.store.MovementScopes(ctx)
	if err != nil {
		return summary, err
	}
	summary.Scopes = len(scopes)

	var failures []ItemFailure
	for _, scope := range scopes {
		corrected, total, err := e.recalculateScope(ctx, scope, mode)
		if err != nil {
			failures = append(failures, ItemFailure{
				VariantID: scope.ProductVariantID,
				Cause:     err.Error(),
			})
			e.logger.Error("history recalculation failed for scope",
				slog.Int64("variant_id", scope.ProductVariantID),
				slog.Int64("location_id", scope.LocationID),
				slog.Any("error", err))
			continue
		}
		summary.Corrected += corrected
		summary.AlreadyCorrect += total - corrected
		if corrected > 0 {
			summary.ScopesCorrected++
		}
	}
	summary.FailureTotal = len(failures)
	summary.Failures = previewFailures(failures)
	if e.metrics != nil && mode == ModeApply {
		e.metrics.MovementsRepaired(routineRecalculate, summary.Corrected)
	}
	e.recordRun(ctx, routineRecalculate, mode, map[string]any{
		"scopes":    summary.Scopes,
		"corrected": summary.Corrected,
	})
	e.logger.Info("history recalculation finished",
		slog.String("mode", string(mode)),
		slog.Int("scopes", summary.Scopes),
		slog.Int("corrected", summary.Corrected),
		slog.Int("already_correct", summary.AlreadyCorrect))
	return summary, nil
}

// recalculateScope folds one (variant, location) pair inside its own
// transaction and returns (corrected, total movements).
func (e *Engine) recalculateScope(ctx context.Context, scope Scope, mode Mode) (int, int, error) {
	var corrected, total int
	err := e.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		movements, err := tx.ScopeMovements(ctx, scope.ProductVariantID, scope.LocationID)
		if err != nil {
			return err
		}
		total = len(movements)
		fixes, final := ledger.ReplaySnapshots(movements)
		corrected = len(fixes)
		if mode == ModeDryRun || len(fixes) == 0 {
			return nil
		}
		for _, fix := range fixes {
			if err := tx.UpdateMovementSnapshot(ctx, fix); err != nil {
				return err
			}
		}
		err = tx.UpsertLocationStock(ctx, ledger.LocationStock{
			ProductVariantID: scope.ProductVariantID,
			LocationID:       scope.LocationID,
			Quantity:         final,
		})
		if err != nil {
			return err
		}
		return tx.RecomputeVariantStock(ctx, scope.ProductVariantID)
	})
	return corrected, total, err
}
