package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-erp/meridian/internal/ledger"
	"github.com/meridian-erp/meridian/internal/shared"
)

// Mode selects between read-only detection and mutating repair.
type Mode string

const (
	// ModeDryRun detects and reports without mutating.
	ModeDryRun Mode = "dry-run"
	// ModeApply performs the repair.
	ModeApply Mode = "apply"
)

// RestorationPolicy decides which restorative movement survives when an order
// holds both a cancellation and a return for the same variant.
type RestorationPolicy string

const (
	// KeepCancellation treats the cancellation as the authoritative
	// restoration and removes the return.
	KeepCancellation RestorationPolicy = "keep-cancellation"
	// KeepReturn keeps the return and removes the cancellation instead.
	KeepReturn RestorationPolicy = "keep-return"
)

// ErrProjectionStale indicates movements were repaired but a projection
// recompute failed afterwards. The ledger itself is correct; re-running the
// history recalculation converges the projections.
var ErrProjectionStale = errors.New("reconcile: movements repaired but projection recompute failed")

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts reconciliation runs and repaired movements.
type MetricsPort interface {
	RunCompleted(routine string, mode string)
	MovementsRepaired(routine string, count int)
}

// Engine hosts the ledger repair routines. Detection always runs read-only;
// apply-mode mutations go through per-unit-of-work transactions and every
// projection rewrite uses the same replay path.
type Engine struct {
	store   Store
	audit   AuditPort
	metrics MetricsPort
	logger  *slog.Logger
	policy  RestorationPolicy
}

// EngineConfig groups optional settings.
type EngineConfig struct {
	// Policy defaults to KeepCancellation, matching the primary restoration
	// path of the order lifecycle.
	Policy RestorationPolicy
}

// NewEngine builds Engine.
func NewEngine(store Store, audit AuditPort, metrics MetricsPort, logger *slog.Logger, cfg EngineConfig) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	policy := cfg.Policy
	if policy == "" {
		policy = KeepCancellation
	}
	return &Engine{store: store, audit: audit, metrics: metrics, logger: logger, policy: policy}
}

// FailurePreview bounds how many per-item failures a summary lists in full.
const FailurePreview = 10

// ItemFailure records one failed unit of work inside a batch.
type ItemFailure struct {
	MovementID int64  `json:"movement_id,omitempty"`
	OrderID    int64  `json:"order_id,omitempty"`
	VariantID  int64  `json:"variant_id,omitempty"`
	Cause      string `json:"cause"`
}

// previewFailures caps the failure list for reporting.
func previewFailures(failures []ItemFailure) []ItemFailure {
	if len(failures) <= FailurePreview {
		return failures
	}
	return failures[:FailurePreview]
}

// recomputeVariant replays every (variant, location) scope of a variant and
// rewrites both projections inside one transaction per variant.
func (e *Engine) recomputeVariant(ctx context.Context, variantID int64) error {
	return e.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		locations, err := tx.VariantLocations(ctx, variantID)
		if err != nil {
			return err
		}
		for _, locationID := range locations {
			movements, err := tx.ScopeMovements(ctx, variantID, locationID)
			if err != nil {
				return err
			}
			final := ledger.Replay(movements)
			err = tx.UpsertLocationStock(ctx, ledger.LocationStock{
				ProductVariantID: variantID,
				LocationID:       locationID,
				Quantity:         final,
			})
			if err != nil {
				return err
			}
		}
		return tx.RecomputeVariantStock(ctx, variantID)
	})
}

// recomputeVariants replays each affected variant in its own transaction so a
// failure leaves the others committed. Failed variants are returned; any
// failure after a successful mutation is the ProjectionStale state.
func (e *Engine) recomputeVariants(ctx context.Context, variantIDs []int64) (recomputed int, stale []int64) {
	for _, variantID := range variantIDs {
		if err := e.recomputeVariant(ctx, variantID); err != nil {
			e.logger.Error("projection recompute failed",
				slog.Int64("variant_id", variantID),
				slog.Any("error", err))
			stale = append(stale, variantID)
			continue
		}
		recomputed++
	}
	return recomputed, stale
}

func (e *Engine) recordRun(ctx context.Context, routine string, mode Mode, meta map[string]any) {
	if e.metrics != nil {
		e.metrics.RunCompleted(routine, string(mode))
	}
	if e.audit == nil || mode != ModeApply {
		return
	}
	_ = e.audit.Record(ctx, shared.AuditLog{
		Action:   fmt.Sprintf("reconcile:%s", routine),
		Entity:   "reconciliation_run",
		EntityID: routine,
		Meta:     meta,
	})
}

func dedupeVariants(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
