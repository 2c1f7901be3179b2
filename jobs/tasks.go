package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian/internal/jobs"
	"github.com/meridian-erp/meridian/internal/reconcile"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskIntegritySweep replays every stock scope and repairs drifted snapshots.
	TaskIntegritySweep = "ledger:integrity_sweep"
)

// IntegritySweepPayload carries scheduling metadata for a sweep run.
type IntegritySweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
	DryRun       bool      `json:"dry_run"`
}

// NewIntegritySweepTask constructs an Asynq task for the integrity sweep.
func NewIntegritySweepTask(at time.Time, dryRun bool) (*asynq.Task, error) {
	body, err := json.Marshal(IntegritySweepPayload{ScheduledFor: at, DryRun: dryRun})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIntegritySweep, body, asynq.Queue(QueueDefault)), nil
}

// IntegritySweeper is the slice of the reconciliation engine the sweep needs.
type IntegritySweeper interface {
	RecalculateHistory(ctx context.Context, mode reconcile.Mode) (reconcile.RecalculateSummary, error)
}

// Janitor prunes expired webhook delivery keys after a sweep.
type Janitor interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// deliveryKeyRetention bounds how long processed webhook deliveries stay
// deduplicated. Marketplaces redeliver within days, not months.
const deliveryKeyRetention = 30 * 24 * time.Hour

// NewIntegritySweepHandler returns the handler processing TaskIntegritySweep.
func NewIntegritySweepHandler(engine IntegritySweeper, janitor Janitor, logger *slog.Logger) asynq.HandlerFunc {
	metrics := jobmetrics.NewMetrics(nil)
	return func(ctx context.Context, t *asynq.Task) error {
		var payload IntegritySweepPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		mode := reconcile.ModeApply
		if payload.DryRun {
			mode = reconcile.ModeDryRun
		}
		tracker := metrics.Track(TaskIntegritySweep)
		summary, err := engine.RecalculateHistory(ctx, mode)
		if err != nil {
			logger.Error("integrity sweep failed", slog.Any("error", err))
			return tracker.End(err)
		}
		metrics.AddDrift(TaskIntegritySweep, summary.Corrected)
		if janitor != nil && !payload.DryRun {
			if err := janitor.Cleanup(ctx, deliveryKeyRetention); err != nil {
				logger.Warn("delivery key cleanup failed", slog.Any("error", err))
			}
		}
		logger.Info("integrity sweep completed",
			slog.String("mode", string(mode)),
			slog.Int("scopes", summary.Scopes),
			slog.Int("scopes_corrected", summary.ScopesCorrected),
			slog.Int("movements_corrected", summary.Corrected),
			slog.Int("failures", summary.FailureTotal),
		)
		return tracker.End(nil)
	}
}
