package jobs

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/reconcile"
)

type stubJanitor struct {
	calls     int
	olderThan time.Duration
}

func (s *stubJanitor) Cleanup(ctx context.Context, olderThan time.Duration) error {
	s.calls++
	s.olderThan = olderThan
	return nil
}

type stubSweeper struct {
	summary  reconcile.RecalculateSummary
	err      error
	lastMode reconcile.Mode
	calls    int
}

func (s *stubSweeper) RecalculateHistory(ctx context.Context, mode reconcile.Mode) (reconcile.RecalculateSummary, error) {
	s.lastMode = mode
	s.calls++
	return s.summary, s.err
}

func TestIntegritySweepHandlerApply(t *testing.T) {
	sweeper := &stubSweeper{summary: reconcile.RecalculateSummary{Scopes: 3, Corrected: 1}}
	janitor := &stubJanitor{}
	handler := NewIntegritySweepHandler(sweeper, janitor, slog.Default())

	task, err := NewIntegritySweepTask(time.Now().UTC(), false)
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, reconcile.ModeApply, sweeper.lastMode)
	require.Equal(t, 1, sweeper.calls)
	require.Equal(t, 1, janitor.calls)
	require.Equal(t, deliveryKeyRetention, janitor.olderThan)
}

func TestIntegritySweepHandlerDryRun(t *testing.T) {
	sweeper := &stubSweeper{}
	janitor := &stubJanitor{}
	handler := NewIntegritySweepHandler(sweeper, janitor, slog.Default())

	task, err := NewIntegritySweepTask(time.Now().UTC(), true)
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), task))
	require.Equal(t, reconcile.ModeDryRun, sweeper.lastMode)
	require.Zero(t, janitor.calls)
}

func TestIntegritySweepHandlerBadPayload(t *testing.T) {
	sweeper := &stubSweeper{}
	handler := NewIntegritySweepHandler(sweeper, nil, slog.Default())

	err := handler(context.Background(), asynq.NewTask(TaskIntegritySweep, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Zero(t, sweeper.calls)
}
