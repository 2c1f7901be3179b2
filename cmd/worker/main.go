package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian/internal/app"
	"github.com/meridian-erp/meridian/internal/observability"
	"github.com/meridian-erp/meridian/internal/platform/db"
	"github.com/meridian-erp/meridian/internal/reconcile"
	"github.com/meridian-erp/meridian/internal/shared"
	"github.com/meridian-erp/meridian/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	policy, err := cfg.ParseRestorationPolicy()
	if err != nil {
		logger.Error("restoration policy", slog.Any("error", err))
		os.Exit(1)
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	store := reconcile.NewRepository(pool)
	engine := reconcile.NewEngine(store, auditLogger, metrics, logger, reconcile.EngineConfig{Policy: policy})

	sweepTask, err := jobs.NewIntegritySweepTask(time.Now().UTC(), false)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: map[string]asynq.HandlerFunc{
			jobs.TaskIntegritySweep: jobs.NewIntegritySweepHandler(engine, idempotencyStore, logger),
		},
		Cron: []jobs.CronJob{
			{Spec: "@every " + cfg.SweepInterval.String(), Task: sweepTask},
		},
	})
	if err != nil {
		logger.Error("build worker", slog.Any("error", err))
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting worker", slog.String("queue", jobs.QueueDefault))
		return worker.Run(gctx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("worker stopped", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker shut down")
}
