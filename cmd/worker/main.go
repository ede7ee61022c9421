package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/tradeledger/tradeledger/internal/app"
	"github.com/tradeledger/tradeledger/internal/inventory"
	jobmetrics "github.com/tradeledger/tradeledger/internal/jobs"
	"github.com/tradeledger/tradeledger/internal/platform/db"
	"github.com/tradeledger/tradeledger/internal/shared"
	"github.com/tradeledger/tradeledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("tradeledger-worker"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := jobmetrics.NewMetrics(nil)
	stockService := inventory.NewService(inventory.NewRepository(pool))
	reconcileJob := jobs.NewStockReconcileJob(stockService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, metrics)

	var cron []jobs.CronRegistration
	if cfg.ReconcileCron != "" {
		reconcileTask, err := jobs.NewStockReconcileTask("scheduled", time.Now())
		if err != nil {
			logger.Error("build reconcile task", slog.Any("error", err))
			os.Exit(1)
		}
		cron = append(cron, jobs.CronRegistration{Spec: cfg.ReconcileCron, Task: reconcileTask})
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyTTL)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}
	cron = append(cron, jobs.CronRegistration{Spec: "30 3 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}})

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStockReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
