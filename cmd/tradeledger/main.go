package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/tradeledger/tradeledger/internal/app"
	"github.com/tradeledger/tradeledger/internal/billing"
	"github.com/tradeledger/tradeledger/internal/inventory"
	"github.com/tradeledger/tradeledger/internal/masterdata"
	"github.com/tradeledger/tradeledger/internal/observability"
	"github.com/tradeledger/tradeledger/internal/platform/cache"
	"github.com/tradeledger/tradeledger/internal/platform/db"
	"github.com/tradeledger/tradeledger/internal/shared"
	"github.com/tradeledger/tradeledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PoolOptions("tradeledger-api"))
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Error("migrate database", slog.Any("error", err))
		os.Exit(1)
	}

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, bill cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	billingMetrics := observability.NewBillingMetrics(metrics.Registerer())

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer inspector.Close()

	partyService := masterdata.NewService(masterdata.NewRepository(pool))
	stockService := inventory.NewService(inventory.NewRepository(pool))

	var billCache *billing.Cache
	if redisClient != nil && cfg.BillCacheTTL > 0 {
		billCache = billing.NewCache(redisClient, cfg.BillCacheTTL)
	}

	billingService := billing.NewService(billing.ServiceConfig{
		Repo:            billing.NewRepository(pool),
		Parties:         partyService,
		Stock:           stockService,
		Audit:           shared.NewAuditLogger(pool),
		Idempotency:     shared.NewIdempotencyStore(pool),
		Cache:           billCache,
		Metrics:         billingMetrics,
		Reconcile:       jobClient,
		Logger:          logger,
		StrictStock:     !cfg.AllowNegativeStock,
		SalePricePolicy: cfg.PricePolicy(),
	})

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		BillingHandler:    billing.NewHandler(logger, billingService),
		InventoryHandler:  inventory.NewHandler(logger, stockService),
		MasterDataHandler: masterdata.NewHandler(logger, partyService),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("http server listening",
			slog.String("addr", cfg.AppAddr),
			slog.Bool("allow_negative_stock", cfg.AllowNegativeStock),
			slog.String("sale_price_policy", string(cfg.PricePolicy())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
