package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/wasel-ledger/wasel-ledger/internal/app"
	"github.com/wasel-ledger/wasel-ledger/internal/commission"
	"github.com/wasel-ledger/wasel-ledger/internal/events"
	"github.com/wasel-ledger/wasel-ledger/internal/ledger"
	"github.com/wasel-ledger/wasel-ledger/internal/orders"
	"github.com/wasel-ledger/wasel-ledger/internal/platform/db"
	"github.com/wasel-ledger/wasel-ledger/internal/remittance"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
	"github.com/wasel-ledger/wasel-ledger/internal/statement"
	"github.com/wasel-ledger/wasel-ledger/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	var emitter events.Emitter = events.Noop{}
	if cfg.NATSURL != "" {
		natsEmitter, err := events.NewNATSEmitter(events.NATSConfig{URL: cfg.NATSURL, Name: "wasel-worker"}, logger)
		if err != nil {
			logger.Error("connect nats", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := natsEmitter.Close(); err != nil {
				logger.Warn("nats close", slog.Any("error", err))
			}
		}()
		emitter = natsEmitter
	}

	auditLogger := shared.NewAuditLogger(pool)
	approvalRecorder := shared.NewApprovalRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)

	ordersRepo := orders.NewRepository(pool)
	remittanceRepo := remittance.NewRepository(pool)
	commissionRepo := commission.NewRepository(pool)

	ledgerCache := ledger.NewCache(redisClient, cfg.SummaryCacheTTL)
	ledgerService := ledger.NewService(ordersRepo, remittanceRepo, commissionRepo, ledgerCache, logger)

	commissionService := commission.NewService(commissionRepo, commission.ServiceConfig{
		Orders:        ordersRepo,
		Cache:         ledgerService,
		Audit:         auditLogger,
		Approvals:     approvalRecorder,
		Emitter:       emitter,
		BackfillChunk: cfg.BackfillChunk,
	}, logger)

	remittanceService := remittance.NewService(remittanceRepo, remittance.ServiceConfig{
		Balances:  ledgerService,
		Cache:     ledgerService,
		Audit:     auditLogger,
		Approvals: approvalRecorder,
		Emitter:   emitter,
	}, logger)

	gotenberg := statement.NewGotenbergClient(cfg.GotenbergURL)
	issuer := statement.NewIssuer(gotenberg, cfg.SettlementDir, logger)

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(time.Now().UTC())
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskCommissionBackfill, Handler: jobs.NewCommissionBackfillHandler(commissionService, logger)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.NewIdempotencyCleanupHandler(idempotencyStore, logger)},
			{Type: jobs.TaskSettlementRender, Handler: jobs.NewSettlementRenderHandler(remittanceService, issuer, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "45 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
