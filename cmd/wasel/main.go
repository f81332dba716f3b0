package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wasel-ledger/wasel-ledger/internal/app"
	"github.com/wasel-ledger/wasel-ledger/internal/commission"
	"github.com/wasel-ledger/wasel-ledger/internal/events"
	"github.com/wasel-ledger/wasel-ledger/internal/ledger"
	"github.com/wasel-ledger/wasel-ledger/internal/observability"
	"github.com/wasel-ledger/wasel-ledger/internal/orders"
	"github.com/wasel-ledger/wasel-ledger/internal/platform/cache"
	"github.com/wasel-ledger/wasel-ledger/internal/platform/db"
	"github.com/wasel-ledger/wasel-ledger/internal/remittance"
	"github.com/wasel-ledger/wasel-ledger/internal/shared"
	"github.com/wasel-ledger/wasel-ledger/internal/statement"
	"github.com/wasel-ledger/wasel-ledger/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if err := db.Migrate(cfg.PGDSN, cfg.MigrationsDir); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var emitter events.Emitter = events.Noop{}
	if cfg.NATSURL != "" {
		natsEmitter, err := events.NewNATSEmitter(events.NATSConfig{URL: cfg.NATSURL, Name: "wasel-ledger"}, logger)
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

	auditLogger := shared.NewAuditLogger(dbpool)
	approvalRecorder := shared.NewApprovalRecorder(dbpool, logger)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	ordersRepo := orders.NewRepository(dbpool)
	ordersService := orders.NewService(ordersRepo, idempotencyStore, emitter, logger)

	remittanceRepo := remittance.NewRepository(dbpool)
	commissionRepo := commission.NewRepository(dbpool)

	ledgerCache := ledger.NewCache(redisClient, cfg.SummaryCacheTTL)
	ledgerService := ledger.NewService(ordersRepo, remittanceRepo, commissionRepo, ledgerCache, logger)

	gotenberg := statement.NewGotenbergClient(cfg.GotenbergURL)
	issuer := statement.NewIssuer(gotenberg, cfg.SettlementDir, logger)

	metrics := observability.NewMetrics()

	remittanceService := remittance.NewService(remittanceRepo, remittance.ServiceConfig{
		Balances:    ledgerService,
		Settlements: issuer,
		Cache:       ledgerService,
		Audit:       auditLogger,
		Approvals:   approvalRecorder,
		Emitter:     emitter,
		Metrics:     metrics,
	}, logger)

	commissionService := commission.NewService(commissionRepo, commission.ServiceConfig{
		Orders:        ordersRepo,
		Cache:         ledgerService,
		Audit:         auditLogger,
		Approvals:     approvalRecorder,
		Emitter:       emitter,
		Metrics:       metrics,
		BackfillChunk: cfg.BackfillChunk,
	}, logger)

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	ordersHandler := orders.NewHandler(logger, ordersService)
	remittanceHandler := remittance.NewHandler(logger, remittanceService)
	commissionHandler := commission.NewHandler(logger, commissionService, jobClient)
	ledgerHandler := ledger.NewHandler(ledgerService)
	statementHandler := statement.NewHandler(logger, ledgerService, ordersRepo, remittanceService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		OrdersHandler:     ordersHandler,
		RemittanceHandler: remittanceHandler,
		CommissionHandler: commissionHandler,
		LedgerHandler:     ledgerHandler,
		StatementHandler:  statementHandler,
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
