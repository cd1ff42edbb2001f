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

	"golang.org/x/sync/errgroup"

	"github.com/crestline-dms/crestline/internal/app"
	"github.com/crestline-dms/crestline/internal/budgets"
	"github.com/crestline-dms/crestline/internal/coa"
	"github.com/crestline-dms/crestline/internal/ledger"
	"github.com/crestline-dms/crestline/internal/observability"
	"github.com/crestline-dms/crestline/internal/periods"
	"github.com/crestline-dms/crestline/internal/platform/cache"
	"github.com/crestline-dms/crestline/internal/platform/db"
	"github.com/crestline-dms/crestline/internal/shared"
	"github.com/crestline-dms/crestline/internal/taxcodes"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, hierarchy cache disabled", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	metrics := observability.NewMetrics()

	accountsRepo := coa.NewRepository(pool)
	hierarchyCache := coa.NewHierarchyCache(redisClient, cfg.HierarchyCacheTTL)
	accountsService := coa.NewService(accountsRepo, hierarchyCache)
	accountsHandler := coa.NewHandler(logger, accountsService)

	periodsRepo := periods.NewRepository(pool)
	periodsService := periods.NewService(periodsRepo, auditLogger, metrics)
	periodsHandler := periods.NewHandler(logger, periodsService)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, accountsService, periodsService, auditLogger, metrics)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, idempotencyStore)

	budgetsRepo := budgets.NewRepository(pool)
	budgetsService := budgets.NewService(budgetsRepo, auditLogger)
	budgetsHandler := budgets.NewHandler(logger, budgetsService)

	taxRepo := taxcodes.NewRepository(pool)
	taxService := taxcodes.NewService(taxRepo)
	taxHandler := taxcodes.NewHandler(logger, taxService)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		AccountsHandler: accountsHandler,
		PeriodsHandler:  periodsHandler,
		JournalHandler:  ledgerHandler,
		BudgetsHandler:  budgetsHandler,
		TaxCodesHandler: taxHandler,
		Pool:            pool,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
