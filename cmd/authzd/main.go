package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/audit"
	audithttp "github.com/odyssey-erp/odyssey-authz/internal/audit/http"
	"github.com/odyssey-erp/odyssey-authz/internal/auth"
	"github.com/odyssey-erp/odyssey-authz/internal/observability"
	"github.com/odyssey-erp/odyssey-authz/internal/overrides"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-authz/internal/platform/db"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
	"github.com/odyssey-erp/odyssey-authz/internal/workflow"
	"github.com/odyssey-erp/odyssey-authz/migrations"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, dbpool, migrations.Files, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// The override cache is optional; without Redis every lookup reads PostgreSQL.
	var redisClient *redis.Client
	if client, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}); err != nil {
		logger.Warn("redis unavailable, override cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	auditRecorder := audit.NewRecorder(audit.NewPgSink(dbpool), logger, metrics, cfg.AuditMaxPageSize)

	overrideRepo := overrides.NewRepository(dbpool)
	overrideCache := overrides.NewCache(redisClient, cfg.OverrideCacheTTL)
	overrideStore := overrides.NewStore(overrideRepo, overrideCache, logger, metrics)

	resolver := rbac.NewService(rbac.DefaultMatrix(), overrideStore, logger).WithObserver(metrics)
	rbacMiddleware := rbac.Middleware{Service: resolver, Logger: logger}

	transactor := db.NewTransactor(dbpool)
	overrideService := overrides.NewService(overrideRepo, overrideCache, auditRecorder, logger).WithTransactor(transactor)
	recordService := workflow.NewService(resolver, auditRecorder, workflow.NewStore(dbpool), logger).WithTransactor(transactor)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		Metrics:         metrics,
		Authenticator:   auth.NewAuthenticator(auth.NewValidator([]byte(cfg.TokenSecret), cfg.TokenIssuer), logger),
		Database:        dbpool,
		DecisionHandler: rbac.NewHandler(logger, resolver),
		OverrideHandler: overrides.NewHandler(logger, overrideService, rbacMiddleware),
		AuditHandler:    audithttp.NewHandler(logger, auditRecorder, resolver),
		RecordHandler:   workflow.NewHandler(logger, recordService),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
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
