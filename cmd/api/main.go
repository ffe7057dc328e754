package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/orbitalapp/minutes-ledger/internal/alerts"
	"github.com/orbitalapp/minutes-ledger/internal/api"
	"github.com/orbitalapp/minutes-ledger/internal/api/handlers"
	"github.com/orbitalapp/minutes-ledger/internal/auth"
	"github.com/orbitalapp/minutes-ledger/internal/config"
	"github.com/orbitalapp/minutes-ledger/internal/db"
	"github.com/orbitalapp/minutes-ledger/internal/logger"
	"github.com/orbitalapp/minutes-ledger/internal/metrics"
	"github.com/orbitalapp/minutes-ledger/internal/middleware"
	"github.com/orbitalapp/minutes-ledger/internal/repository/postgres"
	"github.com/orbitalapp/minutes-ledger/internal/services"
	"github.com/orbitalapp/minutes-ledger/internal/worker"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if os.Getenv("APP_MIGRATE") == "true" {
		if err := db.RunMigrations(ctx, pool); err != nil {
			log.Error("migrations", "err", err)
			os.Exit(1)
		}
	}

	metrics.Init()

	wp := worker.NewPool(4)
	defer wp.Stop()

	notifier := alerts.New(cfg.AlertWebhookURL, cfg.Env, cfg.AlertEnabled, wp)

	store := postgres.New(pool)
	ledgerSvc := services.NewLedgerService(store, notifier)
	accountSvc := services.NewAccountService(store, ledgerSvc, cfg.SignupBonus)

	tm := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer)
	am := middleware.NewAuthMiddleware(tm, cfg.AdminAPIKeyHash)

	lh := handlers.NewLedgerHandler(ledgerSvc, accountSvc)
	wh := handlers.NewWebhookHandler(ledgerSvc, accountSvc, notifier,
		cfg.PaymentWebhookSecret, cfg.UsageWebhookSecret, cfg.IdentityWebhookSecret)

	r := api.NewRouter(cfg, am, lh, wh)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.HTTPPort, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
