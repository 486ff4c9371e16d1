package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/subsync/api/routes"
	"github.com/angelmondragon/subsync/internal/duplicates"
	"github.com/angelmondragon/subsync/internal/owners"
	"github.com/angelmondragon/subsync/internal/provider"
	"github.com/angelmondragon/subsync/internal/reconcile"
	"github.com/angelmondragon/subsync/internal/seats"
	"github.com/angelmondragon/subsync/internal/subscriptions"
	"github.com/angelmondragon/subsync/internal/webhooks"
	"github.com/angelmondragon/subsync/pkg/config"
	"github.com/angelmondragon/subsync/pkg/db"
	"github.com/angelmondragon/subsync/pkg/instance"
	"github.com/angelmondragon/subsync/pkg/logger"
	"github.com/angelmondragon/subsync/pkg/metrics"
	"github.com/angelmondragon/subsync/pkg/migrate"
	"github.com/angelmondragon/subsync/pkg/outbox"
	"github.com/angelmondragon/subsync/pkg/redis"
)

const (
	webhookGuardScope = "billing-webhook"
	shutdownGrace     = 15 * time.Second
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	reconcileMetrics := metrics.NewReconcileMetrics(prometheus.DefaultRegisterer)

	billing, clients, err := provider.NewFromConfig(context.Background(), cfg, reconcileMetrics, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap billing provider", err)
		os.Exit(1)
	}

	records := subscriptions.NewRepository(dbClient.DB())
	ownerRepo := owners.NewRepository(dbClient.DB())
	outboxSvc := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	subscriptionService, err := subscriptions.NewService(records)
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	ownerService, err := owners.NewService(ownerRepo)
	if err != nil {
		logg.Error(context.Background(), "failed to create owner service", err)
		os.Exit(1)
	}

	tiers, err := seats.NewTiers(cfg.Seats)
	if err != nil {
		logg.Error(context.Background(), "failed to load seat tiers", err)
		os.Exit(1)
	}
	seatService, err := seats.NewService(seats.ServiceParams{
		Records:           records,
		Provider:          billing,
		TransactionRunner: dbClient,
		Outbox:            outboxSvc,
		Tiers:             tiers,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create seat service", err)
		os.Exit(1)
	}

	duplicateService, err := duplicates.NewService(duplicates.ServiceParams{
		Records:           records,
		Provider:          billing,
		TransactionRunner: dbClient,
		Outbox:            outboxSvc,
		Logger:            logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create duplicate service", err)
		os.Exit(1)
	}

	engine, err := reconcile.NewEngine(reconcile.EngineParams{
		Records:           records,
		Owners:            ownerRepo,
		Detector:          duplicateService,
		Provider:          billing,
		TransactionRunner: dbClient,
		Outbox:            outboxSvc,
		Metrics:           reconcileMetrics,
		Logger:            logg,
		DefaultPeriod:     cfg.Billing.DefaultPeriod(),
		MaxAttempts:       cfg.Billing.MaxApplyAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile engine", err)
		os.Exit(1)
	}

	guard, err := webhooks.NewIdempotencyGuard(redisClient, cfg.Webhooks.IdempotencyTTL, webhookGuardScope)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}
	processor, err := webhooks.NewProcessor(webhooks.ProcessorParams{
		Guard:  guard,
		Engine: engine,
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook processor", err)
		os.Exit(1)
	}

	var signers routes.Providers
	if clients.Stripe != nil {
		signers.Stripe = clients.Stripe
	}
	if clients.Square != nil {
		signers.Square = clients.Square
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":              cfg.App.Env,
		"addr":             addr,
		"instance":         instance.GetID(),
		"billing_provider": cfg.Billing.NormalizedProvider(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, promhttp.Handler(), routes.Services{
			Subscriptions: subscriptionService,
			Seats:         seatService,
			Duplicates:    duplicateService,
			Owners:        ownerService,
			Webhooks:      processor,
		}, signers),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-shutdownCtx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		logg.Info(ctx, "api server draining")
		if err := server.Shutdown(drainCtx); err != nil {
			logg.Error(ctx, "graceful shutdown failed", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "api server stopped")
}
