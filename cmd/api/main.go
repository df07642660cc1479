package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/merkadoph/merkado-backend/api/routes"
	"github.com/merkadoph/merkado-backend/internal/cart"
	"github.com/merkadoph/merkado-backend/internal/commissions"
	"github.com/merkadoph/merkado-backend/internal/orders"
	"github.com/merkadoph/merkado-backend/internal/payments"
	"github.com/merkadoph/merkado-backend/internal/wallet"
	"github.com/merkadoph/merkado-backend/internal/withdrawals"
	"github.com/merkadoph/merkado-backend/pkg/breaker"
	"github.com/merkadoph/merkado-backend/pkg/config"
	"github.com/merkadoph/merkado-backend/pkg/db"
	"github.com/merkadoph/merkado-backend/pkg/logger"
	"github.com/merkadoph/merkado-backend/pkg/mailer"
	"github.com/merkadoph/merkado-backend/pkg/metrics"
	"github.com/merkadoph/merkado-backend/pkg/migrate"
	"github.com/merkadoph/merkado-backend/pkg/paymongo"
	"github.com/merkadoph/merkado-backend/pkg/redis"
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

	gateway, err := paymongo.NewClient(context.Background(), cfg.PayMongo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create payment gateway client", err)
		os.Exit(1)
	}

	mail, err := mailer.New(cfg.Mailer, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create mailer", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	settlementMetrics := metrics.NewSettlementMetrics(registry)

	remitBreaker := breaker.New(breaker.Options{
		Threshold:    cfg.Commission.BreakerThreshold,
		Window:       cfg.Commission.BreakerWindow,
		ResetTimeout: cfg.Commission.BreakerResetTimeout,
	})

	gormDB := dbClient.DB()

	walletSvc, err := wallet.NewService(wallet.NewRepository(gormDB), dbClient, logg, settlementMetrics)
	if err != nil {
		logg.Error(context.Background(), "failed to create wallet service", err)
		os.Exit(1)
	}

	ordersSvc, err := orders.NewService(
		orders.NewRepository(gormDB),
		cart.NewRepository(gormDB),
		dbClient,
		redisClient,
		logg,
		settlementMetrics,
		orders.Config{ClaimStaleAfter: cfg.Payments.ClaimStaleAfter},
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	paymentsRepo := payments.NewRepository(gormDB)
	paymentsSvc, err := payments.NewService(paymentsRepo, dbClient, gateway, ordersSvc, walletSvc, logg, settlementMetrics, cfg.Payments)
	if err != nil {
		logg.Error(context.Background(), "failed to create payments service", err)
		os.Exit(1)
	}

	commissionsSvc, err := commissions.NewService(
		commissions.NewRepository(gormDB),
		dbClient,
		walletSvc,
		remitBreaker,
		redisClient,
		logg,
		settlementMetrics,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create commissions service", err)
		os.Exit(1)
	}

	withdrawalsSvc, err := withdrawals.NewService(paymentsRepo, dbClient, walletSvc, mail, logg, settlementMetrics, cfg.Withdrawals)
	if err != nil {
		logg.Error(context.Background(), "failed to create withdrawals service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.Deps{
			Config:      cfg,
			Logger:      logg,
			DB:          dbClient,
			Redis:       redisClient,
			Gateway:     gateway,
			Payments:    paymentsSvc,
			Orders:      ordersSvc,
			Wallets:     walletSvc,
			Withdrawals: withdrawalsSvc,
			Commissions: commissionsSvc,
			Registry:    registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
