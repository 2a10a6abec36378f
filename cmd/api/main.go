package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nmendoza/stocklane-backend/api/routes"
	"github.com/nmendoza/stocklane-backend/internal/inventory"
	"github.com/nmendoza/stocklane-backend/internal/ledger"
	"github.com/nmendoza/stocklane-backend/internal/locking"
	"github.com/nmendoza/stocklane-backend/internal/notifications"
	"github.com/nmendoza/stocklane-backend/internal/orders"
	"github.com/nmendoza/stocklane-backend/internal/reservations"
	"github.com/nmendoza/stocklane-backend/pkg/clock"
	"github.com/nmendoza/stocklane-backend/pkg/config"
	"github.com/nmendoza/stocklane-backend/pkg/db"
	"github.com/nmendoza/stocklane-backend/pkg/logger"
	"github.com/nmendoza/stocklane-backend/pkg/metrics"
	"github.com/nmendoza/stocklane-backend/pkg/migrate"
	"github.com/nmendoza/stocklane-backend/pkg/pubsub"
	"github.com/nmendoza/stocklane-backend/pkg/redis"
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

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	inventoryMetrics := metrics.NewInventoryMetrics(promRegistry)

	locks, err := locking.NewRedisCoordinator(locking.RedisCoordinatorParams{
		Client:         redisClient,
		Env:            cfg.App.Env,
		LeaseTTL:       cfg.Lock.LeaseTTL,
		AcquireTimeout: cfg.Lock.AcquireTimeout,
		RetryInterval:  cfg.Lock.RetryInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create lock coordinator", err)
		os.Exit(1)
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Tx:           dbClient,
		Products:     inventory.NewProductRepository(dbClient.DB()),
		Reservations: reservations.NewRepository(dbClient.DB()),
		Ledger:       ledgerSvc,
		Locks:        locks,
		Clock:        clock.Real{},
		Logger:       logg,
		Metrics:      inventoryMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create inventory service", err)
		os.Exit(1)
	}

	var dispatcher orders.Dispatcher
	if cfg.GCP.ProjectID != "" {
		psClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap pubsub", err)
			os.Exit(1)
		}
		defer func() {
			if err := psClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing pubsub", err)
			}
		}()
		dispatcher, err = notifications.NewPubSubDispatcher(psClient.NotificationPublisher(), clock.Real{}, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to create task dispatcher", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "gcp project id not set; notification tasks disabled")
	}

	ordersSvc, err := orders.NewService(orders.NewRepository(dbClient.DB()), dbClient, inventorySvc, dispatcher, clock.Real{}, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
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
			Config:    cfg,
			Logger:    logg,
			DB:        dbClient,
			Redis:     redisClient,
			Inventory: inventorySvc,
			Ledger:    ledgerSvc,
			Orders:    ordersSvc,
			Registry:  promRegistry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
