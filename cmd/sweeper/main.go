package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nmendoza/stocklane-backend/internal/inventory"
	"github.com/nmendoza/stocklane-backend/internal/ledger"
	"github.com/nmendoza/stocklane-backend/internal/locking"
	"github.com/nmendoza/stocklane-backend/internal/notifications"
	"github.com/nmendoza/stocklane-backend/internal/orders"
	"github.com/nmendoza/stocklane-backend/internal/reservations"
	"github.com/nmendoza/stocklane-backend/internal/sweeper"
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
	logg := logger.New(logger.Options{ServiceName: "sweeper"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sweeper"

	logg = logger.New(logger.Options{
		ServiceName: "sweeper",
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

	inventoryMetrics := metrics.NewInventoryMetrics(prometheus.DefaultRegisterer)
	jobMetrics := metrics.NewSweeperJobMetrics(prometheus.DefaultRegisterer)

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

	productsRepo := inventory.NewProductRepository(dbClient.DB())
	reservationsRepo := reservations.NewRepository(dbClient.DB())

	inventorySvc, err := inventory.NewService(inventory.ServiceParams{
		Tx:           dbClient,
		Products:     productsRepo,
		Reservations: reservationsRepo,
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

	ordersRepo := orders.NewRepository(dbClient.DB())
	ordersSvc, err := orders.NewService(ordersRepo, dbClient, inventorySvc, dispatcher, clock.Real{}, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create orders service", err)
		os.Exit(1)
	}

	sweepJob, err := sweeper.NewReservationSweepJob(sweeper.ReservationSweepJobParams{
		Logger:    logg,
		Inventory: inventorySvc,
		Orders:    ordersRepo,
		Flagger:   ordersSvc,
		Notify:    dispatcher,
		Clock:     clock.Real{},
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reservation sweep job", err)
		os.Exit(1)
	}

	reconcileJob, err := sweeper.NewReconcileJob(sweeper.ReconcileJobParams{
		Logger:       logg,
		Products:     productsRepo,
		Reservations: reservationsRepo,
		Engine:       inventorySvc,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create reconcile job", err)
		os.Exit(1)
	}

	registry := sweeper.NewRegistry(sweepJob, reconcileJob)

	if dispatcher != nil {
		lowStockJob, err := sweeper.NewLowStockJob(sweeper.LowStockJobParams{
			Logger:   logg,
			Products: productsRepo,
			Deduper:  redisClient,
			Notify:   dispatcher,
			Env:      cfg.App.Env,
		})
		if err != nil {
			logg.Error(context.Background(), "failed to create low stock job", err)
			os.Exit(1)
		}
		registry.Register(lowStockJob)
	}

	lock, err := sweeper.NewRedisLock(redisClient, redisClient.SweeperLockKey(cfg.App.Env), cfg.Sweeper.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper lock", err)
		os.Exit(1)
	}

	service, err := sweeper.NewService(sweeper.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  jobMetrics,
		Interval: cfg.Sweeper.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sweeper service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting sweeper worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "sweeper worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "sweeper worker shutting down gracefully")
}
