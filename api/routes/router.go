package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nmendoza/stocklane-backend/api/controllers"
	"github.com/nmendoza/stocklane-backend/api/middleware"
	"github.com/nmendoza/stocklane-backend/internal/inventory"
	"github.com/nmendoza/stocklane-backend/internal/ledger"
	"github.com/nmendoza/stocklane-backend/internal/orders"
	"github.com/nmendoza/stocklane-backend/pkg/config"
	"github.com/nmendoza/stocklane-backend/pkg/db"
	"github.com/nmendoza/stocklane-backend/pkg/logger"
	"github.com/nmendoza/stocklane-backend/pkg/redis"
)

// Deps carries everything the router mounts.
type Deps struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        db.Pinger
	Redis     *redis.Client
	Inventory inventory.Service
	Ledger    ledger.Service
	Orders    orders.Service
	Registry  *prometheus.Registry
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.DB, deps.Redis))
	})

	if deps.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/inventory", func(r chi.Router) {
		r.Get("/{productId}", controllers.InventorySummary(deps.Inventory, logg))
		r.Get("/{productId}/movements", controllers.InventoryHistory(deps.Ledger, logg))
		r.Post("/{productId}/adjust", controllers.InventoryAdjust(deps.Inventory, logg))
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Get("/", controllers.OrderList(deps.Orders, logg))
		r.Post("/", controllers.OrderCreate(deps.Orders, logg))
		r.Get("/{orderId}", controllers.OrderDetail(deps.Orders, logg))
		r.Post("/{orderId}/reserve", controllers.OrderReserve(deps.Orders, cfg.Reservation.DefaultTTL, logg))
		r.Post("/{orderId}/confirm", controllers.OrderConfirm(deps.Orders, logg))
		r.Post("/{orderId}/cancel", controllers.OrderCancel(deps.Orders, logg))
		r.Post("/{orderId}/fulfill", controllers.OrderFulfill(deps.Orders, logg))
		r.Post("/{orderId}/extend", controllers.OrderExtendReservation(deps.Orders, logg))
	})

	return r
}
