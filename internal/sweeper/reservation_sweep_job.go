package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/nmendoza/stocklane-backend/pkg/clock"
	"github.com/nmendoza/stocklane-backend/pkg/db/models"
	"github.com/nmendoza/stocklane-backend/pkg/enums"
	"github.com/nmendoza/stocklane-backend/pkg/logger"
)

type expiredSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

type lapsedOrderReader interface {
	FindWithActiveReservationBefore(ctx context.Context, cutoff time.Time) ([]models.Order, error)
}

type expiredOrderFlagger interface {
	ReleaseExpired(ctx context.Context, orderID uuid.UUID) error
}

type taskDispatcher interface {
	Enqueue(ctx context.Context, task string, payload any) error
}

// ReservationSweepJobParams configure the reservation sweep.
type ReservationSweepJobParams struct {
	Logger    *logger.Logger
	Inventory expiredSweeper
	Orders    lapsedOrderReader
	Flagger   expiredOrderFlagger
	Notify    taskDispatcher
	Clock     clock.Clock
}

// NewReservationSweepJob builds the job that releases expired holds and drops
// the reservation flag on the orders that carried them.
func NewReservationSweepJob(params ReservationSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory sweeper required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders reader required")
	}
	if params.Flagger == nil {
		return nil, fmt.Errorf("order flagger required")
	}
	clk := params.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	return &reservationSweepJob{
		logg:      params.Logger,
		inventory: params.Inventory,
		orders:    params.Orders,
		flagger:   params.Flagger,
		notify:    params.Notify,
		clock:     clk,
	}, nil
}

type reservationSweepJob struct {
	logg      *logger.Logger
	inventory expiredSweeper
	orders    lapsedOrderReader
	flagger   expiredOrderFlagger
	notify    taskDispatcher
	clock     clock.Clock
}

func (j *reservationSweepJob) Name() string { return "reservation-sweep" }

func (j *reservationSweepJob) Run(ctx context.Context) error {
	released, sweepErr := j.inventory.SweepExpired(ctx)
	logCtx := j.logg.WithField(ctx, "released", released)
	j.logg.Info(logCtx, "expired reservations released")

	flagErr := j.flagLapsedOrders(ctx)
	return multierr.Combine(sweepErr, flagErr)
}

func (j *reservationSweepJob) flagLapsedOrders(ctx context.Context) error {
	lapsed, err := j.orders.FindWithActiveReservationBefore(ctx, j.clock.Now())
	if err != nil {
		return fmt.Errorf("query lapsed orders: %w", err)
	}
	var errs []error
	for _, order := range lapsed {
		if order.Status != enums.OrderStatusReserved && order.Status != enums.OrderStatusPending {
			continue
		}
		if err := j.flagger.ReleaseExpired(ctx, order.ID); err != nil {
			errs = append(errs, fmt.Errorf("flag order %s: %w", order.ID, err))
			continue
		}
		j.dispatchExpiry(ctx, order)
	}
	return multierr.Combine(errs...)
}

func (j *reservationSweepJob) dispatchExpiry(ctx context.Context, order models.Order) {
	if j.notify == nil {
		return
	}
	payload := map[string]any{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
	}
	if err := j.notify.Enqueue(ctx, "reservation_expired", payload); err != nil {
		logCtx := j.logg.WithOrderID(ctx, order.ID.String())
		j.logg.Error(logCtx, "failed to enqueue expiry notification", err)
	}
}
