package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nmendoza/stocklane-backend/internal/inventory"
	"github.com/nmendoza/stocklane-backend/pkg/clock"
	"github.com/nmendoza/stocklane-backend/pkg/db/models"
	"github.com/nmendoza/stocklane-backend/pkg/enums"
	pkgerrors "github.com/nmendoza/stocklane-backend/pkg/errors"
	"github.com/nmendoza/stocklane-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// inventoryEngine is the slice of the inventory service the order lifecycle
// drives.
type inventoryEngine interface {
	ReserveForOrder(ctx context.Context, demands []inventory.Demand, orderID uuid.UUID, ttl time.Duration) ([]models.StockReservation, error)
	ConfirmReservations(ctx context.Context, orderID uuid.UUID) error
	CancelReservations(ctx context.Context, orderID uuid.UUID, reason string) error
	Fulfill(ctx context.Context, orderID uuid.UUID, lines []inventory.Demand) error
	ExtendReservations(ctx context.Context, orderID uuid.UUID, additional time.Duration) (*time.Time, error)
}

// Dispatcher enqueues notification tasks. Delivery is best effort; failures
// are logged and never fail the order transition.
type Dispatcher interface {
	Enqueue(ctx context.Context, task string, payload any) error
}

// CreateOrderInput describes a draft order.
type CreateOrderInput struct {
	CustomerID uuid.UUID
	Notes      string
	Items      []CreateOrderItem
}

// CreateOrderItem is one requested line.
type CreateOrderItem struct {
	ProductID uuid.UUID
	Qty       int
	UnitPrice decimal.Decimal
}

// Service drives orders through their lifecycle, delegating every stock
// mutation to the inventory engine.
type Service interface {
	Create(ctx context.Context, input CreateOrderInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Order, error)
	Reserve(ctx context.Context, orderID uuid.UUID, ttl time.Duration) (*models.Order, error)
	Confirm(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error)
	Fulfill(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ExtendReservation(ctx context.Context, orderID uuid.UUID, additional time.Duration) (*models.Order, error)
	ReleaseExpired(ctx context.Context, orderID uuid.UUID) error
}

type service struct {
	repo      Repository
	tx        txRunner
	inventory inventoryEngine
	notify    Dispatcher
	clock     clock.Clock
	logg      *logger.Logger
}

// NewService builds an order service with the required dependencies. The
// dispatcher may be nil when notifications are disabled.
func NewService(repo Repository, tx txRunner, engine inventoryEngine, notify Dispatcher, clk clock.Clock, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if engine == nil {
		return nil, fmt.Errorf("inventory engine required")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      repo,
		tx:        tx,
		inventory: engine,
		notify:    notify,
		clock:     clk,
		logg:      logg,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order needs at least one item")
	}
	seen := make(map[uuid.UUID]bool, len(input.Items))
	for _, item := range input.Items {
		if item.ProductID == uuid.Nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item product id required")
		}
		if item.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "item unit price cannot be negative")
		}
		if seen[item.ProductID] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("duplicate product %s in order items", item.ProductID))
		}
		seen[item.ProductID] = true
	}

	order := &models.Order{
		CustomerID: input.CustomerID,
		Status:     enums.OrderStatusDraft,
		Notes:      input.Notes,
	}
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.Create(ctx, order); err != nil {
			return err
		}
		total := decimal.Zero
		items := make([]models.OrderItem, 0, len(input.Items))
		for _, item := range input.Items {
			lineTotal := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Qty)))
			total = total.Add(lineTotal)
			items = append(items, models.OrderItem{
				OrderID:    order.ID,
				ProductID:  item.ProductID,
				Qty:        item.Qty,
				UnitPrice:  item.UnitPrice,
				TotalPrice: lineTotal,
			})
		}
		if err := repo.CreateItems(ctx, items); err != nil {
			return err
		}
		order.Items = items
		order.TotalAmount = total
		return repo.Update(ctx, order.ID, map[string]any{"total_amount": total})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.loadOrder(ctx, orderID)
}

func (s *service) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]models.Order, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id required")
	}
	list, err := s.repo.ListByCustomer(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

// Reserve holds stock for every line of a draft order. On success the order
// moves to reserved and carries the hold expiry; on insufficient stock the
// order moves to failed and the error is returned.
func (s *service) Reserve(ctx context.Context, orderID uuid.UUID, ttl time.Duration) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusDraft {
		return nil, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("order %s cannot be reserved from status %s", orderID, order.Status))
	}
	if len(order.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no items to reserve")
	}

	demands := make([]inventory.Demand, 0, len(order.Items))
	for _, item := range order.Items {
		demands = append(demands, inventory.Demand{ProductID: item.ProductID, Qty: item.Qty})
	}

	reservationRows, err := s.inventory.ReserveForOrder(ctx, demands, orderID, ttl)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
			if markErr := s.repo.UpdateStatus(ctx, orderID, enums.OrderStatusFailed); markErr != nil {
				s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()),
					"failed to mark order failed after reserve rejection", markErr)
			}
		}
		return nil, err
	}

	updates := map[string]any{
		"status":                enums.OrderStatusReserved,
		"is_reservation_active": len(reservationRows) > 0,
	}
	var expiresAt *time.Time
	for _, row := range reservationRows {
		if row.ExpiresAt != nil {
			expiresAt = row.ExpiresAt
			break
		}
	}
	if expiresAt != nil {
		updates["reservation_expires_at"] = *expiresAt
	}
	if err := s.repo.Update(ctx, orderID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order after reserve")
	}
	return s.loadOrder(ctx, orderID)
}

// Confirm converts the order's holds into allocations and moves it to
// confirmed. An order whose holds already expired moves to failed instead.
func (s *service) Confirm(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanBeConfirmed() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("order %s cannot be confirmed from status %s", orderID, order.Status))
	}

	if err := s.inventory.ConfirmReservations(ctx, orderID); err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeReservationExpired) {
			if markErr := s.repo.Update(ctx, orderID, map[string]any{
				"status":                enums.OrderStatusFailed,
				"is_reservation_active": false,
			}); markErr != nil {
				s.logg.Error(s.logg.WithOrderID(ctx, orderID.String()),
					"failed to mark order failed after expired confirm", markErr)
			}
		}
		return nil, err
	}

	if err := s.repo.Update(ctx, orderID, map[string]any{
		"status":                enums.OrderStatusConfirmed,
		"is_reservation_active": false,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order after confirm")
	}

	s.dispatch(ctx, "order_confirmed", orderEventPayload{
		OrderID:    orderID,
		CustomerID: order.CustomerID,
		Status:     enums.OrderStatusConfirmed,
	})
	return s.loadOrder(ctx, orderID)
}

// Cancel releases the order's holds and moves it to cancelled. Legal from
// draft, reserved, pending and confirmed.
func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, reason string) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanBeCancelled() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("order %s cannot be cancelled from status %s", orderID, order.Status))
	}

	if err := s.inventory.CancelReservations(ctx, orderID, reason); err != nil {
		return nil, err
	}

	updates := map[string]any{
		"status":                enums.OrderStatusCancelled,
		"is_reservation_active": false,
	}
	if reason != "" {
		updates["notes"] = appendNote(order.Notes, "cancelled: "+reason)
	}
	if err := s.repo.Update(ctx, orderID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order after cancel")
	}

	s.dispatch(ctx, "order_cancelled", orderEventPayload{
		OrderID:    orderID,
		CustomerID: order.CustomerID,
		Status:     enums.OrderStatusCancelled,
		Reason:     reason,
	})
	return s.loadOrder(ctx, orderID)
}

// Fulfill ships a confirmed order: allocated units leave stock and the order
// moves to shipped.
func (s *service) Fulfill(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanBeFulfilled() {
		return nil, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("order %s cannot be fulfilled from status %s", orderID, order.Status))
	}

	lines := make([]inventory.Demand, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, inventory.Demand{ProductID: item.ProductID, Qty: item.Qty})
	}
	if err := s.inventory.Fulfill(ctx, orderID, lines); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, orderID, enums.OrderStatusShipped); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order after fulfill")
	}

	s.dispatch(ctx, "order_shipped", orderEventPayload{
		OrderID:    orderID,
		CustomerID: order.CustomerID,
		Status:     enums.OrderStatusShipped,
	})
	return s.loadOrder(ctx, orderID)
}

// ExtendReservation pushes the expiry of a reserved order's holds forward.
func (s *service) ExtendReservation(ctx context.Context, orderID uuid.UUID, additional time.Duration) (*models.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusReserved || !order.IsReservationActive {
		return nil, pkgerrors.New(pkgerrors.CodeConflict,
			fmt.Sprintf("order %s has no active reservation to extend", orderID))
	}

	expiresAt, err := s.inventory.ExtendReservations(ctx, orderID, additional)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, orderID, map[string]any{
		"reservation_expires_at": *expiresAt,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order expiry")
	}
	return s.loadOrder(ctx, orderID)
}

// ReleaseExpired flags an order whose holds the sweeper released. The order
// stays reserved so the customer can retry, but the reservation flag drops.
func (s *service) ReleaseExpired(ctx context.Context, orderID uuid.UUID) error {
	err := s.repo.Update(ctx, orderID, map[string]any{
		"is_reservation_active": false,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "flag expired order")
	}
	return nil
}

func (s *service) loadOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("order %s not found", orderID))
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

type orderEventPayload struct {
	OrderID    uuid.UUID         `json:"order_id"`
	CustomerID uuid.UUID         `json:"customer_id"`
	Status     enums.OrderStatus `json:"status"`
	Reason     string            `json:"reason,omitempty"`
}

func (s *service) dispatch(ctx context.Context, task string, payload orderEventPayload) {
	if s.notify == nil {
		return
	}
	if err := s.notify.Enqueue(ctx, task, payload); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"task":     task,
			"order_id": payload.OrderID.String(),
		})
		s.logg.Error(logCtx, "failed to enqueue notification task", err)
	}
}

func appendNote(existing, note string) string {
	if strings.TrimSpace(existing) == "" {
		return note
	}
	return existing + "\n" + note
}
