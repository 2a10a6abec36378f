package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/nmendoza/stocklane-backend/internal/ledger"
	"github.com/nmendoza/stocklane-backend/internal/locking"
	"github.com/nmendoza/stocklane-backend/internal/reservations"
	"github.com/nmendoza/stocklane-backend/pkg/clock"
	"github.com/nmendoza/stocklane-backend/pkg/db/models"
	"github.com/nmendoza/stocklane-backend/pkg/enums"
	pkgerrors "github.com/nmendoza/stocklane-backend/pkg/errors"
	"github.com/nmendoza/stocklane-backend/pkg/logger"
	"github.com/nmendoza/stocklane-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Demand is one (product, quantity) requirement from an order.
type Demand struct {
	ProductID uuid.UUID
	Qty       int
}

// Summary aggregates a product's inventory state for read paths.
type Summary struct {
	ProductID          uuid.UUID              `json:"product_id"`
	SKU                string                 `json:"sku"`
	Name               string                 `json:"name"`
	StockQty           int                    `json:"stock_qty"`
	ReservedQty        int                    `json:"reserved_qty"`
	AllocatedQty       int                    `json:"allocated_qty"`
	AvailableQty       int                    `json:"available_qty"`
	ActiveReservations int                    `json:"active_reservations"`
	TrackInventory     bool                   `json:"track_inventory"`
	LowStockThreshold  int                    `json:"low_stock_threshold"`
	IsLowStock         bool                   `json:"is_low_stock"`
	RecentMovements    []models.StockMovement `json:"recent_movements"`
}

// Service is the inventory coordination engine. Every mutating operation runs
// under per-product leases (acquired in ascending product-id order) plus a row
// lock inside a single transaction, and appends one movement per counter change.
type Service interface {
	ReserveForOrder(ctx context.Context, demands []Demand, orderID uuid.UUID, ttl time.Duration) ([]models.StockReservation, error)
	ConfirmReservations(ctx context.Context, orderID uuid.UUID) error
	CancelReservations(ctx context.Context, orderID uuid.UUID, reason string) error
	Fulfill(ctx context.Context, orderID uuid.UUID, lines []Demand) error
	AdjustStock(ctx context.Context, productID uuid.UUID, newQty int, reason string) error
	SweepExpired(ctx context.Context) (int, error)
	ExtendReservations(ctx context.Context, orderID uuid.UUID, additional time.Duration) (*time.Time, error)
	Summary(ctx context.Context, productID uuid.UUID) (*Summary, error)
	ReconcileReserved(ctx context.Context, productID uuid.UUID) (int, error)
}

// ServiceParams configure the engine.
type ServiceParams struct {
	Tx           txRunner
	Products     ProductRepository
	Reservations reservations.Repository
	Ledger       ledger.Service
	Locks        locking.Coordinator
	Clock        clock.Clock
	Logger       *logger.Logger
	Metrics      *metrics.InventoryMetrics
}

type service struct {
	tx           txRunner
	products     ProductRepository
	reservations reservations.Repository
	ledger       ledger.Service
	locks        locking.Coordinator
	clock        clock.Clock
	logg         *logger.Logger
	metrics      *metrics.InventoryMetrics
}

// NewService builds the inventory coordination engine.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock coordinator required")
	}
	if params.Clock == nil {
		params.Clock = clock.Real{}
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		tx:           params.Tx,
		products:     params.Products,
		reservations: params.Reservations,
		ledger:       params.Ledger,
		locks:        params.Locks,
		clock:        params.Clock,
		logg:         params.Logger,
		metrics:      params.Metrics,
	}, nil
}

// ReserveForOrder holds stock for every demand or for none. Demands are sorted
// by product id before lease acquisition so concurrent multi-product requests
// cannot form a circular wait.
func (s *service) ReserveForOrder(ctx context.Context, demands []Demand, orderID uuid.UUID, ttl time.Duration) ([]models.StockReservation, error) {
	if len(demands) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "demand list is empty")
	}
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	seen := make(map[uuid.UUID]bool, len(demands))
	for _, demand := range demands {
		if demand.Qty <= 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "demand quantity must be positive")
		}
		if seen[demand.ProductID] {
			return nil, pkgerrors.New(pkgerrors.CodeValidation,
				fmt.Sprintf("duplicate product %s in demand list", demand.ProductID))
		}
		seen[demand.ProductID] = true
	}

	sorted := make([]Demand, len(demands))
	copy(sorted, demands)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ProductID.String() < sorted[j].ProductID.String()
	})

	productIDs := make([]uuid.UUID, len(sorted))
	for i, demand := range sorted {
		productIDs[i] = demand.ProductID
	}

	leases, err := locking.AcquireAll(ctx, s.locks, productIDs)
	if err != nil {
		s.metrics.IncReserveOutcome("lock_timeout")
		return nil, err
	}
	defer s.releaseLeases(ctx, leases)

	var created []models.StockReservation
	var expiresAt *time.Time
	if ttl > 0 {
		t := s.clock.Now().Add(ttl)
		expiresAt = &t
	}
	orderRef := orderID.String()

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products := s.products.WithTx(tx)
		resRepo := s.reservations.WithTx(tx)

		locked := make(map[uuid.UUID]*models.Product, len(sorted))
		for _, demand := range sorted {
			product, err := products.FindByIDForUpdate(ctx, demand.ProductID)
			if err != nil {
				return productLoadError(demand.ProductID, err)
			}
			if !product.CanReserve(demand.Qty) {
				return pkgerrors.New(pkgerrors.CodeInsufficientStock,
					fmt.Sprintf("insufficient stock for %s", product.SKU)).
					WithDetails(pkgerrors.InsufficientStockDetails{
						ProductID: product.ID.String(),
						Available: product.AvailableQty(),
						Requested: demand.Qty,
					})
			}
			locked[demand.ProductID] = product
		}

		for _, demand := range sorted {
			product := locked[demand.ProductID]
			// untracked stock is unlimited: no counter to hold, no movement to
			// log, but the row below still anchors confirm and cancel
			if product.TrackInventory {
				product.ReservedQty += demand.Qty
				if err := products.UpdateCounters(ctx, product); err != nil {
					return err
				}
				if _, err := s.ledger.Record(ctx, tx, ledger.RecordMovementInput{
					Product:     product,
					Type:        enums.MovementTypeReserve,
					Qty:         demand.Qty,
					Reason:      fmt.Sprintf("reserved for order %s", orderRef),
					ReferenceID: &orderRef,
				}); err != nil {
					return err
				}
			}
			reservation := models.StockReservation{
				ProductID: product.ID,
				OrderID:   &orderID,
				Qty:       demand.Qty,
				Reason:    fmt.Sprintf("order %s", orderRef),
				ExpiresAt: expiresAt,
				IsActive:  true,
			}
			if err := resRepo.Create(ctx, &reservation); err != nil {
				return err
			}
			created = append(created, reservation)
		}
		return nil
	})
	if err != nil {
		s.observeReserveFailure(err)
		return nil, err
	}

	s.metrics.IncReserveOutcome("success")
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"order_id":     orderRef,
		"reservations": len(created),
	})
	s.logg.Info(logCtx, "stock reserved for order")
	return created, nil
}

// ConfirmReservations converts every active hold on the order into an
// allocation, all-or-nothing. An order with no active holds left (expired and
// swept, or never reserved) fails with a reservation-expired error.
func (s *service) ConfirmReservations(ctx context.Context, orderID uuid.UUID) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}

	active, err := s.reservations.FindActiveByOrder(ctx, orderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order reservations")
	}
	if len(active) == 0 {
		return pkgerrors.New(pkgerrors.CodeReservationExpired,
			fmt.Sprintf("no active reservations for order %s", orderID))
	}

	leases, err := locking.AcquireAll(ctx, s.locks, productIDsOf(active))
	if err != nil {
		return err
	}
	defer s.releaseLeases(ctx, leases)

	orderRef := orderID.String()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products := s.products.WithTx(tx)
		resRepo := s.reservations.WithTx(tx)

		reservationRows, err := resRepo.FindActiveByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if len(reservationRows) == 0 {
			return pkgerrors.New(pkgerrors.CodeReservationExpired,
				fmt.Sprintf("no active reservations for order %s", orderID))
		}

		for _, reservation := range reservationRows {
			product, err := products.FindByIDForUpdate(ctx, reservation.ProductID)
			if err != nil {
				return productLoadError(reservation.ProductID, err)
			}
			if product.TrackInventory {
				if product.ReservedQty < reservation.Qty {
					return pkgerrors.New(pkgerrors.CodeInconsistency,
						fmt.Sprintf("reserved counter below reservation quantity for %s", product.SKU))
				}
				product.ReservedQty -= reservation.Qty
				product.AllocatedQty += reservation.Qty
				if err := products.UpdateCounters(ctx, product); err != nil {
					return err
				}
				if _, err := s.ledger.Record(ctx, tx, ledger.RecordMovementInput{
					Product:     product,
					Type:        enums.MovementTypeAllocate,
					Qty:         reservation.Qty,
					Reason:      fmt.Sprintf("order %s confirmed", orderRef),
					ReferenceID: &orderRef,
				}); err != nil {
					return err
				}
			}
			if _, err := resRepo.Deactivate(ctx, reservation.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

// CancelReservations releases every active hold on the order. Safe to call on
// an order with no active reservations; the release is idempotent.
func (s *service) CancelReservations(ctx context.Context, orderID uuid.UUID, reason string) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if reason == "" {
		reason = fmt.Sprintf("order %s cancelled", orderID)
	}

	orderRef := orderID.String()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		resRepo := s.reservations.WithTx(tx)
		reservationRows, err := resRepo.FindActiveByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		for _, reservation := range reservationRows {
			if err := s.releaseReservation(ctx, tx, reservation, reason, &orderRef); err != nil {
				return err
			}
		}
		return nil
	})
}

// Fulfill ships the order: allocated stock leaves the building and total stock
// drops with it. Irreversible here; only a compensating IN or ADJUSTMENT
// movement brings units back.
func (s *service) Fulfill(ctx context.Context, orderID uuid.UUID, lines []Demand) error {
	if orderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "order has no line items")
	}

	sorted := make([]Demand, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].ProductID.String() < sorted[j].ProductID.String()
	})

	productIDs := make([]uuid.UUID, len(sorted))
	for i, line := range sorted {
		productIDs[i] = line.ProductID
	}
	leases, err := locking.AcquireAll(ctx, s.locks, productIDs)
	if err != nil {
		return err
	}
	defer s.releaseLeases(ctx, leases)

	orderRef := orderID.String()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products := s.products.WithTx(tx)
		for _, line := range sorted {
			product, err := products.FindByIDForUpdate(ctx, line.ProductID)
			if err != nil {
				return productLoadError(line.ProductID, err)
			}
			if !product.TrackInventory {
				continue
			}
			if product.AllocatedQty < line.Qty {
				return pkgerrors.New(pkgerrors.CodeInconsistency,
					fmt.Sprintf("allocated counter below line quantity for %s", product.SKU))
			}
			product.AllocatedQty -= line.Qty
			product.StockQty -= line.Qty
			if err := products.UpdateCounters(ctx, product); err != nil {
				return err
			}
			if _, err := s.ledger.Record(ctx, tx, ledger.RecordMovementInput{
				Product:     product,
				Type:        enums.MovementTypeOut,
				Qty:         -line.Qty,
				Reason:      fmt.Sprintf("order %s fulfilled", orderRef),
				ReferenceID: &orderRef,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// AdjustStock is the administrative override: it sets total stock directly and
// leaves reserved/allocated untouched. Reconciling outstanding holds after a
// recount is the operator's job.
func (s *service) AdjustStock(ctx context.Context, productID uuid.UUID, newQty int, reason string) error {
	if productID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}
	if newQty < 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "stock quantity cannot be negative")
	}
	if reason == "" {
		reason = "manual adjustment"
	}

	lease, err := s.locks.Acquire(ctx, productID)
	if err != nil {
		return err
	}
	defer s.releaseLeases(ctx, []*locking.Lease{lease})

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products := s.products.WithTx(tx)
		product, err := products.FindByIDForUpdate(ctx, productID)
		if err != nil {
			return productLoadError(productID, err)
		}
		delta := newQty - product.StockQty
		product.StockQty = newQty
		if err := products.UpdateCounters(ctx, product); err != nil {
			return err
		}
		_, err = s.ledger.Record(ctx, tx, ledger.RecordMovementInput{
			Product: product,
			Type:    enums.MovementTypeAdjustment,
			Qty:     delta,
			Reason:  reason,
		})
		return err
	})
}

// ReconcileReserved recomputes the product's reserved counter from its active
// reservation rows and writes the corrected value back. The repair is logged
// as a RESERVE or RELEASE movement so ledger replay stays equivalent to the
// live counters. Returns the delta applied, zero when nothing drifted.
func (s *service) ReconcileReserved(ctx context.Context, productID uuid.UUID) (int, error) {
	if productID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "product id required")
	}

	lease, err := s.locks.Acquire(ctx, productID)
	if err != nil {
		return 0, err
	}
	defer s.releaseLeases(ctx, []*locking.Lease{lease})

	var delta int
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		products := s.products.WithTx(tx)
		product, err := products.FindByIDForUpdate(ctx, productID)
		if err != nil {
			return productLoadError(productID, err)
		}
		if !product.TrackInventory {
			return nil
		}
		activeSum, err := s.reservations.WithTx(tx).SumActiveByProduct(ctx, productID)
		if err != nil {
			return err
		}
		delta = activeSum - product.ReservedQty
		if delta == 0 {
			return nil
		}

		product.ReservedQty = activeSum
		if err := products.UpdateCounters(ctx, product); err != nil {
			return err
		}
		movementType := enums.MovementTypeReserve
		qty := delta
		if delta < 0 {
			movementType = enums.MovementTypeRelease
			qty = -delta
		}
		_, err = s.ledger.Record(ctx, tx, ledger.RecordMovementInput{
			Product: product,
			Type:    movementType,
			Qty:     qty,
			Reason:  "reserved counter reconciled",
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	if delta != 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"product_id": productID.String(),
			"delta":      delta,
		})
		s.logg.Warn(logCtx, "reserved counter repaired from active reservations")
	}
	return delta, nil
}

// SweepExpired releases every reservation past its expiry, each in its own
// transaction so one bad row cannot stall the rest. Re-entrant: rows released
// by a concurrent confirm or cancel are skipped by the idempotent deactivate.
func (s *service) SweepExpired(ctx context.Context) (int, error) {
	expired, err := s.reservations.FindExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query expired reservations")
	}

	released := 0
	var errs []error
	for _, reservation := range expired {
		reservation := reservation
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var orderRef *string
			if reservation.OrderID != nil {
				ref := reservation.OrderID.String()
				orderRef = &ref
			}
			return s.releaseReservation(ctx, tx, reservation, "reservation expired", orderRef)
		})
		if err != nil {
			logCtx := s.logg.WithField(ctx, "reservation_id", reservation.ID.String())
			s.logg.Error(logCtx, "failed to release expired reservation", err)
			errs = append(errs, err)
			continue
		}
		released++
	}

	s.metrics.AddSweptReservations(released)
	return released, multierr.Combine(errs...)
}

// ExtendReservations pushes the expiry of the order's active holds forward and
// returns the new expiry instant.
func (s *service) ExtendReservations(ctx context.Context, orderID uuid.UUID, additional time.Duration) (*time.Time, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if additional <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "extension must be positive")
	}

	active, err := s.reservations.FindActiveByOrder(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list order reservations")
	}
	if len(active) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeReservationExpired,
			fmt.Sprintf("no active reservations for order %s", orderID))
	}

	expiresAt := s.clock.Now().Add(additional)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		resRepo := s.reservations.WithTx(tx)
		for _, reservation := range active {
			if err := resRepo.UpdateExpiry(ctx, reservation.ID, expiresAt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &expiresAt, nil
}

func (s *service) Summary(ctx context.Context, productID uuid.UUID) (*Summary, error) {
	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, productLoadError(productID, err)
	}
	activeTotal, err := s.reservations.SumActiveByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	recent, err := s.ledgerRecent(ctx, productID)
	if err != nil {
		return nil, err
	}
	return &Summary{
		ProductID:          product.ID,
		SKU:                product.SKU,
		Name:               product.Name,
		StockQty:           product.StockQty,
		ReservedQty:        product.ReservedQty,
		AllocatedQty:       product.AllocatedQty,
		AvailableQty:       product.AvailableQty(),
		ActiveReservations: activeTotal,
		TrackInventory:     product.TrackInventory,
		LowStockThreshold:  product.LowStockThreshold,
		IsLowStock:         product.IsLowStock(),
		RecentMovements:    recent,
	}, nil
}

// releaseReservation deactivates one hold and returns its quantity to the
// available pool. The idempotent deactivate makes double release a no-op with
// exactly one RELEASE movement. The product row is locked before the
// reservation row, matching the confirm path's lock order.
func (s *service) releaseReservation(ctx context.Context, tx *gorm.DB, reservation models.StockReservation, reason string, referenceID *string) error {
	products := s.products.WithTx(tx)
	product, err := products.FindByIDForUpdate(ctx, reservation.ProductID)
	if err != nil {
		return productLoadError(reservation.ProductID, err)
	}

	resRepo := s.reservations.WithTx(tx)
	releasedNow, err := resRepo.Deactivate(ctx, reservation.ID)
	if err != nil {
		return err
	}
	if !releasedNow || !product.TrackInventory {
		return nil
	}

	product.ReservedQty -= reservation.Qty
	if product.ReservedQty < 0 {
		logCtx := s.logg.WithField(ctx, "product_id", product.ID.String())
		s.logg.Warn(logCtx, "reserved counter went negative on release; clamping to zero")
		product.ReservedQty = 0
	}
	if err := products.UpdateCounters(ctx, product); err != nil {
		return err
	}
	_, err = s.ledger.Record(ctx, tx, ledger.RecordMovementInput{
		Product:     product,
		Type:        enums.MovementTypeRelease,
		Qty:         reservation.Qty,
		Reason:      reason,
		ReferenceID: referenceID,
	})
	return err
}

func (s *service) releaseLeases(ctx context.Context, leases []*locking.Lease) {
	for _, err := range locking.ReleaseAll(ctx, s.locks, leases) {
		s.logg.Error(ctx, "failed to release product lease", err)
	}
}

func (s *service) observeReserveFailure(err error) {
	switch {
	case pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock):
		s.metrics.IncReserveOutcome("insufficient_stock")
	case pkgerrors.HasCode(err, pkgerrors.CodeLockTimeout):
		s.metrics.IncReserveOutcome("lock_timeout")
	default:
		s.metrics.IncReserveOutcome("error")
	}
}

func (s *service) ledgerRecent(ctx context.Context, productID uuid.UUID) ([]models.StockMovement, error) {
	// Summary shows the last handful of movements, newest first.
	const recentLimit = 10
	return s.ledger.Recent(ctx, models.Product{ID: productID}, recentLimit)
}

func productIDsOf(rows []models.StockReservation) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(rows))
	seen := make(map[uuid.UUID]bool, len(rows))
	for _, row := range rows {
		if seen[row.ProductID] {
			continue
		}
		seen[row.ProductID] = true
		ids = append(ids, row.ProductID)
	}
	return ids
}

func productLoadError(productID uuid.UUID, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("product %s not found", productID))
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load product")
}
