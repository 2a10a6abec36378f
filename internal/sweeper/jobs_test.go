package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/nmendoza/stocklane-backend/pkg/clock"
	"github.com/nmendoza/stocklane-backend/pkg/db/models"
	"github.com/nmendoza/stocklane-backend/pkg/enums"
)

type stubInventorySweeper struct {
	released int
	err      error
	calls    int
}

func (s *stubInventorySweeper) SweepExpired(context.Context) (int, error) {
	s.calls++
	return s.released, s.err
}

type stubOrderReader struct {
	orders []models.Order
	err    error
}

func (s *stubOrderReader) FindWithActiveReservationBefore(context.Context, time.Time) ([]models.Order, error) {
	return s.orders, s.err
}

type stubFlagger struct {
	flagged []uuid.UUID
	err     error
}

func (s *stubFlagger) ReleaseExpired(_ context.Context, orderID uuid.UUID) error {
	if s.err != nil {
		return s.err
	}
	s.flagged = append(s.flagged, orderID)
	return nil
}

type stubTaskDispatcher struct {
	tasks []string
	err   error
}

func (s *stubTaskDispatcher) Enqueue(_ context.Context, task string, _ any) error {
	if s.err != nil {
		return s.err
	}
	s.tasks = append(s.tasks, task)
	return nil
}

func TestReservationSweepJobFlagsLapsedOrders(t *testing.T) {
	t.Parallel()

	reserved := models.Order{ID: uuid.New(), Status: enums.OrderStatusReserved}
	confirmed := models.Order{ID: uuid.New(), Status: enums.OrderStatusConfirmed}
	sweeperStub := &stubInventorySweeper{released: 2}
	flagger := &stubFlagger{}
	notify := &stubTaskDispatcher{}

	job, err := NewReservationSweepJob(ReservationSweepJobParams{
		Logger:    testLogger(),
		Inventory: sweeperStub,
		Orders:    &stubOrderReader{orders: []models.Order{reserved, confirmed}},
		Flagger:   flagger,
		Notify:    notify,
		Clock:     clock.NewFake(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if sweeperStub.calls != 1 {
		t.Fatalf("expected 1 sweep, got %d", sweeperStub.calls)
	}
	if len(flagger.flagged) != 1 || flagger.flagged[0] != reserved.ID {
		t.Fatalf("only reserved orders should be flagged: %v", flagger.flagged)
	}
	if len(notify.tasks) != 1 || notify.tasks[0] != "reservation_expired" {
		t.Fatalf("unexpected tasks: %v", notify.tasks)
	}
}

func TestReservationSweepJobCollectsErrors(t *testing.T) {
	t.Parallel()

	job, err := NewReservationSweepJob(ReservationSweepJobParams{
		Logger:    testLogger(),
		Inventory: &stubInventorySweeper{err: errors.New("sweep failed")},
		Orders:    &stubOrderReader{orders: []models.Order{{ID: uuid.New(), Status: enums.OrderStatusReserved}}},
		Flagger:   &stubFlagger{err: errors.New("flag failed")},
	})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected combined error")
	}
}

func TestReservationSweepJobWorksWithoutDispatcher(t *testing.T) {
	t.Parallel()

	flagger := &stubFlagger{}
	job, err := NewReservationSweepJob(ReservationSweepJobParams{
		Logger:    testLogger(),
		Inventory: &stubInventorySweeper{},
		Orders:    &stubOrderReader{orders: []models.Order{{ID: uuid.New(), Status: enums.OrderStatusPending}}},
		Flagger:   flagger,
	})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(flagger.flagged) != 1 {
		t.Fatalf("pending order should be flagged, got %v", flagger.flagged)
	}
}

type stubLowStockLister struct {
	products []models.Product
	err      error
}

func (s *stubLowStockLister) ListLowStock(context.Context) ([]models.Product, error) {
	return s.products, s.err
}

type stubDeduper struct {
	seen map[string]bool
}

func (s *stubDeduper) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

func (s *stubDeduper) LowStockAlertKey(env, productID string) string {
	return "sl:" + env + ":low-stock-alert:" + productID
}

func TestLowStockJobAlertsOncePerWindow(t *testing.T) {
	t.Parallel()

	product := models.Product{ID: uuid.New(), SKU: "SKU-1", StockQty: 3, TrackInventory: true, LowStockThreshold: 5}
	notify := &stubTaskDispatcher{}
	job, err := NewLowStockJob(LowStockJobParams{
		Logger:   testLogger(),
		Products: &stubLowStockLister{products: []models.Product{product}},
		Deduper:  &stubDeduper{},
		Notify:   notify,
		Env:      "test",
	})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(notify.tasks) != 1 || notify.tasks[0] != "low_stock_alert" {
		t.Fatalf("expected exactly one alert, got %v", notify.tasks)
	}
}

type stubTrackedLister struct {
	products []models.Product
}

func (s *stubTrackedLister) ListTracked(context.Context) ([]models.Product, error) {
	return s.products, nil
}

type stubActiveSummer struct {
	sums map[uuid.UUID]int
	err  error
}

func (s *stubActiveSummer) SumActiveByProduct(_ context.Context, productID uuid.UUID) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	return s.sums[productID], nil
}

type stubReconciler struct {
	deltas map[uuid.UUID]int
	calls  []uuid.UUID
	err    error
}

func (s *stubReconciler) ReconcileReserved(_ context.Context, productID uuid.UUID) (int, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.calls = append(s.calls, productID)
	return s.deltas[productID], nil
}

func TestReconcileJobRepairsDrift(t *testing.T) {
	t.Parallel()

	clean := models.Product{ID: uuid.New(), SKU: "CLEAN", ReservedQty: 3, TrackInventory: true}
	drifted := models.Product{ID: uuid.New(), SKU: "DRIFT", ReservedQty: 5, TrackInventory: true}
	engine := &stubReconciler{deltas: map[uuid.UUID]int{drifted.ID: -3}}
	job, err := NewReconcileJob(ReconcileJobParams{
		Logger:   testLogger(),
		Products: &stubTrackedLister{products: []models.Product{clean, drifted}},
		Reservations: &stubActiveSummer{sums: map[uuid.UUID]int{
			clean.ID:   3,
			drifted.ID: 2,
		}},
		Engine: engine,
	})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}

	// drift is repaired and logged, never an error
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(engine.calls) != 1 || engine.calls[0] != drifted.ID {
		t.Fatalf("expected exactly the drifted product to be repaired, got %v", engine.calls)
	}
}

func TestReconcileJobSurfacesQueryErrors(t *testing.T) {
	t.Parallel()

	job, err := NewReconcileJob(ReconcileJobParams{
		Logger:       testLogger(),
		Products:     &stubTrackedLister{products: []models.Product{{ID: uuid.New(), TrackInventory: true}}},
		Reservations: &stubActiveSummer{err: errors.New("db down")},
		Engine:       &stubReconciler{},
	})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error from failed reservation sum")
	}
}

func TestReconcileJobSurfacesRepairErrors(t *testing.T) {
	t.Parallel()

	drifted := models.Product{ID: uuid.New(), ReservedQty: 5, TrackInventory: true}
	job, err := NewReconcileJob(ReconcileJobParams{
		Logger:       testLogger(),
		Products:     &stubTrackedLister{products: []models.Product{drifted}},
		Reservations: &stubActiveSummer{sums: map[uuid.UUID]int{drifted.ID: 2}},
		Engine:       &stubReconciler{err: errors.New("lock timeout")},
	})
	if err != nil {
		t.Fatalf("build job: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error from failed repair")
	}
}
