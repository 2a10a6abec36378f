package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nmendoza/stocklane-backend/pkg/db/models"
	"github.com/nmendoza/stocklane-backend/pkg/enums"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.StockMovement{}); err != nil {
		t.Fatalf("migrate movements: %v", err)
	}
	return db
}

func TestRecordSnapshotsCounters(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, err := NewService(NewRepository(db))
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	ctx := context.Background()

	product := &models.Product{
		ID:           uuid.New(),
		StockQty:     25,
		ReservedQty:  4,
		AllocatedQty: 2,
	}
	ref := "order-123"
	movement, err := svc.Record(ctx, db, RecordMovementInput{
		Product:     product,
		Type:        enums.MovementTypeReserve,
		Qty:         4,
		Reason:      "hold for order",
		ReferenceID: &ref,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if movement.StockAfter != 25 || movement.ReservedAfter != 4 || movement.AllocatedAfter != 2 {
		t.Fatalf("snapshot does not match product counters: %+v", movement)
	}

	var row models.StockMovement
	if err := db.First(&row, "id = ?", movement.ID).Error; err != nil {
		t.Fatalf("load movement: %v", err)
	}
	if row.MovementType != enums.MovementTypeReserve || row.Qty != 4 {
		t.Fatalf("unexpected persisted row: %+v", row)
	}
	if row.ReferenceID == nil || *row.ReferenceID != ref {
		t.Fatalf("reference lost: %+v", row)
	}
}

func TestRecordRejectsBadInput(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, err := NewService(NewRepository(db))
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	ctx := context.Background()

	if _, err := svc.Record(ctx, db, RecordMovementInput{Type: enums.MovementTypeIn, Qty: 1}); err == nil {
		t.Fatal("expected error for missing product")
	}
	product := &models.Product{ID: uuid.New()}
	if _, err := svc.Record(ctx, db, RecordMovementInput{Product: product, Type: "TELEPORT", Qty: 1}); err == nil {
		t.Fatal("expected error for invalid movement type")
	}
}

func TestHistoryOrdersOldestFirst(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, err := NewService(NewRepository(db))
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	ctx := context.Background()

	product := &models.Product{ID: uuid.New(), StockQty: 10}
	for _, qty := range []int{10, 3, -3} {
		typ := enums.MovementTypeAdjustment
		if qty < 0 {
			typ = enums.MovementTypeOut
		}
		if _, err := svc.Record(ctx, db, RecordMovementInput{Product: product, Type: typ, Qty: qty}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	// rows for another product must not bleed in
	other := &models.Product{ID: uuid.New(), StockQty: 1}
	if _, err := svc.Record(ctx, db, RecordMovementInput{Product: other, Type: enums.MovementTypeIn, Qty: 1}); err != nil {
		t.Fatalf("record other: %v", err)
	}

	history, err := svc.History(ctx, *product)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(history))
	}
	if history[0].Qty != 10 || history[2].Qty != -3 {
		t.Fatalf("unexpected ordering: %+v", history)
	}
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc, err := NewService(NewRepository(db))
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	ctx := context.Background()

	product := &models.Product{ID: uuid.New()}
	for qty := 1; qty <= 7; qty++ {
		product.StockQty += qty
		if _, err := svc.Record(ctx, db, RecordMovementInput{Product: product, Type: enums.MovementTypeIn, Qty: qty}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	recent, err := svc.Recent(ctx, *product, 5)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(recent))
	}
	if recent[0].Qty != 7 || recent[4].Qty != 3 {
		t.Fatalf("unexpected ordering: %+v", recent)
	}
}

func TestReplay(t *testing.T) {
	t.Parallel()

	movements := []models.StockMovement{
		{MovementType: enums.MovementTypeAdjustment, Qty: 40},
		{MovementType: enums.MovementTypeReserve, Qty: 6},
		{MovementType: enums.MovementTypeAllocate, Qty: 6},
		{MovementType: enums.MovementTypeOut, Qty: -6},
		{MovementType: enums.MovementTypeReserve, Qty: 3},
		{MovementType: enums.MovementTypeRelease, Qty: 3},
		{MovementType: enums.MovementTypeIn, Qty: 5},
		{MovementType: enums.MovementTypeReserve, Qty: 2},
		{MovementType: enums.MovementTypeAllocate, Qty: 2},
		{MovementType: enums.MovementTypeDeallocate, Qty: 2},
	}

	stock, reserved, allocated := Replay(movements)
	if stock != 39 {
		t.Fatalf("expected stock 39, got %d", stock)
	}
	if reserved != 0 {
		t.Fatalf("expected reserved 0, got %d", reserved)
	}
	if allocated != 0 {
		t.Fatalf("expected allocated 0, got %d", allocated)
	}
}
