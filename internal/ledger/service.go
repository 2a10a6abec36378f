package ledger

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/nmendoza/stocklane-backend/pkg/db/models"
	"github.com/nmendoza/stocklane-backend/pkg/enums"
)

// Service records audit ledger entries for stock mutations.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, input RecordMovementInput) (*models.StockMovement, error)
	History(ctx context.Context, product models.Product) ([]models.StockMovement, error)
	Recent(ctx context.Context, product models.Product, limit int) ([]models.StockMovement, error)
}

// RecordMovementInput captures one stock-affecting event. Product must carry
// the counters as they stand after the mutation being logged; the snapshot
// columns are copied from it verbatim.
type RecordMovementInput struct {
	Product     *models.Product
	Type        enums.MovementType
	Qty         int
	Reason      string
	ReferenceID *string
}

type service struct {
	repo Repository
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	return &service{repo: repo}, nil
}

// Record appends one movement row inside the caller's transaction. Callers hold
// the product's row lock, so the snapshot is the post-mutation truth.
func (s *service) Record(ctx context.Context, tx *gorm.DB, input RecordMovementInput) (*models.StockMovement, error) {
	if input.Product == nil {
		return nil, fmt.Errorf("product is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid movement type %q", input.Type)
	}

	movement := &models.StockMovement{
		ProductID:      input.Product.ID,
		MovementType:   input.Type,
		Qty:            input.Qty,
		Reason:         input.Reason,
		ReferenceID:    input.ReferenceID,
		StockAfter:     input.Product.StockQty,
		ReservedAfter:  input.Product.ReservedQty,
		AllocatedAfter: input.Product.AllocatedQty,
	}

	if err := s.repo.WithTx(tx).Create(ctx, movement); err != nil {
		return nil, err
	}
	return movement, nil
}

func (s *service) History(ctx context.Context, product models.Product) ([]models.StockMovement, error) {
	return s.repo.ListByProductID(ctx, product.ID)
}

// Recent returns the product's last movements, newest first.
func (s *service) Recent(ctx context.Context, product models.Product, limit int) ([]models.StockMovement, error) {
	return s.repo.ListRecentByProductID(ctx, product.ID, limit)
}

// Replay folds a product's movements from zero and returns the reconstructed
// counters. The audit property holds when the result matches the last row's
// snapshot.
func Replay(movements []models.StockMovement) (stock, reserved, allocated int) {
	for _, m := range movements {
		switch m.MovementType {
		case enums.MovementTypeIn, enums.MovementTypeAdjustment:
			stock += m.Qty
		case enums.MovementTypeOut:
			// fulfillment ships allocated units: one negative delta moves both counters
			stock += m.Qty
			allocated += m.Qty
		case enums.MovementTypeReserve:
			reserved += m.Qty
		case enums.MovementTypeRelease:
			reserved -= m.Qty
		case enums.MovementTypeAllocate:
			reserved -= m.Qty
			allocated += m.Qty
		case enums.MovementTypeDeallocate:
			allocated -= m.Qty
		}
	}
	return stock, reserved, allocated
}
