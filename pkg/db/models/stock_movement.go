package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nmendoza/stocklane-backend/pkg/enums"
)

// StockMovement is one immutable audit ledger row. The *_after columns snapshot
// the product counters after the mutation it records; replaying all rows for a
// product from zero must reproduce the last snapshot exactly.
type StockMovement struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ProductID      uuid.UUID          `gorm:"column:product_id;type:uuid;not null;index"`
	MovementType   enums.MovementType `gorm:"column:movement_type;type:movement_type_enum;not null"`
	Qty            int                `gorm:"column:qty;not null"`
	Reason         string             `gorm:"column:reason"`
	ReferenceID    *string            `gorm:"column:reference_id"`
	StockAfter     int                `gorm:"column:stock_after;not null"`
	ReservedAfter  int                `gorm:"column:reserved_after;not null"`
	AllocatedAfter int                `gorm:"column:allocated_after;not null"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (m *StockMovement) BeforeCreate(*gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}
