package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nmendoza/stocklane-backend/pkg/enums"
)

// Order drives the inventory engine through its status transitions. The
// reservation fields mirror the aggregate state of the order's holds.
type Order struct {
	ID                   uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	CustomerID           uuid.UUID         `gorm:"column:customer_id;type:uuid;not null;index"`
	Status               enums.OrderStatus `gorm:"column:status;type:order_status_enum;not null;default:'draft';index"`
	TotalAmount          decimal.Decimal   `gorm:"column:total_amount;type:numeric(10,2);not null"`
	Notes                string            `gorm:"column:notes"`
	ReservationExpiresAt *time.Time        `gorm:"column:reservation_expires_at;index"`
	IsReservationActive  bool              `gorm:"column:is_reservation_active;not null;default:false"`
	Items                []OrderItem       `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt            time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// OrderItem is one (product, quantity) demand on an order.
type OrderItem struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID       `gorm:"column:order_id;type:uuid;not null;uniqueIndex:ux_order_items_order_product"`
	ProductID  uuid.UUID       `gorm:"column:product_id;type:uuid;not null;uniqueIndex:ux_order_items_order_product"`
	Qty        int             `gorm:"column:qty;not null"`
	UnitPrice  decimal.Decimal `gorm:"column:unit_price;type:numeric(10,2);not null"`
	TotalPrice decimal.Decimal `gorm:"column:total_price;type:numeric(10,2);not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (i *OrderItem) BeforeCreate(*gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
