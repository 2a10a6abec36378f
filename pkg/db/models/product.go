package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Product carries the stock counters the coordination engine mutates. Counters
// are only ever written under the product's distributed lease plus a row lock.
type Product struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	SKU               string          `gorm:"column:sku;not null;uniqueIndex"`
	Name              string          `gorm:"column:name;not null"`
	Price             decimal.Decimal `gorm:"column:price;type:numeric(10,2);not null"`
	StockQty          int             `gorm:"column:stock_qty;not null;default:0"`
	ReservedQty       int             `gorm:"column:reserved_qty;not null;default:0"`
	AllocatedQty      int             `gorm:"column:allocated_qty;not null;default:0"`
	TrackInventory    bool            `gorm:"column:track_inventory;not null;default:true"`
	LowStockThreshold int             `gorm:"column:low_stock_threshold;not null;default:10"`
	IsActive          bool            `gorm:"column:is_active;not null;default:true"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Product) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// AvailableQty is stock not already promised to any order, floored at zero.
func (p Product) AvailableQty() int {
	available := p.StockQty - p.ReservedQty - p.AllocatedQty
	if available < 0 {
		return 0
	}
	return available
}

// CanReserve reports whether qty units can be held. Untracked products always accept.
func (p Product) CanReserve(qty int) bool {
	if !p.TrackInventory {
		return true
	}
	return p.AvailableQty() >= qty
}

// IsLowStock reports whether available stock sits at or under the alert threshold.
func (p Product) IsLowStock() bool {
	if !p.TrackInventory {
		return false
	}
	return p.AvailableQty() <= p.LowStockThreshold
}
