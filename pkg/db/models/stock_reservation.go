package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StockReservation is a time-bounded hold on stock for an in-progress order.
// Deactivation is one-way: release, expiry, and confirm all flip IsActive to
// false and it never goes back.
type StockReservation struct {
	ID        uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ProductID uuid.UUID  `gorm:"column:product_id;type:uuid;not null;index"`
	OrderID   *uuid.UUID `gorm:"column:order_id;type:uuid;index"`
	Qty       int        `gorm:"column:qty;not null"`
	Reason    string     `gorm:"column:reason"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index"`
	IsActive  bool       `gorm:"column:is_active;not null;default:true;index"`
	CreatedAt time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (r *StockReservation) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// IsExpired reports whether the hold lapsed as of now. Reservations without an
// expiry never expire.
func (r StockReservation) IsExpired(now time.Time) bool {
	if r.ExpiresAt == nil {
		return false
	}
	return now.After(*r.ExpiresAt)
}
