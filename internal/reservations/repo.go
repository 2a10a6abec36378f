package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nmendoza/stocklane-backend/pkg/db/models"
)

// Repository manages persistence for stock reservations. Counter mutation and
// RELEASE movements belong to the engine; this layer only owns the rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, reservation *models.StockReservation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.StockReservation, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.StockReservation, error)
	FindActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error)
	FindActiveByProduct(ctx context.Context, productID uuid.UUID) ([]models.StockReservation, error)
	FindExpired(ctx context.Context, now time.Time) ([]models.StockReservation, error)
	SumActiveByProduct(ctx context.Context, productID uuid.UUID) (int, error)
	Deactivate(ctx context.Context, id uuid.UUID) (bool, error)
	UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a reservation repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, reservation *models.StockReservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.StockReservation, error) {
	var reservation models.StockReservation
	if err := r.db.WithContext(ctx).First(&reservation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.StockReservation, error) {
	var reservation models.StockReservation
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&reservation, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

func (r *repository) FindActiveByOrder(ctx context.Context, orderID uuid.UUID) ([]models.StockReservation, error) {
	var reservations []models.StockReservation
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND is_active = ?", orderID, true).
		Order("created_at ASC").
		Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) FindActiveByProduct(ctx context.Context, productID uuid.UUID) ([]models.StockReservation, error) {
	var reservations []models.StockReservation
	if err := r.db.WithContext(ctx).
		Where("product_id = ? AND is_active = ?", productID, true).
		Order("created_at ASC").
		Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) FindExpired(ctx context.Context, now time.Time) ([]models.StockReservation, error) {
	var reservations []models.StockReservation
	if err := r.db.WithContext(ctx).
		Where("is_active = ? AND expires_at IS NOT NULL AND expires_at < ?", true, now).
		Order("expires_at ASC").
		Find(&reservations).Error; err != nil {
		return nil, err
	}
	return reservations, nil
}

func (r *repository) SumActiveByProduct(ctx context.Context, productID uuid.UUID) (int, error) {
	var total *int
	if err := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Select("SUM(qty)").
		Where("product_id = ? AND is_active = ?", productID, true).
		Scan(&total).Error; err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// Deactivate flips is_active to false and reports whether this call made the
// transition. A false return means the reservation was already inactive, which
// keeps release idempotent for concurrent confirm/cancel/sweep callers.
func (r *repository) Deactivate(ctx context.Context, id uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) UpdateExpiry(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.StockReservation{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("expires_at", expiresAt).Error
}
