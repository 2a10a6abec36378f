package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nmendoza/stocklane-backend/pkg/db/models"
)

// ProductRepository exposes the product reads/writes the engine needs. Counter
// writes go through UpdateCounters so unrelated columns are never clobbered.
type ProductRepository interface {
	WithTx(tx *gorm.DB) ProductRepository
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Product, error)
	UpdateCounters(ctx context.Context, product *models.Product) error
	ListLowStock(ctx context.Context) ([]models.Product, error)
	ListTracked(ctx context.Context) ([]models.Product, error)
}

type productRepository struct {
	db *gorm.DB
}

// NewProductRepository builds a repository tied to the provided GORM DB.
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) WithTx(tx *gorm.DB) ProductRepository {
	if tx == nil {
		return r
	}
	return &productRepository{db: tx}
}

func (r *productRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

// FindByIDForUpdate takes the row lock held until the transaction ends. This
// backs the lease with select-for-update semantics inside one process.
func (r *productRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&product, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *productRepository) UpdateCounters(ctx context.Context, product *models.Product) error {
	return r.db.WithContext(ctx).
		Model(&models.Product{}).
		Where("id = ?", product.ID).
		Updates(map[string]any{
			"stock_qty":     product.StockQty,
			"reserved_qty":  product.ReservedQty,
			"allocated_qty": product.AllocatedQty,
		}).Error
}

func (r *productRepository) ListLowStock(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := r.db.WithContext(ctx).
		Where("track_inventory = ? AND is_active = ?", true, true).
		Where("stock_qty - reserved_qty - allocated_qty <= low_stock_threshold").
		Order("sku ASC").
		Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *productRepository) ListTracked(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	if err := r.db.WithContext(ctx).
		Where("track_inventory = ?", true).
		Order("sku ASC").
		Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}
