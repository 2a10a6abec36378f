package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nmendoza/stocklane-backend/pkg/db/models"
	"github.com/nmendoza/stocklane-backend/pkg/enums"
)

func setupOrdersTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:orders_repo_"+uuid.NewString()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Order{}, &models.OrderItem{}))
	return db
}

func newOrder(customerID uuid.UUID, status enums.OrderStatus) *models.Order {
	return &models.Order{
		CustomerID:  customerID,
		Status:      status,
		TotalAmount: decimal.NewFromInt(100),
	}
}

func TestRepositoryCreateAndFind(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order, err := repo.Create(ctx, newOrder(uuid.New(), enums.OrderStatusDraft))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, order.ID)

	items := []models.OrderItem{
		{OrderID: order.ID, ProductID: uuid.New(), Qty: 2, UnitPrice: decimal.NewFromInt(25), TotalPrice: decimal.NewFromInt(50)},
		{OrderID: order.ID, ProductID: uuid.New(), Qty: 1, UnitPrice: decimal.NewFromInt(50), TotalPrice: decimal.NewFromInt(50)},
	}
	require.NoError(t, repo.CreateItems(ctx, items))

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, found.ID)
	assert.Equal(t, enums.OrderStatusDraft, found.Status)
	assert.Len(t, found.Items, 2)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestRepositoryListByCustomer(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	customerID := uuid.New()
	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, newOrder(customerID, enums.OrderStatusDraft))
		require.NoError(t, err)
	}
	_, err := repo.Create(ctx, newOrder(uuid.New(), enums.OrderStatusDraft))
	require.NoError(t, err)

	orders, err := repo.ListByCustomer(ctx, customerID)
	require.NoError(t, err)
	assert.Len(t, orders, 3)
	for _, o := range orders {
		assert.Equal(t, customerID, o.CustomerID)
	}
}

func TestRepositoryUpdateStatus(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	order, err := repo.Create(ctx, newOrder(uuid.New(), enums.OrderStatusDraft))
	require.NoError(t, err)

	require.NoError(t, repo.UpdateStatus(ctx, order.ID, enums.OrderStatusReserved))

	found, err := repo.FindByID(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusReserved, found.Status)
}

func TestRepositoryFindWithActiveReservationBefore(t *testing.T) {
	t.Parallel()

	db := setupOrdersTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-5 * time.Minute)
	future := now.Add(30 * time.Minute)

	lapsed, err := repo.Create(ctx, newOrder(uuid.New(), enums.OrderStatusReserved))
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, lapsed.ID, map[string]any{
		"is_reservation_active":  true,
		"reservation_expires_at": past,
	}))

	live, err := repo.Create(ctx, newOrder(uuid.New(), enums.OrderStatusReserved))
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, live.ID, map[string]any{
		"is_reservation_active":  true,
		"reservation_expires_at": future,
	}))

	released, err := repo.Create(ctx, newOrder(uuid.New(), enums.OrderStatusReserved))
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, released.ID, map[string]any{
		"is_reservation_active":  false,
		"reservation_expires_at": past,
	}))

	due, err := repo.FindWithActiveReservationBefore(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, lapsed.ID, due[0].ID)
}
