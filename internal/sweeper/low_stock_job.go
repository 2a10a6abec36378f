package sweeper

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/nmendoza/stocklane-backend/pkg/db/models"
	"github.com/nmendoza/stocklane-backend/pkg/logger"
)

// alertWindow suppresses repeat alerts for a product after one fires.
const alertWindow = 24 * time.Hour

type lowStockLister interface {
	ListLowStock(ctx context.Context) ([]models.Product, error)
}

type alertDeduper interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	LowStockAlertKey(env, productID string) string
}

// LowStockJobParams configure the low stock alert job.
type LowStockJobParams struct {
	Logger   *logger.Logger
	Products lowStockLister
	Deduper  alertDeduper
	Notify   taskDispatcher
	Env      string
}

// NewLowStockJob builds the job that raises one alert per product per window
// when available stock falls to the threshold.
func NewLowStockJob(params LowStockJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product lister required")
	}
	if params.Deduper == nil {
		return nil, fmt.Errorf("alert deduper required")
	}
	if params.Notify == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	return &lowStockJob{
		logg:     params.Logger,
		products: params.Products,
		deduper:  params.Deduper,
		notify:   params.Notify,
		env:      params.Env,
	}, nil
}

type lowStockJob struct {
	logg     *logger.Logger
	products lowStockLister
	deduper  alertDeduper
	notify   taskDispatcher
	env      string
}

func (j *lowStockJob) Name() string { return "low-stock-alert" }

func (j *lowStockJob) Run(ctx context.Context) error {
	low, err := j.products.ListLowStock(ctx)
	if err != nil {
		return fmt.Errorf("query low stock products: %w", err)
	}

	alerted := 0
	var errs []error
	for _, product := range low {
		key := j.deduper.LowStockAlertKey(j.env, product.ID.String())
		fresh, err := j.deduper.SetNX(ctx, key, "1", alertWindow)
		if err != nil {
			errs = append(errs, fmt.Errorf("dedupe alert for %s: %w", product.ID, err))
			continue
		}
		if !fresh {
			continue
		}
		if err := j.notify.Enqueue(ctx, "low_stock_alert", map[string]any{
			"product_id": product.ID,
			"sku":        product.SKU,
			"available":  product.AvailableQty(),
			"threshold":  product.LowStockThreshold,
		}); err != nil {
			errs = append(errs, fmt.Errorf("enqueue alert for %s: %w", product.ID, err))
			continue
		}
		alerted++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"low_stock": len(low),
		"alerted":   alerted,
	})
	j.logg.Info(logCtx, "low stock scan complete")
	return multierr.Combine(errs...)
}
