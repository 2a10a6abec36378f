package sweeper

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/nmendoza/stocklane-backend/pkg/db/models"
	"github.com/nmendoza/stocklane-backend/pkg/logger"
)

type trackedLister interface {
	ListTracked(ctx context.Context) ([]models.Product, error)
}

type activeSummer interface {
	SumActiveByProduct(ctx context.Context, productID uuid.UUID) (int, error)
}

type reservedReconciler interface {
	ReconcileReserved(ctx context.Context, productID uuid.UUID) (int, error)
}

// ReconcileJobParams configure the counter reconciliation job.
type ReconcileJobParams struct {
	Logger       *logger.Logger
	Products     trackedLister
	Reservations activeSummer
	Engine       reservedReconciler
}

// NewReconcileJob builds the job that cross-checks each tracked product's
// reserved counter against the sum of its active reservations and writes the
// corrected value back through the engine, which logs the repair as a movement.
func NewReconcileJob(params ReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Products == nil {
		return nil, fmt.Errorf("product lister required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation repository required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("inventory engine required")
	}
	return &reconcileJob{
		logg:         params.Logger,
		products:     params.Products,
		reservations: params.Reservations,
		engine:       params.Engine,
	}, nil
}

type reconcileJob struct {
	logg         *logger.Logger
	products     trackedLister
	reservations activeSummer
	engine       reservedReconciler
}

func (j *reconcileJob) Name() string { return "reservation-reconcile" }

func (j *reconcileJob) Run(ctx context.Context) error {
	tracked, err := j.products.ListTracked(ctx)
	if err != nil {
		return fmt.Errorf("query tracked products: %w", err)
	}

	repaired := 0
	var errs []error
	for _, product := range tracked {
		activeSum, err := j.reservations.SumActiveByProduct(ctx, product.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("sum reservations for %s: %w", product.ID, err))
			continue
		}
		if activeSum == product.ReservedQty {
			continue
		}
		// the engine re-checks under its lease and row lock; the unlocked read
		// above only decides which products are worth the lock
		delta, err := j.engine.ReconcileReserved(ctx, product.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("reconcile reserved for %s: %w", product.ID, err))
			continue
		}
		if delta == 0 {
			continue
		}
		repaired++
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"product_id":   product.ID.String(),
			"sku":          product.SKU,
			"reserved_qty": product.ReservedQty,
			"active_sum":   activeSum,
			"delta":        delta,
		})
		j.logg.Warn(logCtx, "reserved counter repaired")
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"checked":  len(tracked),
		"repaired": repaired,
	})
	j.logg.Info(logCtx, "reservation reconcile complete")
	return multierr.Combine(errs...)
}
