package locking

import (
	"context"
	"sort"

	"github.com/google/uuid"

	pkgerrors "github.com/nmendoza/stocklane-backend/pkg/errors"
)

// Lease is a time-bounded grant of exclusive access to one product.
type Lease struct {
	ProductID uuid.UUID
	Key       string
	Owner     string
}

// Coordinator serializes mutating access to a product across processes for the
// lifetime of a lease. Release on an already-expired or foreign lease is a no-op.
type Coordinator interface {
	Acquire(ctx context.Context, productID uuid.UUID) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
}

// AcquireAll takes one lease per product id in ascending id order, the total
// order that keeps concurrent multi-product reservations deadlock-free. On any
// acquisition failure every lease already held is released before the error
// surfaces; no lease is abandoned.
func AcquireAll(ctx context.Context, coordinator Coordinator, productIDs []uuid.UUID) ([]*Lease, error) {
	sorted := make([]uuid.UUID, len(productIDs))
	copy(sorted, productIDs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})

	leases := make([]*Lease, 0, len(sorted))
	for _, productID := range sorted {
		lease, err := coordinator.Acquire(ctx, productID)
		if err != nil {
			ReleaseAll(ctx, coordinator, leases)
			return nil, err
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

// ReleaseAll frees the given leases in reverse acquisition order. Errors are
// swallowed: by the time leases are released the transactional work is already
// decided, and an expired lease self-heals.
func ReleaseAll(ctx context.Context, coordinator Coordinator, leases []*Lease) []error {
	var errs []error
	for i := len(leases) - 1; i >= 0; i-- {
		if err := coordinator.Release(ctx, leases[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func lockTimeoutError(productID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeLockTimeout, "timed out acquiring product lease").
		WithDetails(pkgerrors.LockTimeoutDetails{ProductID: productID.String()})
}
