package locking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryCoordinator is a single-process mutex table implementing Coordinator.
// It backs deployments without a shared Redis and every engine test.
type MemoryCoordinator struct {
	mu             sync.Mutex
	held           map[uuid.UUID]string
	acquireTimeout time.Duration
	retryInterval  time.Duration
}

// NewMemoryCoordinator builds an in-memory coordinator with the given acquire timeout.
func NewMemoryCoordinator(acquireTimeout time.Duration) *MemoryCoordinator {
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	return &MemoryCoordinator{
		held:           make(map[uuid.UUID]string),
		acquireTimeout: acquireTimeout,
		retryInterval:  time.Millisecond,
	}
}

func (c *MemoryCoordinator) Acquire(ctx context.Context, productID uuid.UUID) (*Lease, error) {
	owner := uuid.NewString()
	deadline := time.Now().Add(c.acquireTimeout)

	for {
		c.mu.Lock()
		if _, taken := c.held[productID]; !taken {
			c.held[productID] = owner
			c.mu.Unlock()
			return &Lease{ProductID: productID, Key: productID.String(), Owner: owner}, nil
		}
		c.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, lockTimeoutError(productID)
		}
		select {
		case <-ctx.Done():
			return nil, lockTimeoutError(productID)
		case <-time.After(c.retryInterval):
		}
	}
}

func (c *MemoryCoordinator) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, ok := c.held[lease.ProductID]; ok && owner == lease.Owner {
		delete(c.held, lease.ProductID)
	}
	return nil
}
