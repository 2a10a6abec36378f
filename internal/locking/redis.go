package locking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	pkgerrors "github.com/nmendoza/stocklane-backend/pkg/errors"
)

const (
	defaultLeaseTTL       = 60 * time.Second
	defaultAcquireTimeout = 30 * time.Second
	defaultRetryInterval  = 100 * time.Millisecond
)

// redisStore defines the operations the coordinator needs from Redis.
type redisStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	ProductLockKey(env, productID string) string
}

// RedisCoordinator implements Coordinator with SETNX leases. Each lease stores
// an owner token so release only deletes a key this process still owns; a
// crashed holder is bounded by the lease TTL.
type RedisCoordinator struct {
	client         redisStore
	env            string
	leaseTTL       time.Duration
	acquireTimeout time.Duration
	retryInterval  time.Duration
}

// RedisCoordinatorParams configure the Redis-backed coordinator.
type RedisCoordinatorParams struct {
	Client         redisStore
	Env            string
	LeaseTTL       time.Duration
	AcquireTimeout time.Duration
	RetryInterval  time.Duration
}

// NewRedisCoordinator constructs a Redis-backed lock coordinator.
func NewRedisCoordinator(params RedisCoordinatorParams) (*RedisCoordinator, error) {
	if params.Client == nil {
		return nil, errors.New("redis client required for lock coordinator")
	}
	leaseTTL := params.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = defaultLeaseTTL
	}
	acquireTimeout := params.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}
	retryInterval := params.RetryInterval
	if retryInterval <= 0 {
		retryInterval = defaultRetryInterval
	}
	return &RedisCoordinator{
		client:         params.Client,
		env:            params.Env,
		leaseTTL:       leaseTTL,
		acquireTimeout: acquireTimeout,
		retryInterval:  retryInterval,
	}, nil
}

// Acquire polls SETNX until the lease is granted or the acquire timeout lapses.
func (c *RedisCoordinator) Acquire(ctx context.Context, productID uuid.UUID) (*Lease, error) {
	key := c.client.ProductLockKey(c.env, productID.String())
	owner := uuid.NewString()
	deadline := time.Now().Add(c.acquireTimeout)

	for {
		ok, err := c.client.SetNX(ctx, key, owner, c.leaseTTL)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "setnx product lease")
		}
		if ok {
			return &Lease{ProductID: productID, Key: key, Owner: owner}, nil
		}
		if time.Now().After(deadline) {
			return nil, lockTimeoutError(productID)
		}
		select {
		case <-ctx.Done():
			return nil, pkgerrors.Wrap(pkgerrors.CodeLockTimeout, ctx.Err(), "canceled while acquiring product lease").
				WithDetails(pkgerrors.LockTimeoutDetails{ProductID: productID.String()})
		case <-time.After(c.retryInterval):
		}
	}
}

// Release frees the lease only if the owner token still matches. A missing key
// means the lease already expired and there is nothing to do.
func (c *RedisCoordinator) Release(ctx context.Context, lease *Lease) error {
	if lease == nil || lease.Owner == "" {
		return nil
	}
	value, err := c.client.Get(ctx, lease.Key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("read lease owner: %w", err)
	}
	if value != lease.Owner {
		return nil
	}
	if err := c.client.Del(ctx, lease.Key); err != nil {
		return fmt.Errorf("delete lease: %w", err)
	}
	return nil
}
