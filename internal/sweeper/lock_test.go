package sweeper

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type fakeRedisStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newFakeRedisStore() *fakeRedisStore {
	return &fakeRedisStore{values: make(map[string]string)}
}

func (s *fakeRedisStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		return false, nil
	}
	s.values[key] = value.(string)
	return true, nil
}

func (s *fakeRedisStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.values[key]
	if !ok {
		return "", redis.Nil
	}
	return value, nil
}

func (s *fakeRedisStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func TestRedisLockAcquireRelease(t *testing.T) {
	t.Parallel()

	store := newFakeRedisStore()
	lock, err := NewRedisLock(store, "sl:test:sweeper-lock", time.Minute)
	if err != nil {
		t.Fatalf("build lock: %v", err)
	}
	ctx := context.Background()

	ok, err := lock.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}

	second, err := NewRedisLock(store, "sl:test:sweeper-lock", time.Minute)
	if err != nil {
		t.Fatalf("build second lock: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second instance must not acquire a held lock")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = second.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if !ok {
		t.Fatal("expected acquire to succeed after release")
	}
}

func TestRedisLockReleaseLeavesForeignOwner(t *testing.T) {
	t.Parallel()

	store := newFakeRedisStore()
	lock, err := NewRedisLock(store, "sl:test:sweeper-lock", time.Minute)
	if err != nil {
		t.Fatalf("build lock: %v", err)
	}
	ctx := context.Background()

	if _, err := lock.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	// lock expired and was re-acquired elsewhere
	if err := store.Del(ctx, "sl:test:sweeper-lock"); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if _, err := store.SetNX(ctx, "sl:test:sweeper-lock", "other", time.Minute); err != nil {
		t.Fatalf("install other owner: %v", err)
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	value, err := store.Get(ctx, "sl:test:sweeper-lock")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if value != "other" {
		t.Fatalf("stale release removed a foreign lock, got %q", value)
	}
}

func TestRedisLockReleaseWithoutAcquireIsNoop(t *testing.T) {
	t.Parallel()

	lock, err := NewRedisLock(newFakeRedisStore(), "sl:test:sweeper-lock", time.Minute)
	if err != nil {
		t.Fatalf("build lock: %v", err)
	}
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release without acquire: %v", err)
	}
}
