package guard

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"call-orchestrator/pkg/utils"
)

// DefaultTTL bounds how long a test-call slot can stay held if the holder
// crashes before releasing it.
const DefaultTTL = 60 * time.Second

// Locker serializes test calls per organization. Acquire returns ok=false
// when another test call is already in flight for the org.
type Locker interface {
	Acquire(ctx context.Context, orgID string) (release func(), ok bool, err error)
}

// RedisLocker implements Locker with a redis mutex so the guard holds
// across multiple orchestrator instances.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: DefaultTTL}
}

func lockKey(orgID string) string {
	return "call-orchestrator:test-call:" + orgID
}

func (l *RedisLocker) Acquire(ctx context.Context, orgID string) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := utils.AcquireMutex(ctx, l.rdb, lockKey(orgID), token, l.ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	release := func() {
		// Release on a fresh context; the request context may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = utils.ReleaseMutex(releaseCtx, l.rdb, lockKey(orgID), token)
	}
	return release, true, nil
}

// MemoryLocker is a process-local Locker for tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: map[string]bool{}}
}

func (l *MemoryLocker) Acquire(ctx context.Context, orgID string) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[orgID] {
		return nil, false, nil
	}
	l.held[orgID] = true
	release := func() {
		l.mu.Lock()
		delete(l.held, orgID)
		l.mu.Unlock()
	}
	return release, true, nil
}
