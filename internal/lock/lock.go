// Package lock provides the per-campaign advisory lock held during a
// scheduling pass.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	appErrors "github.com/unclebandit/gymcall-scheduler/internal/errors"
)

// Release gives a lock back. Releasing an expired or stolen lock is a no-op.
type Release func(ctx context.Context) error

// Locker grants exclusive, expiring ownership of a key. Acquire returns
// appErrors.ErrCampaignLocked when another owner holds it.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// CampaignKey is the lock key for one campaign.
func CampaignKey(id uuid.UUID) string {
	return fmt.Sprintf("campaign:%s", id)
}

// RedisLocker is a SET NX PX token lock.
type RedisLocker struct {
	client goredis.UniversalClient
	ttl    time.Duration
}

func NewRedisLocker(client goredis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// releaseScript deletes the key only while it still carries our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()
	k := "gymcall:lock:" + key

	ok, err := l.client.SetNX(ctx, k, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock/redis: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, appErrors.ErrCampaignLocked
	}

	return func(ctx context.Context) error {
		if err := l.client.Eval(ctx, releaseScript, []string{k}, token).Err(); err != nil {
			return fmt.Errorf("lock/redis: release %s: %w", key, err)
		}
		return nil
	}, nil
}

// MemoryLocker is an in-process Locker with the same expiry semantics.
type MemoryLocker struct {
	mu    sync.Mutex
	ttl   time.Duration
	held  map[string]memoryLease
	clock func() time.Time
}

type memoryLease struct {
	token   string
	expires time.Time
}

func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	return &MemoryLocker{ttl: ttl, held: make(map[string]memoryLease), clock: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if cur, ok := l.held[key]; ok && now.Before(cur.expires) {
		return nil, appErrors.ErrCampaignLocked
	}

	token := uuid.NewString()
	l.held[key] = memoryLease{token: token, expires: now.Add(l.ttl)}

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if cur, ok := l.held[key]; ok && cur.token == token {
			delete(l.held, key)
		}
		return nil
	}, nil
}

var (
	_ Locker = (*RedisLocker)(nil)
	_ Locker = (*MemoryLocker)(nil)
)
