package storage

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/sevigo/review-pipeline/internal/core"
)

// RedisLocker is a SetNX lock released only by the holder of its token.
type RedisLocker struct {
	cli *redis.Client
}

func NewRedisLocker(cli *redis.Client) *RedisLocker {
	return &RedisLocker{cli: cli}
}

var _ core.Locker = (*RedisLocker)(nil)

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.cli.SetNX(ctx, "lock:"+key, token, ttl).Result()
	if err != nil {
		return "", false, core.Transient(err, "acquiring lock "+key)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	return luaUnlock.Run(ctx, l.cli, []string{"lock:" + key}, token).Err()
}

// MemoryLocker is the single-process Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]heldLock
	now  func() time.Time
}

type heldLock struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]heldLock), now: time.Now}
}

var _ core.Locker = (*MemoryLocker)(nil)

func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if h, ok := l.held[key]; ok && now.Before(h.expires) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[key] = heldLock{token: token, expires: now.Add(ttl)}
	return token, true, nil
}

func (l *MemoryLocker) Unlock(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.held[key]; ok && h.token == token {
		delete(l.held, key)
	}
	return nil
}
