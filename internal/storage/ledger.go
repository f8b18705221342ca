package storage

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sevigo/review-pipeline/internal/core"
)

const (
	slotReserved  = "reserved"
	slotDelivered = "delivered"
)

// RedisLedger keeps delivery slots as Redis keys that expire after the
// dedup window.
type RedisLedger struct {
	cli    *redis.Client
	window time.Duration
}

func NewRedisLedger(cli *redis.Client, window time.Duration) *RedisLedger {
	return &RedisLedger{cli: cli, window: window}
}

var _ core.DeliveryLedger = (*RedisLedger)(nil)

// releaseScript deletes a slot only while it is still merely reserved.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func deliveryKey(jobID string) string {
	return "delivery:" + jobID
}

func (l *RedisLedger) Reserve(ctx context.Context, jobID string) (bool, error) {
	ok, err := l.cli.SetNX(ctx, deliveryKey(jobID), slotReserved, l.window).Result()
	if err != nil {
		return false, core.Transient(err, "reserving delivery slot")
	}
	return ok, nil
}

func (l *RedisLedger) Confirm(ctx context.Context, jobID string) error {
	if err := l.cli.Set(ctx, deliveryKey(jobID), slotDelivered, l.window).Err(); err != nil {
		return core.Transient(err, "confirming delivery")
	}
	return nil
}

func (l *RedisLedger) Release(ctx context.Context, jobID string) error {
	if err := releaseScript.Run(ctx, l.cli, []string{deliveryKey(jobID)}, slotReserved).Err(); err != nil {
		return core.Transient(err, "releasing delivery slot")
	}
	return nil
}

func (l *RedisLedger) Delivered(ctx context.Context, jobID string) (bool, error) {
	v, err := l.cli.Get(ctx, deliveryKey(jobID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, core.Transient(err, "reading delivery slot")
	}
	return v == slotDelivered, nil
}

// MemoryLedger is the single-process DeliveryLedger.
type MemoryLedger struct {
	mu     sync.Mutex
	slots  map[string]ledgerSlot
	window time.Duration
	now    func() time.Time
}

type ledgerSlot struct {
	state   string
	expires time.Time
}

func NewMemoryLedger(window time.Duration) *MemoryLedger {
	return &MemoryLedger{slots: make(map[string]ledgerSlot), window: window, now: time.Now}
}

var _ core.DeliveryLedger = (*MemoryLedger)(nil)

// slot returns the live slot of jobID. Caller holds mu.
func (l *MemoryLedger) slot(jobID string) (ledgerSlot, bool) {
	s, ok := l.slots[jobID]
	if ok && l.window > 0 && !l.now().Before(s.expires) {
		delete(l.slots, jobID)
		return ledgerSlot{}, false
	}
	return s, ok
}

func (l *MemoryLedger) Reserve(_ context.Context, jobID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.slot(jobID); ok {
		return false, nil
	}
	l.slots[jobID] = ledgerSlot{state: slotReserved, expires: l.now().Add(l.window)}
	return true, nil
}

func (l *MemoryLedger) Confirm(_ context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slots[jobID] = ledgerSlot{state: slotDelivered, expires: l.now().Add(l.window)}
	return nil
}

func (l *MemoryLedger) Release(_ context.Context, jobID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if s, ok := l.slot(jobID); ok && s.state == slotReserved {
		delete(l.slots, jobID)
	}
	return nil
}

func (l *MemoryLedger) Delivered(_ context.Context, jobID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slot(jobID)
	return ok && s.state == slotDelivered, nil
}
