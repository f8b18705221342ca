package quota

import (
	"context"
	"sync"
	"time"

	"github.com/sevigo/review-pipeline/internal/core"
)

// MemoryGate keeps counters in process memory.
type MemoryGate struct {
	mu     sync.Mutex
	used   map[string]int64
	limits Limits
	now    func() time.Time
}

func NewMemoryGate(limits Limits) *MemoryGate {
	return &MemoryGate{used: make(map[string]int64), limits: limits, now: time.Now}
}

var _ core.QuotaGate = (*MemoryGate)(nil)

func (g *MemoryGate) TryConsume(_ context.Context, accountID string, tier core.PlanTier) (core.Reservation, error) {
	r := core.Reservation{AccountID: accountID, Period: Period(g.now())}
	limit := g.limits.For(tier)

	g.mu.Lock()
	defer g.mu.Unlock()
	key := r.AccountID + "|" + r.Period
	if limit != Unlimited && g.used[key] >= int64(limit) {
		return core.Reservation{}, denied(accountID, tier, limit)
	}
	g.used[key]++
	return r, nil
}

func (g *MemoryGate) Rollback(_ context.Context, r core.Reservation) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := r.AccountID + "|" + r.Period
	if g.used[key] > 0 {
		g.used[key]--
	}
	return nil
}

func (g *MemoryGate) Used(_ context.Context, accountID string) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.used[accountID+"|"+Period(g.now())], nil
}
