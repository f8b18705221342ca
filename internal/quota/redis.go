package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sevigo/review-pipeline/internal/core"
)

// consumeScript increments the counter unless it already reached the
// limit. It returns the new count, or -1 on denial.
var consumeScript = redis.NewScript(`
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
local limit = tonumber(ARGV[1])
if limit >= 0 and used >= limit then
	return -1
end
used = redis.call("INCR", KEYS[1])
if used == 1 then
	redis.call("EXPIREAT", KEYS[1], ARGV[2])
end
return used`)

var rollbackScript = redis.NewScript(`
local used = tonumber(redis.call("GET", KEYS[1]) or "0")
if used > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0`)

// RedisGate keeps counters in Redis so every instance shares them.
type RedisGate struct {
	cli    *redis.Client
	limits Limits
	now    func() time.Time
}

func NewRedisGate(cli *redis.Client, limits Limits) *RedisGate {
	return &RedisGate{cli: cli, limits: limits, now: time.Now}
}

var _ core.QuotaGate = (*RedisGate)(nil)

func counterKey(accountID, period string) string {
	return fmt.Sprintf("quota:%s:%s", accountID, period)
}

func (g *RedisGate) TryConsume(ctx context.Context, accountID string, tier core.PlanTier) (core.Reservation, error) {
	now := g.now()
	r := core.Reservation{AccountID: accountID, Period: Period(now)}
	limit := g.limits.For(tier)

	// Keep counters a week past the period end for usage reporting.
	expireAt := periodEnd(now).Add(7 * 24 * time.Hour).Unix()
	n, err := consumeScript.Run(ctx, g.cli, []string{counterKey(accountID, r.Period)}, limit, expireAt).Int64()
	if err != nil {
		return core.Reservation{}, core.Transient(err, "consuming quota")
	}
	if n < 0 {
		return core.Reservation{}, denied(accountID, tier, limit)
	}
	return r, nil
}

func (g *RedisGate) Rollback(ctx context.Context, r core.Reservation) error {
	if err := rollbackScript.Run(ctx, g.cli, []string{counterKey(r.AccountID, r.Period)}).Err(); err != nil {
		return core.Transient(err, "rolling back quota")
	}
	return nil
}

func (g *RedisGate) Used(ctx context.Context, accountID string) (int64, error) {
	n, err := g.cli.Get(ctx, counterKey(accountID, Period(g.now()))).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, core.Transient(err, "reading quota")
	}
	return n, nil
}
