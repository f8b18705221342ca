package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sevigo/review-pipeline/internal/core"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return mr, cli
}

func ledgers(t *testing.T) map[string]core.DeliveryLedger {
	_, cli := newMiniRedis(t)
	return map[string]core.DeliveryLedger{
		"memory": NewMemoryLedger(time.Hour),
		"redis":  NewRedisLedger(cli, time.Hour),
	}
}

func TestLedger_ReserveIsExclusive(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ok, err := l.Reserve(ctx, "job-1")
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = l.Reserve(ctx, "job-1")
			require.NoError(t, err)
			assert.False(t, ok, "second reservation must fail")

			delivered, err := l.Delivered(ctx, "job-1")
			require.NoError(t, err)
			assert.False(t, delivered)
		})
	}
}

func TestLedger_ReleaseOnlyFreesReservedSlots(t *testing.T) {
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := l.Reserve(ctx, "retry")
			require.NoError(t, err)
			require.NoError(t, l.Release(ctx, "retry"))
			ok, err := l.Reserve(ctx, "retry")
			require.NoError(t, err)
			assert.True(t, ok)

			_, err = l.Reserve(ctx, "done")
			require.NoError(t, err)
			require.NoError(t, l.Confirm(ctx, "done"))
			require.NoError(t, l.Release(ctx, "done"))

			delivered, err := l.Delivered(ctx, "done")
			require.NoError(t, err)
			assert.True(t, delivered)
			ok, err = l.Reserve(ctx, "done")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestRedisLedger_SlotsExpireAfterWindow(t *testing.T) {
	mr, cli := newMiniRedis(t)
	l := NewRedisLedger(cli, time.Minute)
	ctx := context.Background()

	_, err := l.Reserve(ctx, "job")
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	ok, err := l.Reserve(ctx, "job")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryLedger_SlotsExpireAfterWindow(t *testing.T) {
	now := time.Now()
	l := NewMemoryLedger(time.Minute)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, l.Confirm(ctx, "job"))
	now = now.Add(2 * time.Minute)

	delivered, err := l.Delivered(ctx, "job")
	require.NoError(t, err)
	assert.False(t, delivered)
}
