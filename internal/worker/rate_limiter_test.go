package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_AllowsUpToLimitPerSecond(t *testing.T) {
	_, rdb := setupTestRedis(t)
	clk := &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 250*int(time.Millisecond), time.UTC)}
	rl := NewRateLimiter(rdb, "test", 2)
	rl.now = clk.now
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, _, err := rl.Allow(ctx)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, wait, err := rl.Allow(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 750*time.Millisecond, wait)

	used, err := rl.CurrentUsage(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 2, used)

	clk.advance(time.Second)
	ok, _, err = rl.Allow(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "next second opens a new window")
}

func TestRateLimiter_SharedAcrossInstances(t *testing.T) {
	_, rdb := setupTestRedis(t)
	clk := &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	a := NewRateLimiter(rdb, "shared", 1)
	b := NewRateLimiter(rdb, "shared", 1)
	a.now, b.now = clk.now, clk.now

	ok, _, _ := a.Allow(context.Background())
	assert.True(t, ok)
	ok, _, _ = b.Allow(context.Background())
	assert.False(t, ok, "second process sees the first one's slot")
}

func TestRateLimiter_WaitHonoursContext(t *testing.T) {
	_, rdb := setupTestRedis(t)
	clk := &clock{t: time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)}
	rl := NewRateLimiter(rdb, "ctx", 1)
	rl.now = clk.now

	require.NoError(t, rl.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, rl.Wait(ctx), context.DeadlineExceeded)
}

func TestRateLimiter_FallsBackToLocalWhenRedisDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	rl := NewRateLimiter(rdb, "down", 100)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, rl.Wait(ctx))
}

func TestNewLocalLimiter(t *testing.T) {
	l := NewLocalLimiter(0)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow())
	}
	l = NewLocalLimiter(1)
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
}
