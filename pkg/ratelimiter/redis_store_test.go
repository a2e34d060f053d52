package ratelimiter_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egglogu/billing/pkg/ratelimiter"
)

func newRedisStore(t *testing.T) (*ratelimiter.RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimiter.NewRedisStore(client, "rl:"), mr
}

func TestRedisStore_Increment(t *testing.T) {
	t.Parallel()

	store, mr := newRedisStore(t)
	ctx := context.Background()

	count, resetAt, err := store.Increment(ctx, "org:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.WithinDuration(t, time.Now().Add(time.Minute), resetAt, 2*time.Second)
	assert.Equal(t, time.Minute, mr.TTL("rl:org:1"))

	count, _, err = store.Increment(ctx, "org:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	mr.FastForward(time.Minute)
	count, _, err = store.Increment(ctx, "org:1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, store.Reset(ctx, "org:1"))
	assert.False(t, mr.Exists("rl:org:1"))
}

func TestRedisStore_RepairsMissingTTL(t *testing.T) {
	t.Parallel()

	store, mr := newRedisStore(t)
	require.NoError(t, mr.Set("rl:stuck", "7"))

	count, _, err := store.Increment(context.Background(), "stuck", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(8), count)
	assert.Equal(t, time.Minute, mr.TTL("rl:stuck"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	t.Parallel()

	store, mr := newRedisStore(t)
	mr.Close()

	_, _, err := store.Increment(context.Background(), "k", time.Minute)
	assert.ErrorIs(t, err, ratelimiter.ErrStoreUnavailable)
	assert.ErrorIs(t, store.Reset(context.Background(), "k"), ratelimiter.ErrStoreUnavailable)
}
