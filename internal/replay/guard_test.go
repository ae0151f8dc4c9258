package replay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuard(t *testing.T, ttl time.Duration) (*RedisGuard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisGuard(client, ttl), mr
}

func TestRedisGuard_MarkThenSeen(t *testing.T) {
	ctx := context.Background()
	g, mr := newGuard(t, time.Hour)

	seen, err := g.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, g.Mark(ctx, "evt_1"))
	require.NoError(t, g.Mark(ctx, "evt_1"))

	seen, err = g.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.True(t, mr.Exists(keyPrefix+"evt_1"))

	seen, err = g.Seen(ctx, "evt_2")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisGuard_Expires(t *testing.T) {
	ctx := context.Background()
	g, mr := newGuard(t, time.Minute)

	require.NoError(t, g.Mark(ctx, "evt_1"))
	mr.FastForward(2 * time.Minute)

	seen, err := g.Seen(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRedisGuard_ServerDown(t *testing.T) {
	g, mr := newGuard(t, time.Minute)
	mr.Close()

	_, err := g.Seen(context.Background(), "evt_1")
	assert.Error(t, err)
}

func TestConnect(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := Connect(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	defer client.Close()

	_, err = Connect(context.Background(), "not a url")
	assert.Error(t, err)
}

func TestNopGuard(t *testing.T) {
	var g Guard = NopGuard{}
	require.NoError(t, g.Mark(context.Background(), "evt_1"))
	seen, err := g.Seen(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, seen)
}
