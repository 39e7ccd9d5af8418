package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *RedisBundleCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisBundleCache(client, "test", ttl)
}

func TestRedisBundleCache_SetGet(t *testing.T) {
	_, c := setupTestCache(t, time.Minute)
	ctx := context.Background()

	_, gen, ok, err := c.Get(ctx, "all")
	require.NoError(t, err)
	assert.False(t, ok, "empty cache should miss")
	assert.Equal(t, int64(0), gen)

	require.NoError(t, c.Set(ctx, "all", gen, []byte(`[{"id":"c1"}]`)))

	data, _, ok, err := c.Get(ctx, "all")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `[{"id":"c1"}]`, string(data))
}

func TestRedisBundleCache_InvalidateDropsAllKeys(t *testing.T) {
	_, c := setupTestCache(t, time.Minute)
	ctx := context.Background()

	for _, key := range []string{"all", "enabled", "config:c1"} {
		require.NoError(t, c.Set(ctx, key, 0, []byte("x")))
	}
	require.NoError(t, c.Invalidate(ctx))

	var gen int64
	for _, key := range []string{"all", "enabled", "config:c1"} {
		_, g, ok, err := c.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "key %s should miss after invalidate", key)
		gen = g
	}
	assert.Equal(t, int64(1), gen)

	require.NoError(t, c.Set(ctx, "all", gen, []byte("y")))
	data, _, ok, err := c.Get(ctx, "all")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "y", string(data))
}

func TestRedisBundleCache_TTL(t *testing.T) {
	mr, c := setupTestCache(t, 30*time.Second)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "enabled", 0, []byte("x")))
	assert.Equal(t, 30*time.Second, mr.TTL("test:0:enabled"))

	mr.FastForward(31 * time.Second)
	_, _, ok, err := c.Get(ctx, "enabled")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisBundleCache_Defaults(t *testing.T) {
	c := NewRedisBundleCache(nil, "", 0)
	assert.Equal(t, DefaultTTL, c.ttl)
	assert.Equal(t, "bundles:gen", c.genKey())
}

func TestRedisBundleCache_ServerDown(t *testing.T) {
	mr, c := setupTestCache(t, time.Minute)
	mr.Close()

	_, _, _, err := c.Get(context.Background(), "all")
	assert.Error(t, err)

	assert.Error(t, c.Set(context.Background(), "all", 0, []byte("x")))
}

func TestRedisBundleCache_SetSkipsInvalidatedGeneration(t *testing.T) {
	mr, c := setupTestCache(t, time.Minute)
	ctx := context.Background()

	// A read misses in generation 0, then a write invalidates before the
	// read stores its result.
	_, gen, ok, err := c.Get(ctx, "enabled")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, c.Invalidate(ctx))

	require.NoError(t, c.Set(ctx, "enabled", gen, []byte("stale")))
	assert.False(t, mr.Exists("test:0:enabled"))
	assert.False(t, mr.Exists("test:1:enabled"))

	_, gen, ok, err = c.Get(ctx, "enabled")
	require.NoError(t, err)
	assert.False(t, ok, "stale data must not be served")
	assert.Equal(t, int64(1), gen)
}
