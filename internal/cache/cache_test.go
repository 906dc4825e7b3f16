package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/kairo/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis spins up a Redis container and returns a connected RedisCache.
func setupRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	rc, err := cache.NewRedisCache("redis://" + host + ":" + port.Port())
	require.NoError(t, err)
	t.Cleanup(func() { rc.Close() })

	return rc
}

// forEachCache runs fn against the in-memory cache and, unless -short, Redis.
func forEachCache(t *testing.T, fn func(t *testing.T, c cache.Cache)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, cache.NewMemoryCache())
	})
	t.Run("redis", func(t *testing.T) {
		if testing.Short() {
			t.Skip("skipping integration test")
		}
		fn(t, setupRedis(t))
	})
}

func TestPing(t *testing.T) {
	forEachCache(t, func(t *testing.T, c cache.Cache) {
		assert.NoError(t, c.Ping(context.Background()))
	})
}

func TestSetGet_Roundtrip(t *testing.T) {
	forEachCache(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "test:key", []byte("hello"), 10*time.Second))

		val, found, err := c.Get(ctx, "test:key")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("hello"), val)
	})
}

func TestGet_NotFound(t *testing.T) {
	forEachCache(t, func(t *testing.T, c cache.Cache) {
		val, found, err := c.Get(context.Background(), "nonexistent:key")
		require.NoError(t, err)
		assert.False(t, found)
		assert.Nil(t, val)
	})
}

func TestGetDel_SingleUse(t *testing.T) {
	forEachCache(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		key := cache.OAuthStateKey(uuid.NewString())
		require.NoError(t, c.Set(ctx, key, []byte(`{"tenantId":"T1"}`), time.Minute))

		val, found, err := c.GetDel(ctx, key)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, `{"tenantId":"T1"}`, string(val))

		_, found, err = c.GetDel(ctx, key)
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestDelete(t *testing.T) {
	forEachCache(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		require.NoError(t, c.Set(ctx, "del:key", []byte("bye"), 10*time.Second))
		require.NoError(t, c.Delete(ctx, "del:key"))

		_, found, err := c.Get(ctx, "del:key")
		require.NoError(t, err)
		assert.False(t, found)

		assert.NoError(t, c.Delete(ctx, "does:not:exist"))
	})
}

func TestIncrWithExpiry(t *testing.T) {
	forEachCache(t, func(t *testing.T, c cache.Cache) {
		ctx := context.Background()
		key := cache.RateLimitKey("tenant:" + uuid.NewString()[:8])

		for want := int64(1); want <= 3; want++ {
			val, err := c.IncrWithExpiry(ctx, key, 10*time.Second)
			require.NoError(t, err)
			assert.Equal(t, want, val)
		}
	})
}

func TestMemoryCache_Expiry(t *testing.T) {
	c := cache.NewMemoryCache()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c.Now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	_, err := c.IncrWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	_, found, _ := c.Get(ctx, "k")
	assert.True(t, found)
	n, err := c.IncrWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n, "the window is not extended by later increments")

	now = now.Add(time.Second)
	_, found, _ = c.Get(ctx, "k")
	assert.False(t, found)
	n, err = c.IncrWithExpiry(ctx, "counter", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRedisCache_TTLExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	rc := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, rc.Set(ctx, "expiry:key", []byte("temp"), 1*time.Second))
	time.Sleep(1500 * time.Millisecond)

	_, found, err := rc.Get(ctx, "expiry:key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestKeyBuilders(t *testing.T) {
	assert.Equal(t, "oauth:state:abc", cache.OAuthStateKey("abc"))
	assert.Equal(t, "ratelimit:user_1", cache.RateLimitKey("user_1"))
	assert.NotEqual(t, cache.OAuthStateKey("x"), cache.RateLimitKey("x"))
}
