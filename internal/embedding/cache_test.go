package embedding

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(client)
	defer cache.Close()
	ctx := context.Background()

	require.NoError(t, cache.Ping(ctx))

	_, ok, err := cache.Get(ctx, "emb:text:m:missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "emb:text:m:k", []byte("vec"), time.Hour))
	val, ok, err := cache.Get(ctx, "emb:text:m:k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("vec"), val)

	// upsert
	require.NoError(t, cache.Set(ctx, "emb:text:m:k", []byte("vec2"), time.Hour))
	val, _, _ = cache.Get(ctx, "emb:text:m:k")
	assert.Equal(t, []byte("vec2"), val)

	mr.FastForward(2 * time.Hour)
	_, ok, err = cache.Get(ctx, "emb:text:m:k")
	require.NoError(t, err)
	assert.False(t, ok, "entry should expire after its TTL")
}

func TestNewRedisCacheFromURL(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := NewRedisCacheFromURL("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	defer cache.Close()
	assert.NoError(t, cache.Ping(context.Background()))

	_, err = NewRedisCacheFromURL("://bad")
	assert.Error(t, err)
}

func TestMemoryCache(t *testing.T) {
	cache := NewMemoryCache(time.Hour)
	defer cache.Stop()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, cache.Set(ctx, "b", []byte("2"), -time.Second))

	val, ok, _ := cache.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), val)

	_, ok, _ = cache.Get(ctx, "b")
	assert.False(t, ok, "expired entry must read as a miss")

	cache.cleanup()
	assert.Equal(t, 1, cache.Len())

	cache.Stop()
	cache.Stop()
}
