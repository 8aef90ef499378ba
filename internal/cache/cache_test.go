package cache

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoryCache 测试内存缓存的基本功能
func TestMemoryCache(t *testing.T) {
	cache, err := NewMemoryCache(Config{
		Type:            "memory",
		DefaultTTL:      2 * time.Second,
		CleanupInterval: time.Second,
	})
	require.NoError(t, err)

	// 测试Set和Get
	require.NoError(t, cache.Set("key1", "value1", 0))
	val, found, err := cache.Get("key1")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "value1", val)

	// 测试不存在的键
	val, found, err = cache.Get("non-existent")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, val)

	// 测试过期
	require.NoError(t, cache.Set("expire-soon", "temp-value", time.Millisecond*200))
	time.Sleep(time.Millisecond * 400)
	_, found, err = cache.Get("expire-soon")
	assert.NoError(t, err)
	assert.False(t, found)

	// 测试删除
	require.NoError(t, cache.Set("to-delete", "delete-me", 0))
	require.NoError(t, cache.Delete("to-delete"))
	_, found, _ = cache.Get("to-delete")
	assert.False(t, found)

	// 测试清空
	require.NoError(t, cache.Set("key2", "value2", 0))
	require.NoError(t, cache.Clear())
	_, found, _ = cache.Get("key2")
	assert.False(t, found)
}

// TestRedisCache 使用miniredis测试Redis缓存
func TestRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cache, err := NewRedisCache(Config{
		Type:       "redis",
		RedisAddr:  mr.Addr(),
		Prefix:     "test",
		DefaultTTL: time.Minute,
	})
	require.NoError(t, err)

	require.NoError(t, cache.Set("redis-key1", "redis-value1", 0))
	val, found, err := cache.Get("redis-key1")
	assert.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "redis-value1", val)

	// 键带有前缀，并使用默认TTL
	assert.True(t, mr.Exists("test:redis-key1"))
	assert.Equal(t, time.Minute, mr.TTL("test:redis-key1"))

	// 测试过期
	require.NoError(t, cache.Set("redis-expire-soon", "v", time.Second))
	mr.FastForward(2 * time.Second)
	_, found, err = cache.Get("redis-expire-soon")
	assert.NoError(t, err)
	assert.False(t, found)

	// 测试删除
	require.NoError(t, cache.Set("redis-to-delete", "v", 0))
	require.NoError(t, cache.Delete("redis-to-delete"))
	_, found, _ = cache.Get("redis-to-delete")
	assert.False(t, found)

	// Clear只删除带前缀的键
	require.NoError(t, mr.Set("other:key", "keep"))
	require.NoError(t, cache.Clear())
	_, found, _ = cache.Get("redis-key1")
	assert.False(t, found)
	assert.True(t, mr.Exists("other:key"))
}

// TestRedisCacheUnavailable 测试Redis不可用时返回错误
func TestRedisCacheUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(Config{Type: "redis", RedisAddr: addr})
	assert.Error(t, err)
}

// TestCacheFactory 测试缓存工厂函数
func TestCacheFactory(t *testing.T) {
	memCache, err := NewCache(DefaultConfig())
	assert.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, memCache)

	mr := miniredis.RunT(t)
	redisCache, err := NewCache(Config{Type: "redis", RedisAddr: mr.Addr()})
	require.NoError(t, err)
	assert.IsType(t, &RedisCache{}, redisCache)

	defaultCache, err := NewCache(Config{})
	assert.NoError(t, err)
	assert.IsType(t, &MemoryCache{}, defaultCache)

	_, err = NewCache(Config{Type: "memcached"})
	assert.ErrorContains(t, err, "unsupported cache type")
}

// TestMemoryCacheLimit 测试内存缓存的条目上限
func TestMemoryCacheLimit(t *testing.T) {
	c, err := NewMemoryCache(Config{MaxItems: 2, DefaultTTL: time.Hour})
	require.NoError(t, err)
	mc := c.(*MemoryCache)

	require.NoError(t, c.Set("a", "1", 0))
	require.NoError(t, c.Set("b", "2", 0))
	require.NoError(t, c.Set("c", "3", 0))
	_, found, _ := c.Get("c")
	assert.False(t, found, "new keys are dropped when full")
	assert.Equal(t, 2, mc.Len())

	// 覆盖已有键不受上限影响
	require.NoError(t, c.Set("a", "updated", 0))
	v, found, _ := c.Get("a")
	assert.True(t, found)
	assert.Equal(t, "updated", v)

	// 过期项被清理后可以继续写入
	require.NoError(t, c.Set("b", "short", 50*time.Millisecond))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, c.Set("c", "3", 0))
	_, found, _ = c.Get("c")
	assert.True(t, found)
}

// TestHashKey 测试长文本缓存键
func TestHashKey(t *testing.T) {
	k1 := HashKey("emb", "model", "some long chunk text")
	k2 := HashKey("emb", "model", "some long chunk text")
	k3 := HashKey("emb", "model", "other text")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, len("emb:")+64)
	// 分隔符避免拼接歧义
	assert.NotEqual(t, HashKey("p", "ab", "c"), HashKey("p", "a", "bc"))
}
