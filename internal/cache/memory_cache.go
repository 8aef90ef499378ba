package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache 基于go-cache的进程内缓存
// 达到条目上限时先清理过期项，仍然满则不再写入
type MemoryCache struct {
	items    *gocache.Cache
	maxItems int
}

// NewMemoryCache 创建内存缓存
func NewMemoryCache(config Config) (Cache, error) {
	ttl := config.DefaultTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	cleanup := config.CleanupInterval
	if cleanup <= 0 {
		cleanup = 10 * time.Minute
	}

	return &MemoryCache{
		items:    gocache.New(ttl, cleanup),
		maxItems: config.MaxItems,
	}, nil
}

// Get 获取缓存内容
func (m *MemoryCache) Get(key string) (string, bool, error) {
	v, found := m.items.Get(key)
	if !found {
		return "", false, nil
	}
	s, ok := v.(string)
	return s, ok, nil
}

// Set 写入缓存，ttl为0时使用默认过期时间
func (m *MemoryCache) Set(key string, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	if m.full(key) {
		return nil
	}
	m.items.Set(key, value, ttl)
	return nil
}

// full 判断新键是否超出条目上限，覆盖已有键不受限制
func (m *MemoryCache) full(key string) bool {
	if m.maxItems <= 0 {
		return false
	}
	if _, exists := m.items.Get(key); exists {
		return false
	}
	if m.items.ItemCount() < m.maxItems {
		return false
	}
	m.items.DeleteExpired()
	return m.items.ItemCount() >= m.maxItems
}

// Len 返回当前条目数，包含尚未清理的过期项
func (m *MemoryCache) Len() int {
	return m.items.ItemCount()
}

// Delete 删除缓存项
func (m *MemoryCache) Delete(key string) error {
	m.items.Delete(key)
	return nil
}

// Clear 清空缓存
func (m *MemoryCache) Clear() error {
	m.items.Flush()
	return nil
}

func init() {
	RegisterCache("memory", NewMemoryCache)
}
