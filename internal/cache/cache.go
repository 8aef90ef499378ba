package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Cache 缓存接口
// 存放查询嵌入向量和按索引指纹区分的问答结果，值为序列化后的字符串
type Cache interface {
	Get(key string) (value string, found bool, err error)
	Set(key string, value string, ttl time.Duration) error
	Delete(key string) error
	Clear() error
}

// Factory 缓存工厂函数类型
type Factory func(config Config) (Cache, error)

var registry = make(map[string]Factory)

// RegisterCache 注册缓存实现
func RegisterCache(name string, factory Factory) {
	registry[name] = factory
}

// NewCache 按类型创建缓存实例，类型为空时使用内存缓存
func NewCache(config Config) (Cache, error) {
	if config.Type == "" {
		config.Type = "memory"
	}
	factory, ok := registry[config.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported cache type: %s", config.Type)
	}
	return factory(config)
}

// Config 缓存配置
type Config struct {
	Type string // memory 或 redis

	// Redis连接参数
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Prefix 键前缀，Redis缓存的Clear只清理该前缀下的键
	Prefix     string
	DefaultTTL time.Duration

	// 内存缓存
	CleanupInterval time.Duration
	MaxItems        int // 条目上限，0表示不限
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Type:            "memory",
		Prefix:          "auditor",
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: 10 * time.Minute,
		MaxItems:        50000,
	}
}

// HashKey 以长文本（查询、问题）生成定长缓存键
// 各部分之间以0字节分隔，避免拼接产生歧义
func HashKey(prefix string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return prefix + ":" + hex.EncodeToString(h.Sum(nil))
}
