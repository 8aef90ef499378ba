package embedding

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fyerfyer/contract-auditor/internal/cache"
	"github.com/fyerfyer/contract-auditor/internal/metrics"
	"github.com/sirupsen/logrus"
)

// CachedClient 带缓存的嵌入客户端
// 以模型名和文本内容为键，相同文本直接复用已计算的向量
type CachedClient struct {
	inner  Client
	cache  cache.Cache
	ttl    time.Duration
	logger *logrus.Logger
}

// CachedOption 缓存客户端选项
type CachedOption func(*CachedClient)

// WithCacheLogger 设置缓存写入失败时使用的日志记录器
func WithCacheLogger(logger *logrus.Logger) CachedOption {
	return func(c *CachedClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCachedClient 包装一个嵌入客户端
func NewCachedClient(inner Client, c cache.Cache, ttl time.Duration, opts ...CachedOption) *CachedClient {
	cc := &CachedClient{inner: inner, cache: c, ttl: ttl, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(cc)
	}
	return cc
}

// Name 返回被包装客户端的模型名称
func (c *CachedClient) Name() string {
	return c.inner.Name()
}

func (c *CachedClient) key(text string) string {
	return cache.HashKey("emb", c.inner.Name(), text)
}

// lookup 读取缓存，缓存错误按未命中处理
func (c *CachedClient) lookup(text string) (vec []float32, hit bool) {
	defer func() { metrics.RecordCacheLookup("embedding", hit) }()

	raw, found, err := c.cache.Get(c.key(text))
	if err != nil || !found {
		return nil, false
	}
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, false
	}
	return vec, true
}

func (c *CachedClient) store(text string, vec []float32) {
	data, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.cache.Set(c.key(text), string(data), c.ttl); err != nil {
		c.logger.WithError(err).WithField("model", c.inner.Name()).Warn("Failed to cache embedding")
	}
}

// Embed 生成单条文本的向量
func (c *CachedClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lookup(text); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.store(text, vec)
	return vec, nil
}

// EmbedBatch 批量生成向量，只对未命中的文本请求底层客户端
func (c *CachedClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missTexts []string
		missIdx   []int
	)
	for i, text := range texts {
		if vec, ok := c.lookup(text); ok {
			out[i] = vec
			continue
		}
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missTexts) {
		return nil, ErrEmptyResponse
	}
	for j, vec := range vectors {
		out[missIdx[j]] = vec
		c.store(missTexts[j], vec)
	}
	return out, nil
}
