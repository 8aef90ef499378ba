package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/fyerfyer/contract-auditor/api/model"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	RequestsPerSecond float64 // 每个客户端的持续速率
	Burst             int     // 突发请求数
}

// clientLimiter 单个客户端的令牌桶
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter 按客户端IP限流
type RateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

// NewRateLimiter 创建按客户端限流器
// 速率不大于0时不限流
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

// Allow 判断客户端本次请求是否放行
func (r *RateLimiter) Allow(client string) bool {
	if r.limit <= 0 {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cl, ok := r.clients[client]
	if !ok {
		cl = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[client] = cl
	}
	cl.lastSeen = now
	r.evict(now)
	return cl.limiter.AllowN(now, 1)
}

// evict 清理长时间不活跃的客户端，调用方需持有锁
func (r *RateLimiter) evict(now time.Time) {
	for key, cl := range r.clients {
		if now.Sub(cl.lastSeen) > r.idle {
			delete(r.clients, key)
		}
	}
}

// Middleware 返回限流中间件
func (r *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP()) {
			resp := model.NewErrorResponse(http.StatusTooManyRequests, "Too many requests")
			resp.TraceID = c.GetString(TraceIDKey)
			c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
			return
		}
		c.Next()
	}
}
