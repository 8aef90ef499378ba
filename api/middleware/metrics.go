package middleware

import (
	"time"

	"github.com/fyerfyer/contract-auditor/internal/metrics"
	"github.com/gin-gonic/gin"
)

// Metrics 请求指标中间件
// 使用路由模板作为标签，未匹配的路由记为 unmatched
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTP(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}
