package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/fyerfyer/contract-auditor/api/model"
	"github.com/gin-gonic/gin"
)

// APIKeyHeader 认证请求头
const APIKeyHeader = "X-API-Key"

// APIKeyAuth API密钥认证中间件
// 服务端未配置密钥时拒绝所有请求并返回500，密钥不匹配返回401
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	expected := []byte(strings.TrimSpace(apiKey))
	return func(c *gin.Context) {
		if len(expected) == 0 {
			log.WithField(FieldPath, c.Request.URL.Path).Error("API key is not configured")
			resp := model.NewErrorResponse(http.StatusInternalServerError, "Server misconfigured: API key not set")
			resp.TraceID = c.GetString(TraceIDKey)
			c.AbortWithStatusJSON(http.StatusInternalServerError, resp)
			return
		}

		got := []byte(strings.TrimSpace(c.GetHeader(APIKeyHeader)))
		if subtle.ConstantTimeCompare(got, expected) != 1 {
			resp := model.NewErrorResponse(http.StatusUnauthorized, "Invalid API key")
			resp.TraceID = c.GetString(TraceIDKey)
			c.AbortWithStatusJSON(http.StatusUnauthorized, resp)
			return
		}
		c.Next()
	}
}
