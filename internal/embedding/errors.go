package embedding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// EmbeddingError 嵌入错误类型
type EmbeddingError struct {
	Code    int    // 错误码
	Message string // 错误消息
}

// Error 实现error接口
func (e EmbeddingError) Error() string {
	return fmt.Sprintf("embedding error (code=%d): %s", e.Code, e.Message)
}

// Unavailable 判断错误是否表示服务不可用
// 网络错误、超时、服务端错误和限流耗尽都视为不可用
func (e EmbeddingError) Unavailable() bool {
	switch e.Code {
	case ErrCodeNetworkError, ErrCodeServerError, ErrCodeTimeout, ErrCodeRateLimited:
		return true
	}
	return false
}

// 错误码常量
const (
	ErrCodeInvalidAPIKey  = 1001 // 无效的API密钥
	ErrCodeInvalidRequest = 1002 // 无效的请求
	ErrCodeNetworkError   = 1003 // 网络连接错误
	ErrCodeRateLimited    = 1004 // 请求频率超限
	ErrCodeServerError    = 1005 // 服务器错误
	ErrCodeTimeout        = 1006 // 请求超时
	ErrCodeEmptyInput     = 1007 // 输入为空
)

// 错误消息常量
const (
	ErrMsgInvalidAPIKey  = "invalid API key"
	ErrMsgInvalidRequest = "invalid request parameters"
	ErrMsgRateLimited    = "too many requests, rate limit exceeded"
	ErrMsgServerError    = "server error occurred"
	ErrMsgTimeout        = "request timed out"
	ErrMsgEmptyInput     = "input text cannot be empty"
	ErrMsgNetworkError   = "network connection error"
)

var (
	// ErrEmptyText 输入文本为空
	ErrEmptyText = NewEmbeddingError(ErrCodeEmptyInput, ErrMsgEmptyInput)
	// ErrRateLimited 重试后仍被限流
	ErrRateLimited = NewEmbeddingError(ErrCodeRateLimited, ErrMsgRateLimited)
	// ErrEmptyResponse 服务返回的向量数量与输入不符
	ErrEmptyResponse = NewEmbeddingError(ErrCodeServerError, "embedding response does not match input size")
)

// NewEmbeddingError 创建新的嵌入错误
func NewEmbeddingError(code int, message string) EmbeddingError {
	return EmbeddingError{
		Code:    code,
		Message: message,
	}
}

// IsUnavailable 判断错误链中是否有表示服务不可用的嵌入错误
func IsUnavailable(err error) bool {
	var e EmbeddingError
	if errors.As(err, &e) {
		return e.Unavailable()
	}
	return false
}

// codeFromStatus 根据HTTP状态码确定错误码
func codeFromStatus(status int) int {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrCodeInvalidAPIKey
	case status == http.StatusTooManyRequests:
		return ErrCodeRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return ErrCodeTimeout
	case status >= 500:
		return ErrCodeServerError
	default:
		return ErrCodeInvalidRequest
	}
}

// classifyTransportError 将传输层错误归类为嵌入错误
func classifyTransportError(err error) EmbeddingError {
	var e EmbeddingError
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewEmbeddingError(ErrCodeTimeout, err.Error())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return NewEmbeddingError(ErrCodeTimeout, err.Error())
		}
		return NewEmbeddingError(ErrCodeNetworkError, err.Error())
	}
	return NewEmbeddingError(ErrCodeNetworkError, err.Error())
}
