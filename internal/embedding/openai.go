package embedding

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// 限流重试的基础等待时间
var retryBackoff = time.Second

// OpenAIClient OpenAI兼容接口的嵌入客户端
type OpenAIClient struct {
	client *openai.Client // OpenAI API客户端
	cfg    *Config        // 客户端配置
}

// NewOpenAIClient 创建一个新的OpenAI嵌入客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.APIKey == "" {
		return nil, NewEmbeddingError(ErrCodeInvalidAPIKey, "OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}, nil
}

// Name 返回模型名称
func (c *OpenAIClient) Name() string {
	return c.cfg.Model
}

// Embed 对单个文本生成嵌入向量
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 对多个文本生成嵌入向量，超过BatchSize时分多次请求
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	for _, text := range texts {
		if text == "" {
			return nil, ErrEmptyText
		}
	}

	out := make([][]float32, 0, len(texts))
	for _, batch := range splitIntoBatches(texts, c.cfg.BatchSize) {
		vectors, err := c.embedWithRetry(ctx, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

// embedWithRetry 发送一次嵌入请求，被限流时按指数退避重试
func (c *OpenAIClient) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(c.cfg.Model),
	}
	if c.cfg.Dimensions > 0 && strings.HasPrefix(c.cfg.Model, "text-embedding-3") {
		req.Dimensions = c.cfg.Dimensions
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.client.CreateEmbeddings(ctx, req)
		if err == nil {
			if len(resp.Data) != len(texts) {
				return nil, ErrEmptyResponse
			}
			vectors := make([][]float32, len(texts))
			for i, d := range resp.Data {
				idx := d.Index
				if idx < 0 || idx >= len(texts) {
					idx = i
				}
				vectors[idx] = d.Embedding
			}
			return vectors, nil
		}

		embErr := classifyOpenAIError(err)
		if embErr.Code != ErrCodeRateLimited || attempt >= c.cfg.MaxRetries {
			return nil, embErr
		}

		wait := retryBackoff * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return nil, classifyTransportError(ctx.Err())
		case <-time.After(wait):
		}
	}
}

// classifyOpenAIError 将go-openai返回的错误转换为嵌入错误
func classifyOpenAIError(err error) EmbeddingError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewEmbeddingError(codeFromStatus(apiErr.HTTPStatusCode), apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewEmbeddingError(codeFromStatus(reqErr.HTTPStatusCode), reqErr.Error())
	}
	return classifyTransportError(err)
}

// 在包初始化时注册OpenAI客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
