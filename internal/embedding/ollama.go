package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	ollama "github.com/ollama/ollama/api"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "nomic-embed-text"
)

// OllamaClient 本地Ollama服务的嵌入客户端
type OllamaClient struct {
	client *ollama.Client
	cfg    *Config
}

// NewOllamaClient 创建Ollama嵌入客户端
func NewOllamaClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOllamaModel
	}

	parsedURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, fmt.Sprintf("invalid base URL: %v", err))
	}

	hc := &http.Client{Timeout: cfg.Timeout}
	return &OllamaClient{
		client: ollama.NewClient(parsedURL, hc),
		cfg:    cfg,
	}, nil
}

// Name 返回模型名称
func (c *OllamaClient) Name() string {
	return c.cfg.Model
}

// Embed 为单个文本生成嵌入向量
func (c *OllamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch 为一批文本生成嵌入向量
func (c *OllamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	out := make([][]float32, 0, len(texts))
	for _, batch := range splitIntoBatches(texts, c.cfg.BatchSize) {
		resp, err := c.client.Embed(ctx, &ollama.EmbedRequest{
			Model: c.cfg.Model,
			Input: batch,
		})
		if err != nil {
			return nil, classifyOllamaError(err)
		}
		if len(resp.Embeddings) != len(batch) {
			return nil, ErrEmptyResponse
		}
		out = append(out, resp.Embeddings...)
	}
	return out, nil
}

// classifyOllamaError 将Ollama错误转换为嵌入错误
func classifyOllamaError(err error) EmbeddingError {
	var statusErr ollama.StatusError
	if errors.As(err, &statusErr) {
		return NewEmbeddingError(codeFromStatus(statusErr.StatusCode), statusErr.Error())
	}
	return classifyTransportError(err)
}

// 在包初始化时注册Ollama客户端
func init() {
	RegisterClient("ollama", NewOllamaClient)
}
