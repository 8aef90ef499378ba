package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

const (
	defaultOllamaURL   = "http://localhost:11434"
	defaultOllamaModel = "llama3.1"
)

// OllamaClient 本地Ollama服务的生成模型客户端
type OllamaClient struct {
	client *ollama.Client
	cfg    *Config
}

// NewOllamaClient 创建Ollama生成模型客户端
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
		return nil, NewLLMError(ErrCodeInvalidRequest, fmt.Sprintf("invalid base URL: %v", err))
	}
	return &OllamaClient{
		client: ollama.NewClient(parsedURL, &http.Client{Timeout: cfg.Timeout}),
		cfg:    cfg,
	}, nil
}

// Name 返回模型名称
func (c *OllamaClient) Name() string {
	return c.cfg.Model
}

func ollamaOptions(maxTokens int, temperature, topP float32) map[string]any {
	opts := map[string]any{
		"temperature": temperature,
	}
	if maxTokens > 0 {
		opts["num_predict"] = maxTokens
	}
	if topP > 0 {
		opts["top_p"] = topP
	}
	return opts
}

// Generate 根据提示词生成回答
func (c *OllamaClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	if prompt == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}
	maxTokens, temperature, topP := generateParams(c.cfg, options)
	stream := false
	req := &ollama.GenerateRequest{
		Model:   c.cfg.Model,
		Prompt:  prompt,
		Stream:  &stream,
		Options: ollamaOptions(maxTokens, temperature, topP),
	}

	var (
		text   strings.Builder
		tokens int
	)
	err := c.client.Generate(ctx, req, func(resp ollama.GenerateResponse) error {
		text.WriteString(resp.Response)
		if resp.Done {
			tokens = resp.PromptEvalCount + resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, classifyOllamaError(err)
	}
	return &Response{
		Text:       text.String(),
		TokenCount: tokens,
		ModelName:  c.cfg.Model,
		FinishTime: time.Now(),
	}, nil
}

// Chat 进行多轮对话
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, options ...ChatOption) (*Response, error) {
	if len(messages) == 0 {
		return nil, NewLLMError(ErrCodeEmptyPrompt, "messages cannot be empty")
	}
	maxTokens, temperature, topP := generateParams(c.cfg, options)
	stream := false
	req := &ollama.ChatRequest{
		Model:    c.cfg.Model,
		Messages: make([]ollama.Message, len(messages)),
		Stream:   &stream,
		Options:  ollamaOptions(maxTokens, temperature, topP),
	}
	for i, m := range messages {
		req.Messages[i] = ollama.Message{Role: string(m.Role), Content: m.Content}
	}

	var (
		text   strings.Builder
		tokens int
	)
	err := c.client.Chat(ctx, req, func(resp ollama.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		if resp.Done {
			tokens = resp.PromptEvalCount + resp.EvalCount
		}
		return nil
	})
	if err != nil {
		return nil, classifyOllamaError(err)
	}
	return &Response{
		Text:       text.String(),
		Messages:   append(messages, Message{Role: RoleAssistant, Content: text.String()}),
		TokenCount: tokens,
		ModelName:  c.cfg.Model,
		FinishTime: time.Now(),
	}, nil
}

// classifyOllamaError 将Ollama错误转换为大模型错误
func classifyOllamaError(err error) LLMError {
	var statusErr ollama.StatusError
	if errors.As(err, &statusErr) {
		return NewLLMError(codeFromStatus(statusErr.StatusCode), statusErr.Error())
	}
	return classifyTransportError(err)
}

// 在包初始化时注册Ollama客户端
func init() {
	RegisterClient("ollama", NewOllamaClient)
}
