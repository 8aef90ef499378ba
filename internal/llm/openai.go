package llm

import (
	"context"
	"errors"
	"math"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// 限流重试的基础等待时间
var retryBackoff = time.Second

// OpenAIClient OpenAI兼容接口的对话模型客户端
type OpenAIClient struct {
	client *openai.Client
	cfg    *Config
}

// NewOpenAIClient 创建OpenAI对话模型客户端
func NewOpenAIClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.APIKey == "" {
		return nil, NewLLMError(ErrCodeInvalidAPIKey, "OpenAI API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
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

// Generate 以单条用户消息生成回答
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, options ...GenerateOption) (*Response, error) {
	if prompt == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)
	}
	maxTokens, temperature, topP := generateParams(c.cfg, options)
	return c.complete(ctx, []Message{{Role: RoleUser, Content: prompt}}, maxTokens, temperature, topP)
}

// Chat 进行多轮对话
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, options ...ChatOption) (*Response, error) {
	if len(messages) == 0 {
		return nil, NewLLMError(ErrCodeEmptyPrompt, "messages cannot be empty")
	}
	maxTokens, temperature, topP := generateParams(c.cfg, options)
	return c.complete(ctx, messages, maxTokens, temperature, topP)
}

func (c *OpenAIClient) complete(ctx context.Context, messages []Message, maxTokens int, temperature, topP float32) (*Response, error) {
	req := openai.ChatCompletionRequest{
		Model:     c.cfg.Model,
		Messages:  make([]openai.ChatCompletionMessage, len(messages)),
		MaxTokens: maxTokens,
		TopP:      topP,
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content, Name: m.Name}
	}
	// 零值会被序列化时省略，用最小正数表示确定性采样
	req.Temperature = temperature
	if temperature == 0 {
		req.Temperature = math.SmallestNonzeroFloat32
	}

	for attempt := 0; ; attempt++ {
		resp, err := c.client.CreateChatCompletion(ctx, req)
		if err == nil {
			if len(resp.Choices) == 0 {
				return nil, NewLLMError(ErrCodeEmptyResponse, ErrMsgEmptyResponse)
			}
			choice := resp.Choices[0]
			if choice.FinishReason == openai.FinishReasonContentFilter {
				return nil, NewLLMError(ErrCodeContentFilter, ErrMsgContentFilter)
			}
			return &Response{
				Text:       choice.Message.Content,
				Messages:   append(messages, Message{Role: RoleAssistant, Content: choice.Message.Content}),
				TokenCount: resp.Usage.TotalTokens,
				ModelName:  resp.Model,
				FinishTime: time.Now(),
			}, nil
		}

		llmErr := classifyOpenAIError(err)
		if llmErr.Code != ErrCodeRateLimited || attempt >= c.cfg.MaxRetries {
			return nil, llmErr
		}
		wait := retryBackoff * time.Duration(1<<attempt)
		select {
		case <-ctx.Done():
			return nil, classifyTransportError(ctx.Err())
		case <-time.After(wait):
		}
	}
}

// classifyOpenAIError 将go-openai返回的错误转换为大模型错误
func classifyOpenAIError(err error) LLMError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == "context_length_exceeded" {
			return NewLLMError(ErrCodeContextTooLong, apiErr.Message)
		}
		return NewLLMError(codeFromStatus(apiErr.HTTPStatusCode), apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return NewLLMError(codeFromStatus(reqErr.HTTPStatusCode), reqErr.Error())
	}
	return classifyTransportError(err)
}

// 在包初始化时注册OpenAI客户端
func init() {
	RegisterClient("openai", NewOpenAIClient)
}
