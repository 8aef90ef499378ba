package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestMockClientGenerate 测试使用Mock客户端的文本生成
func TestMockClientGenerate(t *testing.T) {
	mockClient := NewMockClient(t)

	expectedResp := &Response{
		Text:       "The agreement is governed by New York law.",
		TokenCount: 12,
		ModelName:  "mock-model",
		FinishTime: time.Now(),
	}
	mockClient.EXPECT().Generate(mock.Anything, "governing law?").Return(expectedResp, nil)

	resp, err := mockClient.Generate(context.Background(), "governing law?")
	require.NoError(t, err)
	assert.Equal(t, expectedResp.Text, resp.Text)
	assert.Equal(t, expectedResp.TokenCount, resp.TokenCount)
}

// TestMockClientErrors 测试Mock客户端返回错误
func TestMockClientErrors(t *testing.T) {
	mockClient := NewMockClient(t)
	mockClient.EXPECT().Generate(mock.Anything, mock.Anything).
		Return(nil, NewLLMError(ErrCodeNetworkError, ErrMsgNetworkError))

	_, err := mockClient.Generate(context.Background(), "prompt")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestErrorClassification(t *testing.T) {
	assert.Equal(t, ErrCodeInvalidAPIKey, codeFromStatus(http.StatusUnauthorized))
	assert.Equal(t, ErrCodeRateLimited, codeFromStatus(http.StatusTooManyRequests))
	assert.Equal(t, ErrCodeModelOverload, codeFromStatus(http.StatusServiceUnavailable))
	assert.Equal(t, ErrCodeServerError, codeFromStatus(http.StatusInternalServerError))
	assert.Equal(t, ErrCodeInvalidRequest, codeFromStatus(http.StatusBadRequest))

	assert.True(t, NewLLMError(ErrCodeTimeout, "").Unavailable())
	assert.False(t, NewLLMError(ErrCodeInvalidAPIKey, "").Unavailable())
	assert.False(t, NewLLMError(ErrCodeContentFilter, "").Unavailable())

	assert.Equal(t, ErrCodeTimeout, classifyTransportError(context.DeadlineExceeded).Code)

	wrapped := WrapError(NewLLMError(ErrCodeTimeout, "slow"), ErrCodeServerError)
	assert.Equal(t, ErrCodeTimeout, wrapped.Code)
}

func TestConfigAndOptions(t *testing.T) {
	cfg := NewConfig(
		WithAPIKey("key"),
		WithModel("gpt-test"),
		WithTimeout(5*time.Second),
		WithMaxTokens(256),
		WithTemperature(0.3),
	)
	assert.Equal(t, "key", cfg.APIKey)
	assert.Equal(t, "gpt-test", cfg.Model)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	maxTokens, temp, topP := generateParams(cfg, nil)
	assert.Equal(t, 256, maxTokens)
	assert.InDelta(t, 0.3, temp, 1e-6)
	assert.InDelta(t, 1.0, topP, 1e-6)

	maxTokens, temp, _ = generateParams(cfg, []GenerateOption{WithGenerateMaxTokens(64), WithGenerateTemperature(0)})
	assert.Equal(t, 64, maxTokens)
	assert.Zero(t, temp)

	_, temp, _ = generateParams(cfg, []ChatOption{WithGenerateTemperature(0.9), WithGenerateTopP(0.5)})
	assert.InDelta(t, 0.9, temp, 1e-6)

	// 默认温度为0
	assert.Zero(t, DefaultConfig().Temperature)
}

func TestClientFactory(t *testing.T) {
	_, err := NewClient("unknown")
	require.Error(t, err)

	_, err = NewClient("openai")
	require.Error(t, err, "missing API key")

	c, err := NewClient("ollama", WithModel("llama3.1"))
	require.NoError(t, err)
	assert.Equal(t, "llama3.1", c.Name())
}

func TestOpenAIClientGenerate(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "{\"found\": false}"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	client, err := NewOpenAIClient(WithAPIKey("test"), WithBaseURL(server.URL), WithModel("gpt-test"))
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), "analyze", WithGenerateTemperature(0))
	require.NoError(t, err)
	assert.Equal(t, `{"found": false}`, resp.Text)
	assert.Equal(t, 15, resp.TokenCount)

	assert.Equal(t, "gpt-test", captured["model"])
	temp, ok := captured["temperature"].(float64)
	require.True(t, ok, "temperature must be sent even when zero")
	assert.Less(t, temp, 1e-6)
	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestOpenAIClientErrors(t *testing.T) {
	t.Run("server error is unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error": {"message": "boom", "type": "server_error"}}`))
		}))
		defer server.Close()

		client, err := NewOpenAIClient(WithAPIKey("test"), WithBaseURL(server.URL), WithMaxRetries(0))
		require.NoError(t, err)
		_, err = client.Generate(context.Background(), "x")
		require.Error(t, err)
		assert.True(t, IsUnavailable(err))
	})

	t.Run("rate limit retried", func(t *testing.T) {
		old := retryBackoff
		retryBackoff = time.Millisecond
		defer func() { retryBackoff = old }()

		calls := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
			w.Header().Set("Content-Type", "application/json")
			if calls == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error": {"message": "slow down", "type": "rate_limit"}}`))
				return
			}
			_, _ = w.Write([]byte(`{"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "ok"}}]}`))
		}))
		defer server.Close()

		client, err := NewOpenAIClient(WithAPIKey("test"), WithBaseURL(server.URL), WithMaxRetries(2))
		require.NoError(t, err)
		resp, err := client.Generate(context.Background(), "x")
		require.NoError(t, err)
		assert.Equal(t, "ok", resp.Text)
		assert.Equal(t, 2, calls)
	})

	t.Run("empty prompt", func(t *testing.T) {
		client, err := NewOpenAIClient(WithAPIKey("test"))
		require.NoError(t, err)
		_, err = client.Generate(context.Background(), "")
		var llmErr LLMError
		require.ErrorAs(t, err, &llmErr)
		assert.Equal(t, ErrCodeEmptyPrompt, llmErr.Code)
	})
}

func TestOllamaClientGenerate(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model": "llama3.1", "response": "SUGGESTED REVISION:\nx", "done": true, "prompt_eval_count": 7, "eval_count": 3}`))
	}))
	defer server.Close()

	client, err := NewOllamaClient(WithBaseURL(server.URL))
	require.NoError(t, err)

	resp, err := client.Generate(context.Background(), "redline", WithGenerateTemperature(0))
	require.NoError(t, err)
	assert.Equal(t, "SUGGESTED REVISION:\nx", resp.Text)
	assert.Equal(t, 10, resp.TokenCount)

	assert.Equal(t, false, captured["stream"])
	opts := captured["options"].(map[string]any)
	assert.Equal(t, float64(0), opts["temperature"])
}

func TestOllamaClientChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model": "llama3.1", "message": {"role": "assistant", "content": "Delaware"}, "done": true}`))
	}))
	defer server.Close()

	client, err := NewOllamaClient(WithBaseURL(server.URL))
	require.NoError(t, err)

	resp, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "answer from the contract"},
		{Role: RoleUser, Content: "which law?"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Delaware", resp.Text)
	require.Len(t, resp.Messages, 3)
	assert.Equal(t, RoleAssistant, resp.Messages[2].Role)
}

func TestOllamaClientUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error": "model is loading"}`))
	}))
	defer server.Close()

	client, err := NewOllamaClient(WithBaseURL(server.URL))
	require.NoError(t, err)
	_, err = client.Generate(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}
