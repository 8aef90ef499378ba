package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fyerfyer/contract-auditor/internal/document"
	"github.com/fyerfyer/contract-auditor/internal/models"
)

// NotFoundAnswer 上下文为空时的固定回答
const NotFoundAnswer = "I don't know. I could not find relevant information in the contract to answer this query."

// DefaultQATemplate 默认合同问答提示词模板
// 包含变量：
// {{.Question}} - 用户问题
// {{.Context}} - 检索的上下文
const DefaultQATemplate = `You are a legal contract analysis AI assistant. Answer the question based ONLY on the provided context from the contract.

Context from contract:
{{.Context}}

Question: {{.Question}}

Instructions:
1. If the context contains the answer, provide a clear and precise response
2. If the context does NOT contain enough information to answer, respond with: "I don't know. The provided contract sections do not contain sufficient information to answer this question."
3. Cite specific sections or page numbers when possible
4. Be concise but thorough

Answer:`

// 回答中出现这些词时置信度降为 medium
var hedgeWords = []string{"may", "possibly", "unclear", "ambiguous"}

// previewLength 引用预览的最大字符数
const previewLength = 200

// SectionOf 返回分块的章节标题，没有时返回 Unknown Section
func SectionOf(c models.Chunk) string {
	if c.SectionHeader == "" {
		return document.UnknownSection
	}
	return c.SectionHeader
}

// SourceLabel 上下文中每个来源的标签
func SourceLabel(i int, c models.Chunk) string {
	first, last := c.PageRange()
	if first != last {
		return fmt.Sprintf("[Source %d - Pages %d-%d, Section: %s]", i, first, last, SectionOf(c))
	}
	return fmt.Sprintf("[Source %d - Page %d, Section: %s]", i, first, SectionOf(c))
}

// FormatContext 格式化上下文内容，来源从1开始编号
func FormatContext(items []models.ScoredChunk) string {
	parts := make([]string, 0, len(items))
	for i, item := range items {
		parts = append(parts, SourceLabel(i+1, item.Chunk)+"\n"+item.Chunk.Text+"\n")
	}
	return strings.Join(parts, "\n")
}

// RAGConfig 检索增强生成配置
type RAGConfig struct {
	// 提示词模板
	Template string
	// 最大Token数
	MaxTokens int
	// 温度参数
	Temperature float32
	// 超时时间
	Timeout time.Duration
}

// DefaultRAGConfig 默认RAG配置
func DefaultRAGConfig() *RAGConfig {
	return &RAGConfig{
		Template:    DefaultQATemplate,
		MaxTokens:   1024,
		Temperature: 0,
		Timeout:     120 * time.Second,
	}
}

// RAGService 合同问答服务
type RAGService struct {
	Client Client       // 大模型客户端
	config *RAGConfig   // 配置
	mu     sync.RWMutex // 配置互斥锁
}

// NewRAG 创建新的检索增强生成服务
func NewRAG(client Client, opts ...RAGOption) *RAGService {
	cfg := DefaultRAGConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	return &RAGService{
		Client: client,
		config: cfg,
	}
}

// RAGOption RAG配置选项函数类型
type RAGOption func(*RAGConfig)

// WithTemplate 设置提示词模板
func WithTemplate(template string) RAGOption {
	return func(c *RAGConfig) {
		c.Template = template
	}
}

// WithRAGMaxTokens 设置最大Token数
func WithRAGMaxTokens(tokens int) RAGOption {
	return func(c *RAGConfig) {
		c.MaxTokens = tokens
	}
}

// WithRAGTemperature 设置温度参数
func WithRAGTemperature(temp float32) RAGOption {
	return func(c *RAGConfig) {
		c.Temperature = temp
	}
}

// WithRAGTimeout 设置请求超时时间
func WithRAGTimeout(timeout time.Duration) RAGOption {
	return func(c *RAGConfig) {
		c.Timeout = timeout
	}
}

// Answer 根据检索到的分块回答问题
// 没有分块时不调用模型，直接返回固定的"不知道"回答
func (r *RAGService) Answer(ctx context.Context, question string, items []models.ScoredChunk) (*RAGResponse, error) {
	if strings.TrimSpace(question) == "" {
		return nil, NewLLMError(ErrCodeEmptyPrompt, "question cannot be empty")
	}
	if len(items) == 0 {
		return &RAGResponse{
			Answer:     NotFoundAnswer,
			Sources:    []SourceReference{},
			Confidence: models.ConfidenceNone,
		}, nil
	}

	r.mu.RLock()
	cfg := *r.config
	r.mu.RUnlock()

	ctxWithTimeout, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	prompt := r.buildPrompt(cfg.Template, question, items)
	response, err := r.Client.Generate(
		ctxWithTimeout,
		prompt,
		WithGenerateMaxTokens(cfg.MaxTokens),
		WithGenerateTemperature(cfg.Temperature),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to generate response: %w", err)
	}

	answer := strings.TrimSpace(response.Text)
	return &RAGResponse{
		Answer:     answer,
		Sources:    buildSources(items),
		Confidence: AnswerConfidence(answer),
	}, nil
}

// buildPrompt 构建增强提示词
func (r *RAGService) buildPrompt(template, question string, items []models.ScoredChunk) string {
	prompt := template
	prompt = strings.ReplaceAll(prompt, "{{.Question}}", question)
	prompt = strings.ReplaceAll(prompt, "{{.Context}}", FormatContext(items))
	return prompt
}

// SetTemplate 设置自定义提示词模板
func (r *RAGService) SetTemplate(template string) *RAGService {
	r.mu.Lock()
	r.config.Template = template
	r.mu.Unlock()
	return r
}

// AnswerConfidence 根据回答措辞判断置信度
func AnswerConfidence(answer string) string {
	if strings.Contains(answer, "I don't know") {
		return models.ConfidenceNone
	}
	words := strings.FieldsFunc(strings.ToLower(answer), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		for _, hedge := range hedgeWords {
			if w == hedge {
				return models.ConfidenceMedium
			}
		}
	}
	return models.ConfidenceHigh
}

func buildSources(items []models.ScoredChunk) []SourceReference {
	sources := make([]SourceReference, len(items))
	for i, item := range items {
		preview := []rune(item.Chunk.Text)
		text := string(preview)
		if len(preview) > previewLength {
			text = string(preview[:previewLength]) + "..."
		}
		sources[i] = SourceReference{
			Page:           item.Chunk.PageNumber,
			Section:        SectionOf(item.Chunk),
			ChunkIndex:     item.Chunk.ChunkIndex,
			ContentPreview: text,
		}
	}
	return sources
}
