package llm

import "time"

// MessageRole 消息角色类型
type MessageRole string

const (
	// RoleSystem 系统角色
	RoleSystem MessageRole = "system"
	// RoleUser 用户角色
	RoleUser MessageRole = "user"
	// RoleAssistant 助手角色
	RoleAssistant MessageRole = "assistant"
)

// Message 对话消息结构
type Message struct {
	Role    MessageRole `json:"role"`           // 角色
	Content string      `json:"content"`        // 内容
	Name    string      `json:"name,omitempty"` // 可选名称标识
}

// Response 统一的响应结构
type Response struct {
	Text       string    // 生成的文本
	Messages   []Message // 消息列表（如果是对话）
	TokenCount int       // 使用的token数
	ModelName  string    // 使用的模型名称
	FinishTime time.Time // 完成时间
}

// RAGResponse 合同问答响应结构
type RAGResponse struct {
	Answer     string            `json:"answer"`     // 回答内容
	Sources    []SourceReference `json:"sources"`    // 引用来源
	Confidence string            `json:"confidence"` // high / medium / none
}

// SourceReference 引用来源
type SourceReference struct {
	Page           int    `json:"page"`
	Section        string `json:"section"`
	ChunkIndex     int    `json:"chunk_index"`
	ContentPreview string `json:"content_preview"`
}

// generateParams 合并客户端配置与单次请求选项
func generateParams(cfg *Config, opts []GenerateOption) (maxTokens int, temperature, topP float32) {
	var o RequestOptions
	for _, opt := range opts {
		opt(&o)
	}
	maxTokens, temperature, topP = cfg.MaxTokens, cfg.Temperature, cfg.TopP
	if o.MaxTokens != nil {
		maxTokens = *o.MaxTokens
	}
	if o.Temperature != nil {
		temperature = *o.Temperature
	}
	if o.TopP != nil {
		topP = *o.TopP
	}
	return maxTokens, temperature, topP
}
