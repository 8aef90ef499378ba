package model

import (
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/fyerfyer/contract-auditor/internal/services"
	"github.com/fyerfyer/contract-auditor/pkg/taskqueue"
)

// Response 通用响应结构
type Response struct {
	Code    int         `json:"code"`               // 响应状态码，0表示成功
	Message string      `json:"message"`            // 响应消息
	Data    interface{} `json:"data,omitempty"`     // 响应数据，可能为空
	TraceID string      `json:"trace_id,omitempty"` // 调用链追踪ID
}

// NewSuccessResponse 创建成功响应
func NewSuccessResponse(data interface{}) *Response {
	return &Response{
		Code:    0,
		Message: "success",
		Data:    data,
	}
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code int, message string) *Response {
	return &Response{
		Code:    code,
		Message: message,
	}
}

// AnalyzeResponse 合同分析响应
// 同步模式返回报告，异步模式返回任务ID
type AnalyzeResponse struct {
	ContractID string              `json:"contract_id"`      // 合同ID，由内容计算
	FileName   string              `json:"filename"`         // 上传的文件名
	StorageKey string              `json:"storage_key"`      // 合同文件在存储中的键
	Report     *models.Report      `json:"report,omitempty"` // 分析报告
	Task       *taskqueue.TaskInfo `json:"task,omitempty"`   // 异步任务信息
}

// ReportResponse 报告生成响应
type ReportResponse struct {
	ContractID string         `json:"contract_id"`       // 合同ID
	FileName   string         `json:"filename"`          // 上传的文件名
	Report     *models.Report `json:"report"`            // 分析报告
	ReportPDF  []byte         `json:"report_pdf_base64"` // PDF报告，JSON中以base64编码
}

// QAResponse 问答响应
type QAResponse struct {
	*services.Answer
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status   string `json:"status"`
	LLM      string `json:"llm,omitempty"`
	Embedder string `json:"embedder,omitempty"`
	Queue    bool   `json:"queue"`
}
