package models

import (
	"errors"
	"fmt"
)

var (
	// ErrContractNotFound 合同不存在错误
	ErrContractNotFound = errors.New("contract not found")

	// ErrAnalysisNotFound 分析结果不存在错误
	ErrAnalysisNotFound = errors.New("analysis not found")
)

// ErrorKind 流水线错误类别
type ErrorKind string

const (
	// IngestionError 文档无法读取或为空，整个运行失败
	IngestionError ErrorKind = "ingestion_error"
	// IndexError 向量存储读写失败
	IndexError ErrorKind = "index_error"
	// GroundingFailure 模型输出无法解析或引用无法验证，该条款降级为未找到
	GroundingFailure ErrorKind = "grounding_failure"
	// ProviderUnavailable 嵌入或生成服务不可用，整个运行失败
	ProviderUnavailable ErrorKind = "provider_unavailable"
)

// 各类别的哨兵错误，配合errors.Is使用
var (
	ErrIngestion           = &PipelineError{Kind: IngestionError}
	ErrIndex               = &PipelineError{Kind: IndexError}
	ErrGrounding           = &PipelineError{Kind: GroundingFailure}
	ErrProviderUnavailable = &PipelineError{Kind: ProviderUnavailable}
)

// PipelineError 流水线错误
type PipelineError struct {
	Kind ErrorKind // 错误类别
	Op   string    // 出错的操作
	Err  error     // 原始错误
}

// Error 实现error接口
func (e *PipelineError) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return string(e.Kind)
	}
}

// Unwrap 返回原始错误
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Is 同类别的错误视为相等
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewPipelineError 创建流水线错误
func NewPipelineError(kind ErrorKind, op string, err error) *PipelineError {
	return &PipelineError{Kind: kind, Op: op, Err: err}
}

// KindOf 返回错误链中第一个流水线错误的类别，没有则返回空串
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsFatal 判断错误是否应该中止整个运行
func IsFatal(err error) bool {
	switch KindOf(err) {
	case IngestionError, ProviderUnavailable:
		return true
	}
	return false
}
