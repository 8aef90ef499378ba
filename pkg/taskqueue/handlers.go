package taskqueue

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// AnalyzeFunc 执行一次合同分析
type AnalyzeFunc func(ctx context.Context, payload AnalyzePayload) (*AnalyzeResult, error)

// AnalyzeHandler 合同分析任务处理器
// 分析本身由调用方注入，处理器只负责解析载荷和记录结果
type AnalyzeHandler struct {
	queue   Queue
	analyze AnalyzeFunc
	logger  *logrus.Logger
}

// NewAnalyzeHandler 创建合同分析任务处理器
func NewAnalyzeHandler(queue Queue, analyze AnalyzeFunc, logger *logrus.Logger) *AnalyzeHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &AnalyzeHandler{
		queue:   queue,
		analyze: analyze,
		logger:  logger,
	}
}

// GetTaskTypes 返回支持的任务类型
func (h *AnalyzeHandler) GetTaskTypes() []TaskType {
	return []TaskType{TaskContractAnalyze}
}

// ProcessTask 处理合同分析任务
// 分析失败但已有部分结果时，结果同样会被保存
func (h *AnalyzeHandler) ProcessTask(ctx context.Context, task *Task) error {
	var payload AnalyzePayload
	if err := UnmarshalPayload(task.Payload, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if payload.ContractID == "" {
		payload.ContractID = task.ContractID
	}
	if payload.ContractID == "" || payload.StorageKey == "" {
		return fmt.Errorf("%w: contract_id and storage_key are required", ErrInvalidPayload)
	}

	logger := h.logger.WithFields(logrus.Fields{
		"task_id":     task.ID,
		"contract_id": payload.ContractID,
	})
	logger.Info("Processing contract analysis task")

	result, err := h.analyze(ctx, payload)
	if result != nil {
		if updateErr := h.queue.UpdateTaskStatus(ctx, task.ID, StatusProcessing, result, ""); updateErr != nil {
			logger.WithError(updateErr).Error("Failed to save task result")
		}
	}
	if err != nil {
		return err
	}
	if result == nil {
		return fmt.Errorf("analysis of %s returned no result", payload.ContractID)
	}

	logger.WithFields(logrus.Fields{
		"found":     result.Found,
		"high_risk": result.HighRisk,
	}).Info("Contract analysis task finished")
	return nil
}
