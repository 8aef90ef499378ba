package repository

import (
	"context"

	"github.com/fyerfyer/contract-auditor/internal/models"
)

// ContractRepository 合同仓储接口
// 负责合同元数据和分析报告的存储和检索
type ContractRepository interface {
	// Save 创建或更新合同记录
	Save(rec *models.ContractRecord) error

	// GetByID 根据ID获取合同
	GetByID(id string) (*models.ContractRecord, error)

	// List 列出合同，支持分页和按状态筛选
	List(offset, limit int, filters map[string]interface{}) ([]*models.ContractRecord, int64, error)

	// UpdateStatus 更新合同状态
	UpdateStatus(id string, status models.ContractStatus, errorMsg string) error

	// Delete 删除合同及其报告
	Delete(id string) error

	// SaveReport 保存分析报告
	SaveReport(report *models.Report) error

	// LatestReport 获取合同最近一次的分析报告
	LatestReport(contractID string) (*models.Report, error)

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) ContractRepository
}

// QARepository 问答记录仓储接口
type QARepository interface {
	// Create 保存一条问答记录
	Create(rec *models.QARecord) error

	// History 获取合同最近的问答记录，按时间倒序
	History(contractID string, limit int) ([]*models.QARecord, error)

	// Count 统计合同的问答数量
	Count(contractID string) (int64, error)

	// WithContext 创建带有上下文的仓储
	WithContext(ctx context.Context) QARepository
}
