package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyerfyer/contract-auditor/internal/database"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// contractRepo 合同仓储实现
type contractRepo struct {
	db *gorm.DB
}

// NewContractRepository 使用全局数据库连接创建合同仓储
func NewContractRepository() ContractRepository {
	return &contractRepo{db: database.MustDB()}
}

// NewContractRepositoryWithDB 使用指定的数据库连接创建合同仓储
func NewContractRepositoryWithDB(db *gorm.DB) ContractRepository {
	if db == nil {
		db = database.MustDB()
	}
	return &contractRepo{db: db}
}

// WithContext 创建带有上下文的仓储
func (r *contractRepo) WithContext(ctx context.Context) ContractRepository {
	return &contractRepo{db: r.db.WithContext(ctx)}
}

// Save 创建或更新合同记录
func (r *contractRepo) Save(rec *models.ContractRecord) error {
	if rec.ID == "" {
		return errors.New("contract ID cannot be empty")
	}
	if rec.Status == "" {
		rec.Status = models.ContractUploaded
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "file_name", "storage_path", "pages", "chunks",
			"fingerprint", "status", "error", "updated_at",
		}),
	}).Create(rec).Error
}

// GetByID 根据ID获取合同
func (r *contractRepo) GetByID(id string) (*models.ContractRecord, error) {
	var rec models.ContractRecord
	if err := r.db.Where("id = ?", id).First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrContractNotFound, id)
		}
		return nil, err
	}
	return &rec, nil
}

// List 列出合同
func (r *contractRepo) List(offset, limit int, filters map[string]interface{}) ([]*models.ContractRecord, int64, error) {
	var recs []*models.ContractRecord
	var total int64

	query := r.db.Model(&models.ContractRecord{})
	if status, ok := filters["status"]; ok {
		if s := fmt.Sprintf("%v", status); s != "" {
			query = query.Where("status = ?", s)
		}
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 {
		limit = 20
	}
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&recs).Error; err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// UpdateStatus 更新合同状态
func (r *contractRepo) UpdateStatus(id string, status models.ContractStatus, errorMsg string) error {
	result := r.db.Model(&models.ContractRecord{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status": status,
		"error":  errorMsg,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", models.ErrContractNotFound, id)
	}
	return nil
}

// Delete 删除合同及其报告
func (r *contractRepo) Delete(id string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("contract_id = ?", id).Delete(&models.AnalysisRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("contract_id = ?", id).Delete(&models.QARecord{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&models.ContractRecord{}).Error
	})
}

// SaveReport 保存分析报告
func (r *contractRepo) SaveReport(report *models.Report) error {
	if report == nil || report.DocumentID == "" {
		return errors.New("report must reference a contract")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %v", err)
	}
	rec := &models.AnalysisRecord{
		ContractID: report.DocumentID,
		Report:     datatypes.JSON(data),
		Total:      report.Summary.Total,
		Found:      report.Summary.Found,
		Errors:     report.Summary.Errors,
		HighRisk:   report.Summary.RiskHistogram[models.RiskHigh],
		AnalyzedAt: report.AnalyzedAt,
	}
	return r.db.Create(rec).Error
}

// LatestReport 获取最近一次分析报告
func (r *contractRepo) LatestReport(contractID string) (*models.Report, error) {
	var rec models.AnalysisRecord
	err := r.db.Where("contract_id = ?", contractID).Order("analyzed_at DESC").Order("id DESC").First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", models.ErrAnalysisNotFound, contractID)
		}
		return nil, err
	}
	var report models.Report
	if err := json.Unmarshal(rec.Report, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %v", err)
	}
	return &report, nil
}
