package repository

import (
	"context"
	"errors"

	"github.com/fyerfyer/contract-auditor/internal/database"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"gorm.io/gorm"
)

// qaRepo 问答记录仓储实现
type qaRepo struct {
	db *gorm.DB
}

// NewQARepository 使用全局数据库连接创建问答仓储
func NewQARepository() QARepository {
	return &qaRepo{db: database.MustDB()}
}

// NewQARepositoryWithDB 使用指定的数据库连接创建问答仓储
func NewQARepositoryWithDB(db *gorm.DB) QARepository {
	if db == nil {
		db = database.MustDB()
	}
	return &qaRepo{db: db}
}

// WithContext 创建带有上下文的仓储
func (r *qaRepo) WithContext(ctx context.Context) QARepository {
	return &qaRepo{db: r.db.WithContext(ctx)}
}

// Create 保存问答记录
func (r *qaRepo) Create(rec *models.QARecord) error {
	if rec.ContractID == "" {
		return errors.New("contract ID cannot be empty")
	}
	if rec.Question == "" {
		return errors.New("question cannot be empty")
	}
	return r.db.Create(rec).Error
}

// History 获取最近的问答记录
func (r *qaRepo) History(contractID string, limit int) ([]*models.QARecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []*models.QARecord
	err := r.db.Where("contract_id = ?", contractID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// Count 统计问答数量
func (r *qaRepo) Count(contractID string) (int64, error) {
	var n int64
	err := r.db.Model(&models.QARecord{}).Where("contract_id = ?", contractID).Count(&n).Error
	return n, err
}
