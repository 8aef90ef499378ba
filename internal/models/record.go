package models

import (
	"time"

	"gorm.io/datatypes"
)

// ContractStatus 合同处理状态
type ContractStatus string

const (
	ContractUploaded  ContractStatus = "uploaded"  // 已上传
	ContractIndexing  ContractStatus = "indexing"  // 索引中
	ContractAnalyzing ContractStatus = "analyzing" // 分析中
	ContractCompleted ContractStatus = "completed" // 分析完成
	ContractFailed    ContractStatus = "failed"    // 处理失败
)

// ContractRecord 合同元数据记录
type ContractRecord struct {
	ID          string         `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name        string         `gorm:"type:varchar(255)" json:"name"`
	FileName    string         `gorm:"type:varchar(255)" json:"file_name"`
	StoragePath string         `gorm:"type:varchar(512)" json:"storage_path,omitempty"`
	Pages       int            `json:"pages"`
	Chunks      int            `json:"chunks"`
	Fingerprint string         `gorm:"type:varchar(64)" json:"fingerprint,omitempty"`
	Status      ContractStatus `gorm:"type:varchar(20);index" json:"status"`
	Error       string         `gorm:"type:text" json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName 表名
func (ContractRecord) TableName() string {
	return "contracts"
}

// AnalysisRecord 分析报告记录
// 报告整体以JSON保存，汇总字段单独成列便于查询
type AnalysisRecord struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	ContractID string         `gorm:"type:varchar(64);index" json:"contract_id"`
	Report     datatypes.JSON `json:"report"`
	Total      int            `json:"total"`
	Found      int            `json:"found"`
	Errors     int            `json:"errors"`
	HighRisk   int            `json:"high_risk"`
	AnalyzedAt time.Time      `gorm:"index" json:"analyzed_at"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TableName 表名
func (AnalysisRecord) TableName() string {
	return "analysis_reports"
}

// QARecord 合同问答记录
type QARecord struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	ContractID string         `gorm:"type:varchar(64);index" json:"contract_id"`
	Question   string         `gorm:"type:text" json:"question"`
	Answer     string         `gorm:"type:text" json:"answer"`
	Confidence string         `gorm:"type:varchar(16)" json:"confidence"`
	Sources    datatypes.JSON `json:"sources"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
}

// TableName 表名
func (QARecord) TableName() string {
	return "qa_records"
}
