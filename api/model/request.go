package model

import (
	"mime/multipart"
)

// UploadRequest 合同上传请求
type UploadRequest struct {
	File *multipart.FileHeader `form:"file" binding:"required"` // 合同文件
}

// AnalyzeQuery 合同分析查询参数
type AnalyzeQuery struct {
	Rebuild bool   `form:"rebuild,default=true"`                      // 强制重建索引
	Redline bool   `form:"redline"`                                   // 高风险条款生成修订建议
	Async   bool   `form:"async"`                                     // 通过任务队列异步分析
	Format  string `form:"format" binding:"omitempty,oneof=json pdf"` // 报告返回格式，默认json
}

// ReportQuery 报告查询参数
type ReportQuery struct {
	Format  string `form:"format" binding:"omitempty,oneof=json pdf"` // 返回格式，默认json
	Redline bool   `form:"redline"`                                   // PDF中包含修订建议
}

// ContractURI 合同路径参数
type ContractURI struct {
	ID string `uri:"id" binding:"required,max=64"` // 合同ID
}

// QARequest 问答请求
type QARequest struct {
	ContractID string `json:"contract_id" binding:"omitempty,max=64"` // 合同ID，为空时使用最近分析的合同
	Question   string `json:"question" binding:"required,max=2000"`   // 问题内容
}

// TaskURI 任务路径参数
type TaskURI struct {
	ID string `uri:"id" binding:"required"` // 任务ID
}
