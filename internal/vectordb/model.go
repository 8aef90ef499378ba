package vectordb

import (
	"errors"
	"fmt"

	"github.com/fyerfyer/contract-auditor/internal/models"
	"gorm.io/gorm"
)

var (
	ErrRecordNotFound    = errors.New("record not found")
	ErrDocumentNotFound  = errors.New("document not indexed")
	ErrEmptyVector       = errors.New("vector cannot be empty")
	ErrInvalidDocumentID = errors.New("invalid document id")
	ErrInvalidDimension  = errors.New("invalid vector dimension")
	ErrMixedDocuments    = errors.New("records belong to different documents")
)

// Record 向量记录
// 一个分块及其向量，以 (DocumentID, ChunkIndex) 为唯一键
type Record struct {
	DocumentID string       `json:"document_id"`
	ChunkIndex int          `json:"chunk_index"`
	Chunk      models.Chunk `json:"chunk"`
	Vector     []float32    `json:"vector"`
}

// Key 返回记录的唯一键
func (r Record) Key() string {
	return models.ChunkKey(r.DocumentID, r.ChunkIndex)
}

// NewRecord 由分块和向量构造记录
func NewRecord(chunk models.Chunk, vector []float32) Record {
	return Record{
		DocumentID: chunk.DocumentID,
		ChunkIndex: chunk.ChunkIndex,
		Chunk:      chunk,
		Vector:     vector,
	}
}

// SearchResult 搜索结果
type SearchResult struct {
	Record Record  `json:"record"`
	Score  float32 `json:"score"` // 余弦相似度，范围 [-1, 1]
}

// SearchFilter 搜索过滤条件
type SearchFilter struct {
	DocumentIDs []string // 限定文档，为空时搜索全部
	MinScore    float32  // 最小相似度
	MaxResults  int      // 最大返回数量，<=0 时使用默认值
}

// DefaultMaxResults 未指定数量时的默认返回条数
const DefaultMaxResults = 10

// Repository 向量仓库接口
// 以文档为命名空间存储分块向量，同一文档的写操作互斥，不同文档互不影响
type Repository interface {
	// Upsert 增量写入：相同 (document_id, chunk_index) 的记录被替换，其余追加
	Upsert(docID string, records []Record, fingerprint string) error

	// Rebuild 重建文档：旧记录全部失效后新记录才可见
	Rebuild(docID string, records []Record, fingerprint string) error

	// DeleteByDocument 删除文档的全部记录
	DeleteByDocument(docID string) error

	// Search 余弦相似度搜索
	Search(vector []float32, filter SearchFilter) ([]SearchResult, error)

	// Get 获取单条记录
	Get(docID string, chunkIndex int) (Record, error)

	// Count 记录总数
	Count() (int, error)

	// CountByDocument 文档的记录数
	CountByDocument(docID string) (int, error)

	// Fingerprint 返回文档最近一次写入时的指纹，没有记录时返回空串
	Fingerprint(docID string) (string, error)

	// GetDimension 返回向量维度
	GetDimension() int

	// Close 关闭仓库
	Close() error
}

// Config 向量仓库配置
type Config struct {
	Type              string // 仓库类型：memory, sqlite, faiss
	Path              string // 持久化路径
	Dimension         int    // 向量维度
	CreateIfNotExists bool   // 路径不存在时创建
	InMemory          bool   // 仅内存，不落盘

	DB *gorm.DB // sqlite 仓库复用的数据库连接，为空时按 Path 打开
}

// RepositoryFactory 仓库工厂函数类型
type RepositoryFactory func(config Config) (Repository, error)

var repositoryFactories = make(map[string]RepositoryFactory)

// RegisterRepository 注册仓库工厂函数
func RegisterRepository(name string, factory RepositoryFactory) {
	repositoryFactories[name] = factory
}

// NewRepository 根据配置创建仓库实例
func NewRepository(config Config) (Repository, error) {
	if config.Type == "" {
		config.Type = "memory"
	}
	factory, exists := repositoryFactories[config.Type]
	if !exists {
		return nil, fmt.Errorf("unsupported repository type: %s", config.Type)
	}
	return factory(config)
}
