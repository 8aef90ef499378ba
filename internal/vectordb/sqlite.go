package vectordb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyerfyer/contract-auditor/internal/models"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// chunkVector 分块向量表
type chunkVector struct {
	ID         uint           `gorm:"primaryKey;autoIncrement"`
	DocumentID string         `gorm:"size:64;not null;uniqueIndex:idx_chunk_vectors_key"`
	ChunkIndex int            `gorm:"not null;uniqueIndex:idx_chunk_vectors_key"`
	Chunk      datatypes.JSON `gorm:"type:json"`
	Vector     datatypes.JSON `gorm:"type:json"`
	CreatedAt  time.Time
}

// TableName 明确指定表名
func (chunkVector) TableName() string {
	return "chunk_vectors"
}

// indexFingerprint 文档索引指纹表
type indexFingerprint struct {
	DocumentID  string `gorm:"primaryKey;size:64"`
	Fingerprint string `gorm:"size:64"`
	UpdatedAt   time.Time
}

// TableName 明确指定表名
func (indexFingerprint) TableName() string {
	return "index_fingerprints"
}

// SQLiteRepository 基于GORM和SQLite的向量仓库
// 向量以JSON存储，搜索时在进程内计算相似度
type SQLiteRepository struct {
	db        *gorm.DB
	locks     *DocumentLocks
	dimension int
	ownsDB    bool // 连接由仓库自己打开时在Close中关闭
}

// NewSQLiteRepository 创建SQLite向量仓库
func NewSQLiteRepository(config Config) (Repository, error) {
	if config.Dimension <= 0 {
		return nil, fmt.Errorf("vector dimension must be positive")
	}

	db := config.DB
	owns := false
	if db == nil {
		dsn := config.Path
		if config.InMemory || dsn == "" {
			dsn = "file::memory:"
		} else if config.CreateIfNotExists {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %v", err)
			}
		}
		var err error
		db, err = gorm.Open(sqlite.Open(dsn), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %v", err)
		}
		// 内存数据库每个连接都是独立实例，只保留一个连接
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database connection: %v", err)
		}
		sqlDB.SetMaxOpenConns(1)
		owns = true
	}

	if err := db.AutoMigrate(&chunkVector{}, &indexFingerprint{}); err != nil {
		return nil, fmt.Errorf("failed to migrate vector tables: %v", err)
	}

	return &SQLiteRepository{
		db:        db,
		locks:     NewDocumentLocks(),
		dimension: config.Dimension,
		ownsDB:    owns,
	}, nil
}

func toRow(rec Record) (chunkVector, error) {
	chunk, err := json.Marshal(rec.Chunk)
	if err != nil {
		return chunkVector{}, fmt.Errorf("failed to marshal chunk %s: %v", rec.Key(), err)
	}
	vector, err := json.Marshal(rec.Vector)
	if err != nil {
		return chunkVector{}, fmt.Errorf("failed to marshal vector %s: %v", rec.Key(), err)
	}
	return chunkVector{
		DocumentID: rec.DocumentID,
		ChunkIndex: rec.ChunkIndex,
		Chunk:      datatypes.JSON(chunk),
		Vector:     datatypes.JSON(vector),
	}, nil
}

func fromRow(row chunkVector) (Record, error) {
	var rec Record
	rec.DocumentID = row.DocumentID
	rec.ChunkIndex = row.ChunkIndex
	var chunk models.Chunk
	if err := json.Unmarshal(row.Chunk, &chunk); err != nil {
		return rec, fmt.Errorf("failed to decode chunk %s: %v", models.ChunkKey(row.DocumentID, row.ChunkIndex), err)
	}
	if err := json.Unmarshal(row.Vector, &rec.Vector); err != nil {
		return rec, fmt.Errorf("failed to decode vector %s: %v", models.ChunkKey(row.DocumentID, row.ChunkIndex), err)
	}
	rec.Chunk = chunk
	return rec, nil
}

func toRows(records []Record) ([]chunkVector, error) {
	rows := make([]chunkVector, 0, len(records))
	for _, rec := range records {
		row, err := toRow(rec)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func saveFingerprint(tx *gorm.DB, docID, fingerprint string) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"fingerprint", "updated_at"}),
	}).Create(&indexFingerprint{DocumentID: docID, Fingerprint: fingerprint}).Error
}

// Upsert 增量写入文档记录
func (r *SQLiteRepository) Upsert(docID string, records []Record, fingerprint string) error {
	prepared, err := PrepareRecords(docID, records, r.dimension)
	if err != nil {
		return err
	}
	rows, err := toRows(prepared)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(docID)
	defer unlock()

	return r.db.Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "document_id"}, {Name: "chunk_index"}},
				DoUpdates: clause.AssignmentColumns([]string{"chunk", "vector"}),
			}).CreateInBatches(rows, 100).Error
			if err != nil {
				return fmt.Errorf("failed to upsert vectors: %v", err)
			}
		}
		return saveFingerprint(tx, docID, fingerprint)
	})
}

// Rebuild 在一个事务中删除旧记录并写入新记录
func (r *SQLiteRepository) Rebuild(docID string, records []Record, fingerprint string) error {
	prepared, err := PrepareRecords(docID, records, r.dimension)
	if err != nil {
		return err
	}
	rows, err := toRows(prepared)
	if err != nil {
		return err
	}

	unlock := r.locks.Lock(docID)
	defer unlock()

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", docID).Delete(&chunkVector{}).Error; err != nil {
			return fmt.Errorf("failed to delete old vectors: %v", err)
		}
		if len(rows) > 0 {
			if err := tx.CreateInBatches(rows, 100).Error; err != nil {
				return fmt.Errorf("failed to insert vectors: %v", err)
			}
		}
		return saveFingerprint(tx, docID, fingerprint)
	})
}

// DeleteByDocument 删除文档的全部记录
func (r *SQLiteRepository) DeleteByDocument(docID string) error {
	unlock := r.locks.Lock(docID)
	defer unlock()

	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", docID).Delete(&chunkVector{}).Error; err != nil {
			return err
		}
		return tx.Where("document_id = ?", docID).Delete(&indexFingerprint{}).Error
	})
}

// Search 相似度搜索
func (r *SQLiteRepository) Search(vector []float32, filter SearchFilter) ([]SearchResult, error) {
	if err := ValidateVector(vector, r.dimension); err != nil {
		return nil, err
	}
	query := NormalizeVector(vector)

	ids := filter.DocumentIDs
	if len(ids) == 0 {
		if err := r.db.Model(&chunkVector{}).Distinct("document_id").Order("document_id").Pluck("document_id", &ids).Error; err != nil {
			return nil, fmt.Errorf("failed to list documents: %v", err)
		}
	}
	if len(ids) == 0 {
		return []SearchResult{}, nil
	}

	unlock := r.locks.RLockAll(ids)
	defer unlock()

	var rows []chunkVector
	if err := r.db.Where("document_id IN ?", ids).Order("document_id, chunk_index").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load vectors: %v", err)
	}
	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return LimitResults(scoreRecords(query, records, filter.MinScore), filter), nil
}

// Get 获取单条记录
func (r *SQLiteRepository) Get(docID string, chunkIndex int) (Record, error) {
	unlock := r.locks.RLockAll([]string{docID})
	defer unlock()

	var row chunkVector
	err := r.db.Where("document_id = ? AND chunk_index = ?", docID, chunkIndex).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, err
	}
	return fromRow(row)
}

// Count 获取记录总数
func (r *SQLiteRepository) Count() (int, error) {
	var n int64
	if err := r.db.Model(&chunkVector{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// CountByDocument 获取文档的记录数
func (r *SQLiteRepository) CountByDocument(docID string) (int, error) {
	var n int64
	if err := r.db.Model(&chunkVector{}).Where("document_id = ?", docID).Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

// Fingerprint 返回文档指纹
func (r *SQLiteRepository) Fingerprint(docID string) (string, error) {
	var fp indexFingerprint
	err := r.db.Where("document_id = ?", docID).First(&fp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return fp.Fingerprint, nil
}

// GetDimension 返回向量维数
func (r *SQLiteRepository) GetDimension() int {
	return r.dimension
}

// Close 关闭仓库自己打开的连接
func (r *SQLiteRepository) Close() error {
	if !r.ownsDB {
		return nil
	}
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func init() {
	RegisterRepository("sqlite", NewSQLiteRepository)
}
