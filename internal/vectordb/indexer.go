package vectordb

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/fyerfyer/contract-auditor/internal/embedding"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/sirupsen/logrus"
)

// Indexer 将文档分块嵌入并写入向量仓库
type Indexer struct {
	repo     Repository
	embedder embedding.Client
	batch    *embedding.BatchProcessor
	sig      string
	logger   *logrus.Logger
}

// IndexerOption 索引器配置选项
type IndexerOption func(*indexerOptions)

type indexerOptions struct {
	batchSize int
	workers   int
	signature string
	logger    *logrus.Logger
}

// WithBatchSize 设置每批嵌入的分块数
func WithBatchSize(n int) IndexerOption {
	return func(o *indexerOptions) { o.batchSize = n }
}

// WithWorkers 设置并行嵌入的工作线程数
func WithWorkers(n int) IndexerOption {
	return func(o *indexerOptions) { o.workers = n }
}

// WithSignature 设置分块器配置签名，参与指纹计算
func WithSignature(sig string) IndexerOption {
	return func(o *indexerOptions) { o.signature = sig }
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) IndexerOption {
	return func(o *indexerOptions) { o.logger = logger }
}

// NewIndexer 创建索引器
func NewIndexer(repo Repository, embedder embedding.Client, opts ...IndexerOption) *Indexer {
	o := indexerOptions{batchSize: 16, workers: 4}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logrus.StandardLogger()
	}
	return &Indexer{
		repo:     repo,
		embedder: embedder,
		batch:    embedding.NewBatchProcessor(embedder, o.batchSize, o.workers),
		sig:      o.signature,
		logger:   o.logger,
	}
}

// Repository 返回底层向量仓库
func (ix *Indexer) Repository() Repository {
	return ix.repo
}

// Fingerprint 计算分块集合的指纹
// 分块内容、偏移、分块器配置和嵌入模型任一变化都会得到不同的指纹
func (ix *Indexer) Fingerprint(chunks []models.Chunk) string {
	h := sha256.New()
	h.Write([]byte(ix.embedder.Name()))
	h.Write([]byte{0})
	h.Write([]byte(ix.sig))
	for _, c := range chunks {
		h.Write([]byte{0})
		h.Write([]byte(strconv.Itoa(c.ChunkIndex) + ":" + strconv.Itoa(c.StartOffset) + ":" + strconv.Itoa(c.EndOffset)))
		h.Write([]byte{0})
		h.Write([]byte(c.Text))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IsUpToDate 判断文档索引是否与给定指纹一致
func (ix *Indexer) IsUpToDate(docID, fingerprint string) (bool, error) {
	stored, err := ix.repo.Fingerprint(docID)
	if err != nil {
		return false, models.NewPipelineError(models.IndexError, "read fingerprint", err)
	}
	if stored == "" || stored != fingerprint {
		return false, nil
	}
	n, err := ix.repo.CountByDocument(docID)
	if err != nil {
		return false, models.NewPipelineError(models.IndexError, "count records", err)
	}
	return n > 0, nil
}

// Index 嵌入分块并写入仓库
// rebuild 为真时先使该文档的旧记录全部失效，否则按 (document_id, chunk_index) 增量替换
func (ix *Indexer) Index(ctx context.Context, docID string, chunks []models.Chunk, rebuild bool) error {
	start := time.Now()
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		if c.DocumentID != docID {
			return models.NewPipelineError(models.IndexError, "index chunks",
				fmt.Errorf("chunk %s does not belong to document %s", c.Key(), docID))
		}
		texts[i] = c.Text
	}

	vectors, err := ix.batch.Process(ctx, texts)
	if err != nil {
		if embedding.IsUnavailable(err) {
			return models.NewPipelineError(models.ProviderUnavailable, "embed chunks", err)
		}
		return models.NewPipelineError(models.IndexError, "embed chunks", err)
	}

	records := make([]Record, len(chunks))
	for i, c := range chunks {
		records[i] = NewRecord(c, vectors[i])
	}
	fingerprint := ix.Fingerprint(chunks)

	if rebuild {
		err = ix.repo.Rebuild(docID, records, fingerprint)
	} else {
		err = ix.repo.Upsert(docID, records, fingerprint)
	}
	if err != nil {
		return models.NewPipelineError(models.IndexError, "write records", err)
	}

	ix.logger.WithFields(logrus.Fields{
		"document_id": docID,
		"chunks":      len(chunks),
		"rebuild":     rebuild,
		"embedder":    ix.embedder.Name(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Document indexed")
	return nil
}

// Query 嵌入查询文本并在仓库中搜索
func (ix *Indexer) Query(ctx context.Context, text string, filter SearchFilter) ([]SearchResult, error) {
	vec, err := ix.embedder.Embed(ctx, text)
	if err != nil {
		if embedding.IsUnavailable(err) {
			return nil, models.NewPipelineError(models.ProviderUnavailable, "embed query", err)
		}
		return nil, models.NewPipelineError(models.IndexError, "embed query", err)
	}
	results, err := ix.repo.Search(vec, filter)
	if err != nil {
		return nil, models.NewPipelineError(models.IndexError, "search", err)
	}
	return results, nil
}
