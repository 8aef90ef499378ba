package retriever

import (
	"context"
	"fmt"
	"time"

	"github.com/fyerfyer/contract-auditor/internal/embedding"
	"github.com/fyerfyer/contract-auditor/internal/metrics"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/fyerfyer/contract-auditor/internal/vectordb"
	"github.com/sirupsen/logrus"
)

// 默认检索参数
const (
	DefaultK        = 5
	DefaultMaxFetch = 20
	DefaultMinScore = 0.25
	DefaultLambda   = 0.7
)

// Config 检索配置
type Config struct {
	K        int     // 最终返回的分块数
	FetchK   int     // 候选池大小，0表示 min(4K, 20)
	MinScore float32 // 相似度下限
	Lambda   float32 // MMR权衡系数，1为只看相关度
	Rerank   bool    // 是否启用二次重排序
}

// DefaultConfig 返回默认检索配置
func DefaultConfig() Config {
	return Config{
		K:        DefaultK,
		MinScore: DefaultMinScore,
		Lambda:   DefaultLambda,
	}
}

// Validate 校验配置
func (c Config) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("k must be positive, got %d", c.K)
	}
	if c.FetchK < 0 {
		return fmt.Errorf("fetch_k must not be negative, got %d", c.FetchK)
	}
	if c.FetchK > 0 && c.FetchK < c.K {
		return fmt.Errorf("fetch_k (%d) must be at least k (%d)", c.FetchK, c.K)
	}
	if c.Lambda < 0 || c.Lambda > 1 {
		return fmt.Errorf("lambda must be in [0, 1], got %v", c.Lambda)
	}
	if c.MinScore < -1 || c.MinScore > 1 {
		return fmt.Errorf("min_score must be in [-1, 1], got %v", c.MinScore)
	}
	return nil
}

// fetchK 计算候选池大小
func (c Config) fetchK() int {
	if c.FetchK > 0 {
		return c.FetchK
	}
	n := 4 * c.K
	if n > DefaultMaxFetch {
		n = DefaultMaxFetch
	}
	if n < c.K {
		n = c.K
	}
	return n
}

// Option 检索器选项
type Option func(*Retriever)

// WithReranker 设置重排序器，配置中启用 Rerank 时生效
func WithReranker(r Reranker) Option {
	return func(rt *Retriever) {
		rt.reranker = r
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(rt *Retriever) {
		rt.logger = logger
	}
}

// Retriever 条款检索器
// 多探针召回 → 合并去重 → MMR多样化 → 可选重排序
type Retriever struct {
	repo     vectordb.Repository
	embedder embedding.Client
	reranker Reranker
	cfg      Config
	logger   *logrus.Logger
}

// New 创建检索器
func New(repo vectordb.Repository, embedder embedding.Client, cfg Config, opts ...Option) (*Retriever, error) {
	if repo == nil || embedder == nil {
		return nil, fmt.Errorf("retriever requires a repository and an embedder")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retrieval config: %w", err)
	}
	r := &Retriever{
		repo:     repo,
		embedder: embedder,
		cfg:      cfg,
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if cfg.Rerank && r.reranker == nil {
		return nil, fmt.Errorf("rerank enabled but no reranker configured")
	}
	return r, nil
}

// Config 返回检索配置
func (r *Retriever) Config() Config {
	return r.cfg
}

// Retrieve 检索某个条款在文档中的相关分块
// 候选池为空时返回空结果，不是错误
func (r *Retriever) Retrieve(ctx context.Context, query models.ClauseQuery, docID string) (models.RetrievalResult, error) {
	result := models.RetrievalResult{
		Clause:     query.Type,
		DocumentID: docID,
		Items:      []models.ScoredChunk{},
	}
	if len(query.Probes) == 0 {
		return result, nil
	}

	start := time.Now()
	fetchK := r.cfg.fetchK()

	vectors, err := r.embedProbes(ctx, query.Probes)
	if err != nil {
		return result, err
	}

	filter := vectordb.SearchFilter{
		DocumentIDs: []string{docID},
		MinScore:    r.cfg.MinScore,
		MaxResults:  fetchK,
	}
	pool := make(map[string]models.ScoredChunk)
	for _, vec := range vectors {
		hits, err := r.repo.Search(vec, filter)
		if err != nil {
			return result, models.NewPipelineError(models.IndexError, "search", err)
		}
		for _, h := range hits {
			key := h.Record.Key()
			if prev, ok := pool[key]; ok && prev.Similarity >= h.Score {
				continue
			}
			pool[key] = models.ScoredChunk{
				Chunk:      h.Record.Chunk,
				Score:      h.Score,
				Similarity: h.Score,
				Vector:     h.Record.Vector,
			}
		}
	}

	candidates := make([]models.ScoredChunk, 0, len(pool))
	for _, c := range pool {
		candidates = append(candidates, c)
	}
	sortByScore(candidates)
	if len(candidates) > fetchK {
		candidates = candidates[:fetchK]
	}
	metrics.ObserveRetrieval(string(query.Type), len(candidates), time.Since(start))

	if len(candidates) == 0 {
		r.logger.WithFields(logrus.Fields{
			"clause":      query.Type,
			"document_id": docID,
		}).Debug("No candidates above similarity floor")
		return result, nil
	}

	selected := MMR(candidates, r.cfg.K, r.cfg.Lambda)

	if r.cfg.Rerank && r.reranker != nil {
		reranked, err := r.reranker.Rerank(ctx, query.Probes[0], selected)
		if err != nil {
			return result, models.NewPipelineError(models.ProviderUnavailable, "rerank", err)
		}
		selected = reranked
	}

	result.Items = selected
	r.logger.WithFields(logrus.Fields{
		"clause":      query.Type,
		"document_id": docID,
		"candidates":  len(candidates),
		"selected":    len(selected),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Clause retrieved")
	return result, nil
}

// Similar 纯相似度检索，不做多样化和重排序
// 用于合同问答
func (r *Retriever) Similar(ctx context.Context, text, docID string, k int) ([]models.ScoredChunk, error) {
	if k <= 0 {
		k = r.cfg.K
	}
	vectors, err := r.embedProbes(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	hits, err := r.repo.Search(vectors[0], vectordb.SearchFilter{
		DocumentIDs: []string{docID},
		MaxResults:  k,
	})
	if err != nil {
		return nil, models.NewPipelineError(models.IndexError, "search", err)
	}

	items := make([]models.ScoredChunk, 0, len(hits))
	for _, h := range hits {
		items = append(items, models.ScoredChunk{
			Chunk:      h.Record.Chunk,
			Score:      h.Score,
			Similarity: h.Score,
			Vector:     h.Record.Vector,
		})
	}
	return items, nil
}

// embedProbes 一次批量嵌入所有探针
func (r *Retriever) embedProbes(ctx context.Context, probes []string) ([][]float32, error) {
	start := time.Now()
	vectors, err := r.embedder.EmbedBatch(ctx, probes)
	metrics.ObserveProvider("embedding", "embed_probes", time.Since(start), err)
	if err != nil {
		if embedding.IsUnavailable(err) {
			return nil, models.NewPipelineError(models.ProviderUnavailable, "embed probes", err)
		}
		return nil, models.NewPipelineError(models.IndexError, "embed probes", err)
	}
	if len(vectors) != len(probes) {
		return nil, models.NewPipelineError(models.IndexError, "embed probes",
			fmt.Errorf("expected %d vectors, got %d", len(probes), len(vectors)))
	}
	return vectors, nil
}
