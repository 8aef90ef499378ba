package retriever

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/fyerfyer/contract-auditor/internal/llm"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Reranker 对检索结果做二次相关性排序
type Reranker interface {
	Rerank(ctx context.Context, query string, items []models.ScoredChunk) ([]models.ScoredChunk, error)
}

// RerankPrompt 相关性打分提示词
const RerankPrompt = `You are a legal document relevance scorer.

Query: {{.Query}}

Document: {{.Document}}

On a scale of 0-10, how relevant is this document to the query?
Consider:
- Direct mention of the topic
- Contextual relevance
- Legal specificity

Respond with ONLY a number between 0 and 10.`

// LLMReranker 使用生成模型为每个分块打分
// 最终分数为 (相似度 + 模型分/10) / 2，模型输出无法解析时保留相似度
type LLMReranker struct {
	client      llm.Client
	concurrency int
	logger      *logrus.Logger
}

// NewLLMReranker 创建基于大模型的重排序器
func NewLLMReranker(client llm.Client, concurrency int, logger *logrus.Logger) *LLMReranker {
	if concurrency <= 0 {
		concurrency = 2
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LLMReranker{client: client, concurrency: concurrency, logger: logger}
}

// Rerank 为每个分块打分后按新分数降序排列
// 生成服务不可用时返回错误，其余单条失败只影响该分块
func (r *LLMReranker) Rerank(ctx context.Context, query string, items []models.ScoredChunk) ([]models.ScoredChunk, error) {
	out := make([]models.ScoredChunk, len(items))
	copy(out, items)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range out {
		g.Go(func() error {
			prompt := strings.NewReplacer(
				"{{.Query}}", query,
				"{{.Document}}", out[i].Chunk.Text,
			).Replace(RerankPrompt)

			resp, err := r.client.Generate(gctx, prompt,
				llm.WithGenerateTemperature(0),
				llm.WithGenerateMaxTokens(8),
			)
			if err != nil {
				if llm.IsUnavailable(err) {
					return err
				}
				r.logger.WithError(err).WithField("chunk_index", out[i].Chunk.ChunkIndex).
					Warn("Rerank scoring failed, keeping similarity")
				out[i].Score = out[i].Similarity
				return nil
			}

			rel, ok := ParseRelevance(resp.Text)
			if !ok {
				out[i].Score = out[i].Similarity
				return nil
			}
			out[i].Rerank = &rel
			out[i].Score = (out[i].Similarity + rel/10) / 2
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortByScore(out)
	return out, nil
}

// ParseRelevance 解析模型给出的0-10分，超出范围视为无法解析
func ParseRelevance(text string) (float32, bool) {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 {
		return 0, false
	}
	token := strings.TrimRight(fields[0], ".,;:")
	token = strings.TrimSuffix(token, "/10")
	v, err := strconv.ParseFloat(token, 32)
	if err != nil || v < 0 || v > 10 {
		return 0, false
	}
	return float32(v), true
}

// sortByScore 分数降序，相同时按 chunk_index 升序
func sortByScore(items []models.ScoredChunk) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Score != items[j].Score {
			return items[i].Score > items[j].Score
		}
		return items[i].Chunk.ChunkIndex < items[j].Chunk.ChunkIndex
	})
}
