package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// 词干截断长度，让 terminate/termination、compete/competing 落到同一特征
const stemLength = 6

// 探针模板和合同通用措辞中的高频词，不参与特征
var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "any": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "have": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "or": {}, "that": {}, "the": {}, "this": {}, "to": {}, "with": {},
	"what": {}, "does": {}, "say": {}, "about": {}, "find": {}, "extract": {}, "complete": {},
	"locate": {}, "related": {}, "provisions": {}, "clause": {}, "contract": {}, "agreement": {},
	"shall": {}, "will": {}, "may": {}, "such": {}, "which": {}, "all": {}, "other": {},
}

// HashClient 基于特征哈希的确定性嵌入
// 不依赖外部服务，同一文本总是得到同一向量，适合离线运行和测试
type HashClient struct {
	dim int
}

// NewHashClient 创建哈希嵌入客户端
func NewHashClient(opts ...Option) (Client, error) {
	cfg := NewConfig(opts...)
	if cfg.Dimensions <= 0 {
		return nil, NewEmbeddingError(ErrCodeInvalidRequest, "dimensions must be positive")
	}
	return &HashClient{dim: cfg.Dimensions}, nil
}

// Name 返回模型名称
func (c *HashClient) Name() string {
	return fmt.Sprintf("hash-%d", c.dim)
}

// Embed 生成单条文本的向量
func (c *HashClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyText
	}
	return c.vector(text), nil
}

// EmbedBatch 批量生成向量
func (c *HashClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if text == "" {
			return nil, ErrEmptyText
		}
		out[i] = c.vector(text)
	}
	return out, nil
}

// vector 单词和相邻词对映射到带符号的桶中，再做L2归一化
func (c *HashClient) vector(text string) []float32 {
	vec := make([]float64, c.dim)
	tokens := Tokenize(text)

	for i, tok := range tokens {
		c.add(vec, tok, 1.0)
		if i+1 < len(tokens) {
			c.add(vec, tok+"_"+tokens[i+1], 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, c.dim)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func (c *HashClient) add(vec []float64, feature string, weight float64) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(c.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// Tokenize 将文本切分为小写词干，过滤停用词
func Tokenize(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if _, stop := stopWords[w]; stop {
			continue
		}
		// 简单去掉复数词尾
		if len(w) > 3 && strings.HasSuffix(w, "s") && !strings.HasSuffix(w, "ss") {
			w = w[:len(w)-1]
		}
		if r := []rune(w); len(r) > stemLength {
			w = string(r[:stemLength])
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// 在包初始化时注册哈希嵌入客户端
func init() {
	RegisterClient("hash", NewHashClient)
}
