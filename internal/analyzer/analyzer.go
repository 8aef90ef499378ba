package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/fyerfyer/contract-auditor/internal/document"
	"github.com/fyerfyer/contract-auditor/internal/llm"
	"github.com/fyerfyer/contract-auditor/internal/metrics"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/sirupsen/logrus"
)

// 默认生成参数
const (
	DefaultMaxTokens        = 1024
	DefaultRedlineMaxTokens = 1024
)

// AnalyzeOptions 单次分析选项
type AnalyzeOptions struct {
	Redline bool // 高风险条款是否生成修订建议
}

// Option 分析器选项
type Option func(*Analyzer)

// WithRiskRules 设置风险规则
func WithRiskRules(rules RiskRules) Option {
	return func(a *Analyzer) {
		a.rules = rules
	}
}

// WithMaxTokens 设置分析调用的最大Token数
func WithMaxTokens(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

// WithTemplate 设置分析提示词模板
func WithTemplate(tpl string) Option {
	return func(a *Analyzer) {
		a.template = tpl
	}
}

// WithLogger 设置日志记录器
func WithLogger(logger *logrus.Logger) Option {
	return func(a *Analyzer) {
		a.logger = logger
	}
}

// Analyzer 基于检索结果的条款分析器
// 只把检索到的分块交给模型，正面结论必须带有可验证的引用
type Analyzer struct {
	client    llm.Client
	rules     RiskRules
	template  string
	maxTokens int
	logger    *logrus.Logger
}

// New 创建分析器
func New(client llm.Client, opts ...Option) *Analyzer {
	a := &Analyzer{
		client:    client,
		rules:     DefaultRiskRules(),
		template:  AnalysisTemplate,
		maxTokens: DefaultMaxTokens,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze 分析单个条款
// 检索结果为空时直接返回未找到，不调用模型。
// 输出无法解析或引用无法验证时降级为未找到，并返回 GroundingFailure 错误；
// 生成服务不可用时返回 ProviderUnavailable 错误
func (a *Analyzer) Analyze(ctx context.Context, query models.ClauseQuery, result models.RetrievalResult, opts AnalyzeOptions) (models.ClauseAnalysis, error) {
	ct := query.Type
	if result.Empty() {
		return models.NotFoundAnalysis(ct), nil
	}

	logger := a.logger.WithFields(logrus.Fields{
		"clause":      ct,
		"document_id": result.DocumentID,
		"chunks":      len(result.Items),
	})

	prompt := BuildAnalysisPrompt(a.template, query, result.Items)
	text, err := a.generate(ctx, "analyze", prompt, a.maxTokens)
	if err != nil {
		return models.FailedAnalysis(ct, err), err
	}

	out, err := ParseOutput(text)
	if err != nil {
		gErr := models.NewPipelineError(models.GroundingFailure, "parse output", err)
		logger.WithError(err).Warn("Unparsable model output, downgrading to not found")
		return models.FailedAnalysis(ct, gErr), gErr
	}
	if !out.Found {
		return models.NotFoundAnalysis(ct), nil
	}

	analysis, cited, err := a.ground(ct, out, result.Items)
	if err != nil {
		gErr := models.NewPipelineError(models.GroundingFailure, "verify citation", err)
		logger.WithError(err).Warn("Citation could not be verified, downgrading to not found")
		return models.FailedAnalysis(ct, gErr), gErr
	}

	risk := a.rules.Assess(ct, cited.Text)
	analysis.RiskLevel = risk.Level
	analysis.RiskExplanation = risk.Explanation
	analysis.Issues = mergeUnique(analysis.Issues, risk.Issues())

	if opts.Redline && risk.Level == models.RiskHigh {
		redline, err := a.redline(ctx, ct, cited.Text, result.Items)
		if err != nil {
			if models.IsFatal(err) {
				return analysis, err
			}
			logger.WithError(err).Warn("Redline suggestion unavailable")
		} else {
			analysis.SuggestedRedline = redline
		}
	}

	logger.WithFields(logrus.Fields{
		"risk":       analysis.RiskLevel,
		"page":       analysis.Citation.Page,
		"confidence": analysis.Confidence,
	}).Debug("Clause analyzed")
	return analysis, nil
}

// ground 校验引用并构造正面结论
// 引文必须出现在被引用的来源中；只出现在其他来源时引用改指向该来源。
// 页码和章节按引文在分块中的位置确定
func (a *Analyzer) ground(ct models.ClauseType, out *Output, items []models.ScoredChunk) (models.ClauseAnalysis, models.Chunk, error) {
	c := out.Citation
	if c == nil {
		return models.ClauseAnalysis{}, models.Chunk{}, fmt.Errorf("positive finding without citation")
	}
	if c.Source < 1 || c.Source > len(items) {
		return models.ClauseAnalysis{}, models.Chunk{}, fmt.Errorf("citation source %d out of range [1, %d]", c.Source, len(items))
	}

	confidence := out.Confidence
	if confidence == "" {
		confidence = models.ConfidenceMedium
	}
	if confidence == models.ConfidenceNone {
		confidence = models.ConfidenceLow
	}

	source := c.Source
	quote := out.SourceText
	offset := -1
	if quote != "" {
		offset = locate(items[source-1].Chunk.Text, quote)
		if offset < 0 {
			if i, off := locateIn(items, quote); i >= 0 {
				a.logger.WithFields(logrus.Fields{
					"clause": ct,
					"cited":  source,
					"quoted": i + 1,
				}).Debug("Quote found in a different source, re-pointing citation")
				source, offset = i+1, off
				if confidence == models.ConfidenceHigh {
					confidence = models.ConfidenceMedium
				}
			}
		}
	}
	chunk := items[source-1].Chunk
	repointed := source != c.Source

	if c.Page != 0 && !repointed && !chunk.CoversPage(c.Page) {
		return models.ClauseAnalysis{}, models.Chunk{}, fmt.Errorf("cited page %d does not match source %d (page %d)", c.Page, c.Source, chunk.PageNumber)
	}

	page, section := chunk.PageNumber, llm.SectionOf(chunk)
	if offset >= 0 {
		page, section = chunk.PageAt(offset), sectionAt(chunk, offset)
	} else {
		if c.Page != 0 {
			page = c.Page
		}
		quote = chunk.Text
		confidence = models.ConfidenceLow
	}
	if page < 1 {
		return models.ClauseAnalysis{}, models.Chunk{}, fmt.Errorf("source %d has no page number", source)
	}

	analysis := models.ClauseAnalysis{
		ClauseType:      ct,
		Found:           true,
		Summary:         out.Summary,
		Issues:          out.Issues,
		Recommendations: out.Recommendations,
		SourceText:      quote,
		Citation: &models.Citation{
			Page:       page,
			Section:    section,
			ChunkIndex: chunk.ChunkIndex,
		},
		Confidence: confidence,
	}
	return analysis, chunk, nil
}

// sectionAt 返回分块中某个偏移所在行及之前最近的章节标题
func sectionAt(chunk models.Chunk, offset int) string {
	runes := []rune(chunk.Text)
	end := offset
	for end < len(runes) && runes[end] != '\n' {
		end++
	}
	if header := document.LastHeaderIn(string(runes[:end])); header != "" {
		return header
	}
	return llm.SectionOf(chunk)
}

// redline 为高风险条款生成修订建议
func (a *Analyzer) redline(ctx context.Context, ct models.ClauseType, clause string, items []models.ScoredChunk) (*models.Redline, error) {
	text, err := a.generate(ctx, "redline", BuildRedlinePrompt(ct, clause, items), DefaultRedlineMaxTokens)
	if err != nil {
		return nil, err
	}
	return ParseRedline(text)
}

// generate 以温度0调用生成模型
func (a *Analyzer) generate(ctx context.Context, op, prompt string, maxTokens int) (string, error) {
	start := time.Now()
	resp, err := a.client.Generate(ctx, prompt,
		llm.WithGenerateMaxTokens(maxTokens),
		llm.WithGenerateTemperature(0),
	)
	metrics.ObserveProvider("llm", op, time.Since(start), err)
	if err != nil {
		if llm.IsUnavailable(err) {
			return "", models.NewPipelineError(models.ProviderUnavailable, op, err)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return resp.Text, nil
}

// locate 返回引文在文本中的起始rune偏移（忽略空白差异），找不到时返回 -1
func locate(text, quote string) int {
	q := collapseSpaces(quote)
	if q == "" {
		return -1
	}

	// 折叠空白后的文本，pos 记录每个字符在原文中的偏移
	var (
		collapsed []rune
		pos       []int
		inSpace   bool
	)
	for i, r := range []rune(text) {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && len(collapsed) > 0 {
			collapsed = append(collapsed, ' ')
			pos = append(pos, i)
		}
		inSpace = false
		collapsed = append(collapsed, r)
		pos = append(pos, i)
	}

	hay := string(collapsed)
	idx := strings.Index(hay, q)
	if idx < 0 {
		return -1
	}
	return pos[utf8.RuneCountInString(hay[:idx])]
}

// locateIn 在所有来源中查找引文，返回来源下标和偏移
func locateIn(items []models.ScoredChunk, quote string) (int, int) {
	for i, it := range items {
		if off := locate(it.Chunk.Text, quote); off >= 0 {
			return i, off
		}
	}
	return -1, -1
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func mergeUnique(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	return out
}
