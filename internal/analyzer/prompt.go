package analyzer

import (
	"strings"

	"github.com/fyerfyer/contract-auditor/internal/llm"
	"github.com/fyerfyer/contract-auditor/internal/models"
)

// AnalysisTemplate 条款分析提示词模板
// 包含变量：
// {{.ClauseType}} - 条款类型
// {{.ExpectedShape}} - 期望答案的形态
// {{.Context}} - 带来源标签的检索分块
const AnalysisTemplate = `You are a legal contract analysis AI assistant. Analyze the "{{.ClauseType}}" clause using ONLY the numbered excerpts from the contract below.

What to look for: {{.ExpectedShape}}

Context from contract:
{{.Context}}

Instructions:
1. Use only the excerpts above. Do not rely on outside knowledge or assumptions.
2. If the excerpts do not contain this clause, respond with {"found": false, "summary": "Not Found in Contract"} and nothing else.
3. If the clause is present, copy the exact supporting sentence into "source_text" and cite the excerpt it comes from by its source number, page and section. When an excerpt spans several pages, give the page the quote appears on.
4. List concrete issues a reviewing party should be aware of, and recommendations to address them.
5. Respond with a single JSON object and no other text, in this format:
{
  "found": true,
  "summary": "one or two sentences describing what the clause says",
  "source_text": "exact quote from the cited excerpt",
  "citation": {"source": 1, "page": 3, "section": "section header of the cited excerpt"},
  "issues": ["..."],
  "recommendations": ["..."],
  "confidence": "high"
}`

// BuildAnalysisPrompt 构造条款分析提示词
// 提示词中只包含检索到的分块
func BuildAnalysisPrompt(template string, query models.ClauseQuery, items []models.ScoredChunk) string {
	if template == "" {
		template = AnalysisTemplate
	}
	shape := query.ExpectedShape
	if shape == "" {
		shape = "any provision about " + string(query.Type)
	}
	return strings.NewReplacer(
		"{{.ClauseType}}", string(query.Type),
		"{{.ExpectedShape}}", shape,
		"{{.Context}}", llm.FormatContext(items),
	).Replace(template)
}
