package analyzer

import (
	"errors"
	"strings"

	"github.com/fyerfyer/contract-auditor/internal/llm"
	"github.com/fyerfyer/contract-auditor/internal/models"
)

const (
	revisionMarker  = "SUGGESTED REVISION:"
	rationaleMarker = "RATIONALE:"
)

// ErrRedlineFormat 修订建议缺少必需的段落
var ErrRedlineFormat = errors.New("redline output missing SUGGESTED REVISION or RATIONALE section")

// RedlineTemplate 修订建议提示词模板
const RedlineTemplate = `You are a legal contract negotiation expert. The following {{.ClauseType}} clause has been identified as HIGH RISK.

Original Clause:
{{.Clause}}

Context from contract:
{{.Context}}

Suggest a more balanced alternative version of this clause that:
1. Maintains the core intent
2. Provides better protection for both parties
3. Reduces one-sided obligations
4. Adds reasonable limitations or safeguards

Only rely on the clause and context above.

Provide your suggestion in this format:
SUGGESTED REVISION:
[Your revised clause text]

RATIONALE:
[Brief explanation of changes]`

// BuildRedlinePrompt 构造修订建议提示词
func BuildRedlinePrompt(ct models.ClauseType, clause string, items []models.ScoredChunk) string {
	return strings.NewReplacer(
		"{{.ClauseType}}", string(ct),
		"{{.Clause}}", clause,
		"{{.Context}}", llm.FormatContext(items),
	).Replace(RedlineTemplate)
}

// ParseRedline 解析修订建议，两个段落都必须非空
func ParseRedline(text string) (*models.Redline, error) {
	ri := strings.Index(text, revisionMarker)
	ai := strings.Index(text, rationaleMarker)
	if ri < 0 || ai < 0 || ai < ri {
		return nil, ErrRedlineFormat
	}

	revision := strings.TrimSpace(text[ri+len(revisionMarker) : ai])
	rationale := strings.TrimSpace(text[ai+len(rationaleMarker):])
	if revision == "" || rationale == "" {
		return nil, ErrRedlineFormat
	}
	return &models.Redline{Revision: revision, Rationale: rationale}, nil
}
