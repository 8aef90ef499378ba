package analyzer

import (
	"fmt"
	"strings"

	"github.com/fyerfyer/contract-auditor/internal/models"
)

// RiskRule 某类条款的风险关键词
type RiskRule struct {
	High []string `mapstructure:"high" json:"high"`
	Low  []string `mapstructure:"low" json:"low"`
}

// RiskRules 按条款类型配置的风险规则
type RiskRules map[models.ClauseType]RiskRule

// DefaultRiskRules 默认风险关键词
func DefaultRiskRules() RiskRules {
	return RiskRules{
		models.ClauseIPOwnership: {
			High: []string{"assigns all rights", "exclusive ownership", "perpetual", "irrevocable", "waives all rights"},
			Low:  []string{"joint ownership", "limited license", "retains rights", "shared ownership"},
		},
		models.ClausePriceRestrict: {
			High: []string{"no increase allowed", "fixed price", "price ceiling", "cannot adjust", "locked price"},
			Low:  []string{"annual adjustment", "CPI indexed", "market rate", "negotiable"},
		},
		models.ClauseNonCompete: {
			High: []string{"indefinite", "worldwide", "all industries", "perpetual", "unlimited scope"},
			Low:  []string{"limited duration", "specific geography", "narrow scope", "reasonable restrictions"},
		},
		models.ClauseTermination: {
			High: []string{"no termination right", "cannot terminate", "irrevocable", "no exit clause"},
			Low:  []string{"30 days notice", "60 days notice", "mutual termination", "either party may terminate"},
		},
		models.ClauseGoverningLaw: {
			High: []string{"foreign jurisdiction", "arbitration mandatory", "waives jury trial", "exclusive venue"},
			Low:  []string{"mutual jurisdiction", "local courts", "mediation first", "negotiable venue"},
		},
	}
}

// Merge 用 override 中的条目覆盖默认规则
func (r RiskRules) Merge(override RiskRules) RiskRules {
	out := make(RiskRules, len(r)+len(override))
	for k, v := range r {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// RiskAssessment 风险评估结果
type RiskAssessment struct {
	Level       models.RiskLevel
	Explanation string
	HighMatches []string
	LowMatches  []string
}

// Assess 根据条款文本中的关键词确定风险等级
// 高风险命中多于低风险为 High，反之为 Low，否则为 Medium
func (r RiskRules) Assess(ct models.ClauseType, text string) RiskAssessment {
	rule := r[ct]
	lower := strings.ToLower(text)

	a := RiskAssessment{
		HighMatches: matchKeywords(lower, rule.High),
		LowMatches:  matchKeywords(lower, rule.Low),
	}
	switch {
	case len(a.HighMatches) > len(a.LowMatches):
		a.Level = models.RiskHigh
	case len(a.LowMatches) > len(a.HighMatches):
		a.Level = models.RiskLow
	default:
		a.Level = models.RiskMedium
	}
	a.Explanation = explain(a)
	return a
}

// Issues 命中的高风险关键词转换为问题描述
func (a RiskAssessment) Issues() []string {
	out := make([]string, 0, len(a.HighMatches))
	for _, kw := range a.HighMatches {
		out = append(out, fmt.Sprintf("Contains high-risk term %q", kw))
	}
	return out
}

func matchKeywords(lower string, keywords []string) []string {
	var out []string
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(kw)) {
			out = append(out, kw)
		}
	}
	return out
}

func explain(a RiskAssessment) string {
	if len(a.HighMatches) == 0 && len(a.LowMatches) == 0 {
		return "No risk markers matched; defaulting to Medium."
	}
	parts := make([]string, 0, 2)
	if len(a.HighMatches) > 0 {
		parts = append(parts, "high-risk markers: "+strings.Join(a.HighMatches, ", "))
	}
	if len(a.LowMatches) > 0 {
		parts = append(parts, "low-risk markers: "+strings.Join(a.LowMatches, ", "))
	}
	return fmt.Sprintf("Rated %s from %s.", a.Level, strings.Join(parts, "; "))
}
