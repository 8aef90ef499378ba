package models

import (
	"fmt"
	"time"
)

// ClauseType 条款类型
type ClauseType string

const (
	ClauseIPOwnership   ClauseType = "IP Ownership Assignment"
	ClausePriceRestrict ClauseType = "Price Restrictions"
	ClauseNonCompete    ClauseType = "Non-compete, Exclusivity, No-solicit of Customers"
	ClauseTermination   ClauseType = "Termination for Convenience"
	ClauseGoverningLaw  ClauseType = "Governing Law"
)

// NotFoundSummary 未找到条款时的固定摘要
const NotFoundSummary = "Not Found in Contract"

// AllClauseTypes 按固定顺序返回所有条款类型
// 报告中的条款顺序始终与此一致
func AllClauseTypes() []ClauseType {
	return []ClauseType{
		ClauseIPOwnership,
		ClausePriceRestrict,
		ClauseNonCompete,
		ClauseTermination,
		ClauseGoverningLaw,
	}
}

// ParseClauseType 解析条款类型名称
func ParseClauseType(s string) (ClauseType, error) {
	for _, ct := range AllClauseTypes() {
		if string(ct) == s {
			return ct, nil
		}
	}
	return "", fmt.Errorf("unknown clause type: %q", s)
}

// ClauseQuery 条款查询
type ClauseQuery struct {
	Type          ClauseType `json:"type"`
	Probes        []string   `json:"probes"`         // 检索探针问题
	ExpectedShape string     `json:"expected_shape"` // 期望答案的形态描述
}

// 通用探针模板
var probeTemplates = []string{
	"Find and extract the complete %s clause from the contract.",
	"What does the contract say about %s?",
	"Locate any provisions related to %s in this agreement.",
}

// 条款特有的关键词探针
var clauseKeywordProbes = map[ClauseType]string{
	ClauseIPOwnership:   "intellectual property ownership assignment of rights work product inventions",
	ClausePriceRestrict: "price increase fees pricing adjustment cap fixed price",
	ClauseNonCompete:    "non-compete exclusivity non-solicitation of customers competing business",
	ClauseTermination:   "termination for convenience terminate without cause written notice",
	ClauseGoverningLaw:  "governing law jurisdiction laws of the state venue courts",
}

var clauseShapes = map[ClauseType]string{
	ClauseIPOwnership:   "who owns intellectual property created under the agreement and whether rights are assigned",
	ClausePriceRestrict: "restrictions on raising or lowering prices, caps, fixed pricing or adjustment mechanisms",
	ClauseNonCompete:    "restrictions on competing, exclusivity obligations or soliciting customers, with scope and duration",
	ClauseTermination:   "whether a party may terminate without cause and the required notice period",
	ClauseGoverningLaw:  "which jurisdiction's law governs the agreement and where disputes are heard",
}

// NewClauseQuery 使用默认探针创建条款查询
func NewClauseQuery(ct ClauseType) ClauseQuery {
	probes := make([]string, 0, len(probeTemplates)+1)
	for _, tpl := range probeTemplates {
		probes = append(probes, fmt.Sprintf(tpl, ct))
	}
	if kw, ok := clauseKeywordProbes[ct]; ok {
		probes = append(probes, kw)
	}
	return ClauseQuery{
		Type:          ct,
		Probes:        probes,
		ExpectedShape: clauseShapes[ct],
	}
}

// DefaultClauseQueries 按固定顺序返回所有条款的默认查询
func DefaultClauseQueries() []ClauseQuery {
	types := AllClauseTypes()
	queries := make([]ClauseQuery, 0, len(types))
	for _, ct := range types {
		queries = append(queries, NewClauseQuery(ct))
	}
	return queries
}

// ScoredChunk 带分数的分块
type ScoredChunk struct {
	Chunk      Chunk     `json:"chunk"`
	Score      float32   `json:"score"`            // 最终分数
	Similarity float32   `json:"similarity"`       // 原始余弦相似度
	Rerank     *float32  `json:"rerank,omitempty"` // 重排序得分（0-10）
	Vector     []float32 `json:"-"`
}

// RetrievalResult 单个条款查询的检索结果
// 临时对象，不持久化
type RetrievalResult struct {
	Clause     ClauseType    `json:"clause"`
	DocumentID string        `json:"document_id"`
	Items      []ScoredChunk `json:"items"`
}

// Empty 检索结果是否为空
// 空结果表示"未找到"，不是错误
func (r RetrievalResult) Empty() bool {
	return len(r.Items) == 0
}

// RiskLevel 风险等级
type RiskLevel string

const (
	RiskLow     RiskLevel = "Low"
	RiskMedium  RiskLevel = "Medium"
	RiskHigh    RiskLevel = "High"
	RiskUnknown RiskLevel = "Unknown"
)

// Citation 引用位置
type Citation struct {
	Page       int    `json:"page"`
	Section    string `json:"section"`
	ChunkIndex int    `json:"chunk_index"`
}

// Redline 修订建议
type Redline struct {
	Revision  string `json:"revision"`
	Rationale string `json:"rationale"`
}

// 置信度
const (
	ConfidenceHigh   = "high"
	ConfidenceMedium = "medium"
	ConfidenceLow    = "low"
	ConfidenceNone   = "none"
)

// ClauseAnalysis 单个条款的分析结果
type ClauseAnalysis struct {
	ClauseType       ClauseType `json:"clause_type"`
	Found            bool       `json:"found"`
	Summary          string     `json:"summary"`
	RiskLevel        RiskLevel  `json:"risk_level"`
	RiskExplanation  string     `json:"risk_explanation,omitempty"`
	Issues           []string   `json:"issues"`
	Recommendations  []string   `json:"recommendations"`
	SuggestedRedline *Redline   `json:"suggested_redline,omitempty"`
	SourceText       string     `json:"source_text,omitempty"`
	Citation         *Citation  `json:"citation,omitempty"`
	Confidence       string     `json:"confidence"`
	Error            string     `json:"error,omitempty"` // 处理失败时的错误标记
}

// NotFoundAnalysis 构造"未找到"结果
// 不包含摘要、引用和修订建议
func NotFoundAnalysis(ct ClauseType) ClauseAnalysis {
	return ClauseAnalysis{
		ClauseType:      ct,
		Found:           false,
		Summary:         NotFoundSummary,
		RiskLevel:       RiskUnknown,
		Issues:          []string{},
		Recommendations: []string{},
		Confidence:      ConfidenceNone,
	}
}

// FailedAnalysis 构造带错误标记的"未找到"结果
func FailedAnalysis(ct ClauseType, err error) ClauseAnalysis {
	a := NotFoundAnalysis(ct)
	if err != nil {
		a.Error = err.Error()
	}
	return a
}

// ReportSummary 报告汇总
type ReportSummary struct {
	Total         int               `json:"total"`
	Found         int               `json:"found"`
	Errors        int               `json:"errors"`
	RiskHistogram map[RiskLevel]int `json:"risk_histogram"`
}

// Report 单个文档的分析报告
type Report struct {
	DocumentID   string           `json:"document_id"`
	DocumentName string           `json:"document_name"`
	AnalyzedAt   time.Time        `json:"analyzed_at"`
	Clauses      []ClauseAnalysis `json:"clauses"`
	Summary      ReportSummary    `json:"summary"`
}

// Summarize 根据条款结果计算汇总
func Summarize(clauses []ClauseAnalysis) ReportSummary {
	s := ReportSummary{
		Total: len(clauses),
		RiskHistogram: map[RiskLevel]int{
			RiskLow:     0,
			RiskMedium:  0,
			RiskHigh:    0,
			RiskUnknown: 0,
		},
	}
	for _, c := range clauses {
		if c.Found {
			s.Found++
		}
		if c.Error != "" {
			s.Errors++
		}
		s.RiskHistogram[c.RiskLevel]++
	}
	return s
}
