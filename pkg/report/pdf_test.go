package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fyerfyer/contract-auditor/internal/document"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *models.Report {
	clauses := make([]models.ClauseAnalysis, 0, 5)
	for _, ct := range models.AllClauseTypes() {
		clauses = append(clauses, models.NotFoundAnalysis(ct))
	}
	clauses[1] = models.ClauseAnalysis{
		ClauseType:      models.ClausePriceRestrict,
		Found:           true,
		Summary:         "Supplier may raise prices at any time.",
		RiskLevel:       models.RiskHigh,
		RiskExplanation: "Unilateral price changes without a cap.",
		Issues:          []string{"No cap on increases"},
		Recommendations: []string{"Add an annual cap"},
		SourceText:      "Supplier may increase prices at its sole discretion.",
		Citation:        &models.Citation{Page: 3, Section: "4. PRICING", ChunkIndex: 7},
		SuggestedRedline: &models.Redline{
			Revision:  "Price increases are limited to 3% per year.",
			Rationale: "Caps exposure.",
		},
		Confidence: models.ConfidenceHigh,
	}
	clauses[4].Error = "clause analysis timed out"

	return &models.Report{
		DocumentID:   "doc-123",
		DocumentName: "supply_agreement.pdf",
		AnalyzedAt:   time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC),
		Clauses:      clauses,
		Summary:      models.Summarize(clauses),
	}
}

func pageCount(t *testing.T, data []byte) int {
	t.Helper()
	n, err := api.PageCount(bytes.NewReader(data), model.NewDefaultConfiguration())
	require.NoError(t, err)
	return n
}

func extractText(t *testing.T, data []byte) string {
	t.Helper()
	pages, err := document.NewPDFParser().ParseReader(bytes.NewReader(data), "report.pdf")
	require.NoError(t, err)
	var sb strings.Builder
	for _, p := range pages {
		sb.WriteString(p.Text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func TestRender(t *testing.T) {
	t.Run("Report layout", func(t *testing.T) {
		data, err := NewRenderer(WithModelName("llama3.2")).RenderBytes(sampleReport())
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("%PDF-")))

		// 标题页 + 摘要页 + 每个条款一页
		assert.Equal(t, 7, pageCount(t, data))

		text := extractText(t, data)
		assert.Contains(t, text, reportTitle)
		assert.Contains(t, text, "EXECUTIVE SUMMARY")
		assert.Contains(t, text, "CLAUSE: Governing Law")
		assert.Contains(t, text, "Risk Level: High")
		assert.Contains(t, text, "NOT FOUND")
		assert.NotContains(t, text, "Redline Suggestion:")
	})

	t.Run("Redline enabled", func(t *testing.T) {
		data, err := NewRenderer(WithRedline(true)).RenderBytes(sampleReport())
		require.NoError(t, err)
		assert.Contains(t, extractText(t, data), "Redline Suggestion:")
	})

	t.Run("QA section", func(t *testing.T) {
		data, err := NewRenderer(WithQA([]QAEntry{{
			Question:   "Who owns the work product?",
			Answer:     "The customer owns all deliverables.",
			Confidence: models.ConfidenceHigh,
		}})).RenderBytes(sampleReport())
		require.NoError(t, err)
		assert.Equal(t, 8, pageCount(t, data))
		assert.Contains(t, extractText(t, data), "INTERACTIVE Q&A RESULTS")
	})

	t.Run("Nil report", func(t *testing.T) {
		_, err := NewRenderer().RenderBytes(nil)
		assert.Error(t, err)
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdef", 2))
}
