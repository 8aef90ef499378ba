package report

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/jung-kurt/gofpdf"
)

const (
	// 报告标题
	reportTitle = "AI LEGAL CONTRACT ANALYSIS REPORT"
	// 摘录原文的最大长度
	maxSourceText = 1000
	// 正文行高（mm）
	lineHeight = 6.0
)

type rgb struct{ r, g, b int }

var (
	colorText     = rgb{44, 62, 80}
	colorHeading  = rgb{52, 73, 94}
	colorMuted    = rgb{127, 140, 141}
	colorRiskHigh = rgb{231, 76, 60}
	colorRiskMed  = rgb{243, 156, 18}
	colorRiskLow  = rgb{39, 174, 96}
	colorStripe   = rgb{236, 240, 241}
)

// QAEntry 报告附带的问答记录
type QAEntry struct {
	Question   string
	Answer     string
	Confidence string
}

// Options 报告渲染选项
type Options struct {
	Redline    bool      // 输出修订建议
	QA         []QAEntry // 附加的问答结果
	SystemName string    // 分析系统名称
	ModelName  string    // 使用的模型名称
}

// Renderer PDF报告渲染器
type Renderer struct {
	opts Options
}

// Option 渲染器配置选项
type Option func(*Options)

// WithRedline 输出修订建议
func WithRedline(enabled bool) Option {
	return func(o *Options) {
		o.Redline = enabled
	}
}

// WithQA 附加问答结果
func WithQA(entries []QAEntry) Option {
	return func(o *Options) {
		o.QA = entries
	}
}

// WithModelName 设置标题页显示的模型名称
func WithModelName(name string) Option {
	return func(o *Options) {
		o.ModelName = name
	}
}

// NewRenderer 创建报告渲染器
func NewRenderer(opts ...Option) *Renderer {
	o := Options{
		SystemName: "Contract Auditor",
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Renderer{opts: o}
}

// Render 将分析报告渲染为PDF写入w
func (r *Renderer) Render(w io.Writer, rep *models.Report) error {
	if rep == nil {
		return fmt.Errorf("report is nil")
	}

	pdf := gofpdf.New("P", "mm", "Letter", "")
	pdf.SetMargins(19, 25, 19)
	pdf.SetAutoPageBreak(true, 19)
	pdf.SetTitle(reportTitle, false)
	pdf.SetCreator(r.opts.SystemName, false)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Helvetica", "I", 8)
		setColor(pdf, colorMuted)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	// 内置字体只支持cp1252
	out := &writer{pdf: pdf, tr: pdf.UnicodeTranslatorFromDescriptor("")}

	out.titlePage(rep, r.opts)
	out.executiveSummary(rep)
	for _, c := range rep.Clauses {
		out.clause(c, r.opts.Redline)
	}
	if len(r.opts.QA) > 0 {
		out.qaSection(r.opts.QA)
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render PDF report: %w", err)
	}
	return nil
}

// RenderBytes 将分析报告渲染为PDF字节
func (r *Renderer) RenderBytes(rep *models.Report) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.Render(&buf, rep); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writer 封装gofpdf的排版操作
type writer struct {
	pdf *gofpdf.Fpdf
	tr  func(string) string
}

func setColor(pdf *gofpdf.Fpdf, c rgb) {
	pdf.SetTextColor(c.r, c.g, c.b)
}

func (w *writer) heading(text string, size float64, c rgb) {
	w.pdf.SetFont("Helvetica", "B", size)
	setColor(w.pdf, c)
	w.pdf.MultiCell(0, size*0.5, w.tr(text), "", "L", false)
	w.pdf.Ln(2)
}

func (w *writer) body(text string) {
	w.pdf.SetFont("Helvetica", "", 11)
	setColor(w.pdf, colorText)
	w.pdf.MultiCell(0, lineHeight, w.tr(text), "", "J", false)
	w.pdf.Ln(2)
}

func (w *writer) label(name, value string) {
	w.pdf.SetFont("Helvetica", "B", 11)
	setColor(w.pdf, colorText)
	w.pdf.CellFormat(40, lineHeight, w.tr(name), "", 0, "L", false, 0, "")
	w.pdf.SetFont("Helvetica", "", 11)
	w.pdf.MultiCell(0, lineHeight, w.tr(value), "", "L", false)
	w.pdf.Ln(2)
}

func (w *writer) titlePage(rep *models.Report, opts Options) {
	w.pdf.AddPage()
	w.pdf.Ln(50)
	w.pdf.SetFont("Helvetica", "B", 22)
	setColor(w.pdf, rgb{26, 26, 26})
	w.pdf.MultiCell(0, 12, reportTitle, "", "C", false)
	w.pdf.Ln(12)

	name := rep.DocumentName
	if name == "" {
		name = rep.DocumentID
	}
	analyzedAt := rep.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = time.Now()
	}
	w.label("Contract:", name)
	w.label("Document ID:", rep.DocumentID)
	w.label("Analysis Date:", analyzedAt.Format("January 2, 2006 at 3:04 PM"))
	w.label("Analysis System:", opts.SystemName)
	if opts.ModelName != "" {
		w.label("AI Model:", opts.ModelName)
	}
}

func (w *writer) executiveSummary(rep *models.Report) {
	w.pdf.AddPage()
	w.heading("EXECUTIVE SUMMARY", 16, colorHeading)

	s := rep.Summary
	if s.Total == 0 && len(rep.Clauses) > 0 {
		s = models.Summarize(rep.Clauses)
	}
	rows := [][2]string{
		{"Total Clauses Analyzed", fmt.Sprint(s.Total)},
		{"Clauses Found", fmt.Sprint(s.Found)},
		{"Clauses Not Found", fmt.Sprint(s.Total - s.Found)},
		{"High Risk Clauses", fmt.Sprint(s.RiskHistogram[models.RiskHigh])},
		{"Medium Risk Clauses", fmt.Sprint(s.RiskHistogram[models.RiskMedium])},
		{"Low Risk Clauses", fmt.Sprint(s.RiskHistogram[models.RiskLow])},
	}
	if s.Errors > 0 {
		rows = append(rows, [2]string{"Clauses With Errors", fmt.Sprint(s.Errors)})
	}

	// 表头
	w.pdf.SetFont("Helvetica", "B", 12)
	w.pdf.SetFillColor(colorHeading.r, colorHeading.g, colorHeading.b)
	w.pdf.SetTextColor(245, 245, 245)
	w.pdf.CellFormat(110, 9, "Metric", "1", 0, "L", true, 0, "")
	w.pdf.CellFormat(50, 9, "Count", "1", 1, "L", true, 0, "")

	w.pdf.SetFont("Helvetica", "", 11)
	setColor(w.pdf, colorText)
	for i, row := range rows {
		if i%2 == 1 {
			w.pdf.SetFillColor(colorStripe.r, colorStripe.g, colorStripe.b)
		} else {
			w.pdf.SetFillColor(255, 255, 255)
		}
		w.pdf.CellFormat(110, 8, row[0], "1", 0, "L", true, 0, "")
		w.pdf.CellFormat(50, 8, row[1], "1", 1, "L", true, 0, "")
	}
	w.pdf.Ln(8)

	if high := s.RiskHistogram[models.RiskHigh]; high > 0 {
		w.pdf.SetFont("Helvetica", "B", 12)
		setColor(w.pdf, colorRiskHigh)
		w.pdf.MultiCell(0, lineHeight,
			fmt.Sprintf("WARNING: %d HIGH RISK clause(s) identified. Immediate review recommended.", high),
			"", "L", false)
	}
}

func (w *writer) clause(c models.ClauseAnalysis, redline bool) {
	w.pdf.AddPage()
	w.heading("CLAUSE: "+string(c.ClauseType), 16, colorHeading)

	if !c.Found {
		w.pdf.SetFont("Helvetica", "B", 11)
		setColor(w.pdf, colorText)
		w.pdf.MultiCell(0, lineHeight, "NOT FOUND - This clause was not identified in the contract.", "", "L", false)
		if c.Error != "" {
			w.pdf.Ln(2)
			w.pdf.SetFont("Helvetica", "I", 9)
			setColor(w.pdf, colorMuted)
			w.pdf.MultiCell(0, 5, w.tr("Analysis error: "+c.Error), "", "L", false)
		}
		return
	}

	w.pdf.SetFont("Helvetica", "B", 11)
	setColor(w.pdf, colorRiskLow)
	w.pdf.MultiCell(0, lineHeight, "FOUND", "", "L", false)
	w.pdf.Ln(2)

	w.pdf.SetFont("Helvetica", "B", 12)
	setColor(w.pdf, riskColor(c.RiskLevel))
	w.pdf.MultiCell(0, lineHeight, "Risk Level: "+string(c.RiskLevel), "", "L", false)
	w.pdf.Ln(3)

	if c.Summary != "" {
		w.heading("Summary (Plain English):", 13, colorHeading)
		w.body(c.Summary)
	}
	if c.RiskExplanation != "" {
		w.heading("Risk Assessment:", 13, colorHeading)
		w.body(c.RiskExplanation)
	}
	if len(c.Issues) > 0 {
		w.heading("Issues:", 13, colorHeading)
		w.bullets(c.Issues)
	}
	if len(c.Recommendations) > 0 {
		w.heading("Recommendations:", 13, colorHeading)
		w.bullets(c.Recommendations)
	}
	if c.SourceText != "" {
		w.heading("Extracted Clause Text:", 13, colorHeading)
		w.body(truncate(c.SourceText, maxSourceText))
	}
	if c.Citation != nil {
		w.heading("Citations:", 13, colorHeading)
		w.pdf.SetFont("Helvetica", "", 9)
		setColor(w.pdf, colorMuted)
		w.pdf.SetX(w.pdf.GetX() + 7)
		w.pdf.MultiCell(0, 5, w.tr(fmt.Sprintf("[1] Page %d, Section: %s", c.Citation.Page, c.Citation.Section)), "", "L", false)
		w.pdf.Ln(3)
	}
	if redline && c.SuggestedRedline != nil {
		w.heading("Redline Suggestion:", 13, colorHeading)
		w.body(c.SuggestedRedline.Revision)
		if c.SuggestedRedline.Rationale != "" {
			w.pdf.SetFont("Helvetica", "I", 10)
			setColor(w.pdf, colorMuted)
			w.pdf.MultiCell(0, 5, w.tr("Rationale: "+c.SuggestedRedline.Rationale), "", "L", false)
		}
	}
}

func (w *writer) bullets(items []string) {
	w.pdf.SetFont("Helvetica", "", 11)
	setColor(w.pdf, colorText)
	for _, item := range items {
		w.pdf.MultiCell(0, lineHeight, w.tr("- "+item), "", "L", false)
	}
	w.pdf.Ln(2)
}

func (w *writer) qaSection(entries []QAEntry) {
	w.pdf.AddPage()
	w.heading("INTERACTIVE Q&A RESULTS", 16, colorHeading)

	for i, qa := range entries {
		w.heading(fmt.Sprintf("Q%d: %s", i+1, qa.Question), 12, colorHeading)
		w.body("A: " + qa.Answer)
		if qa.Confidence != "" {
			w.pdf.SetFont("Helvetica", "I", 9)
			setColor(w.pdf, colorMuted)
			w.pdf.MultiCell(0, 5, "Confidence: "+qa.Confidence, "", "L", false)
		}
		w.pdf.Ln(4)
	}
}

func riskColor(level models.RiskLevel) rgb {
	switch level {
	case models.RiskHigh:
		return colorRiskHigh
	case models.RiskMedium:
		return colorRiskMed
	case models.RiskLow:
		return colorRiskLow
	default:
		return colorMuted
	}
}

// truncate 按字符截断文本
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
