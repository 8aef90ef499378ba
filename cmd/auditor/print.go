package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/fyerfyer/contract-auditor/internal/services"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	riskStyles = map[models.RiskLevel]lipgloss.Style{
		models.RiskHigh:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
		models.RiskMedium:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		models.RiskLow:     lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		models.RiskUnknown: mutedStyle,
	}
)

func riskLabel(level models.RiskLevel) string {
	style, ok := riskStyles[level]
	if !ok {
		style = mutedStyle
	}
	return style.Render(strings.ToUpper(string(level)))
}

// printReport 输出报告的逐条款结果和汇总
func printReport(w io.Writer, rep *models.Report) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Contract: %s (%s)", rep.DocumentName, rep.DocumentID)))
	fmt.Fprintln(w)

	for _, c := range rep.Clauses {
		fmt.Fprintf(w, "%s  [%s]\n", titleStyle.Render(string(c.ClauseType)), riskLabel(c.RiskLevel))
		switch {
		case c.Error != "":
			fmt.Fprintf(w, "  %s\n", mutedStyle.Render("error: "+c.Error))
		case !c.Found:
			fmt.Fprintf(w, "  %s\n", mutedStyle.Render(models.NotFoundSummary))
		default:
			fmt.Fprintf(w, "  %s\n", c.Summary)
			if c.Citation != nil {
				fmt.Fprintf(w, "  %s\n", mutedStyle.Render(fmt.Sprintf("Page %d, %s", c.Citation.Page, c.Citation.Section)))
			}
			for _, issue := range c.Issues {
				fmt.Fprintf(w, "  - %s\n", issue)
			}
			if c.SuggestedRedline != nil {
				fmt.Fprintf(w, "  Redline: %s\n", c.SuggestedRedline.Revision)
			}
		}
		fmt.Fprintln(w)
	}

	s := rep.Summary
	fmt.Fprintln(w, titleStyle.Render("Summary"))
	fmt.Fprintf(w, "  Clauses found: %d/%d\n", s.Found, s.Total)
	fmt.Fprintf(w, "  High risk:     %d\n", s.RiskHistogram[models.RiskHigh])
	fmt.Fprintf(w, "  Medium risk:   %d\n", s.RiskHistogram[models.RiskMedium])
	fmt.Fprintf(w, "  Low risk:      %d\n", s.RiskHistogram[models.RiskLow])
	if s.Errors > 0 {
		fmt.Fprintf(w, "  Errors:        %d\n", s.Errors)
	}
	if high := s.RiskHistogram[models.RiskHigh]; high > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, riskStyles[models.RiskHigh].Render(
			fmt.Sprintf("WARNING: %d high risk clause(s) require immediate attention", high)))
	}
}

// printAnswer 输出问答结果和引用来源
func printAnswer(w io.Writer, ans *services.Answer) {
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("Q:"), ans.Question)
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("A:"), ans.Answer)
	meta := "confidence: " + ans.Confidence
	if ans.Cached {
		meta += ", cached"
	}
	fmt.Fprintln(w, mutedStyle.Render(meta))
	for i, src := range ans.Sources {
		fmt.Fprintf(w, "  [%d] Page %d, Section: %s\n", i+1, src.Page, src.Section)
	}
	fmt.Fprintln(w)
}
