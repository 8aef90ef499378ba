package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fyerfyer/contract-auditor/internal/app"
	"github.com/fyerfyer/contract-auditor/internal/document"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/fyerfyer/contract-auditor/internal/services"
	"github.com/fyerfyer/contract-auditor/pkg/report"
	"github.com/spf13/cobra"
)

// standardQuestions --qa 时附加到报告的常见问题
var standardQuestions = []string{
	"What is the governing law for this contract?",
	"What are the termination conditions?",
	"Who owns the intellectual property?",
	"Are there any price restrictions or limitations?",
	"What are the non-compete or exclusivity requirements?",
}

type analyzeOptions struct {
	rebuild   bool
	redline   bool
	qa        bool
	queries   []string
	outputDir string
	jsonOut   bool
	noPDF     bool
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}

	cmd := &cobra.Command{
		Use:   "analyze <contract>...",
		Short: "Index contracts and write a clause risk report for each",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := openApp(root)
			if err != nil {
				return err
			}
			defer closeApp()
			return runAnalyze(cmd, a, args, opts)
		},
	}

	f := cmd.Flags()
	f.BoolVar(&opts.rebuild, "rebuild", false, "Re-embed the contract even if it is already indexed")
	f.BoolVar(&opts.redline, "redline", false, "Include redline suggestions for high-risk clauses")
	f.BoolVar(&opts.qa, "qa", false, "Append answers to the standard contract questions")
	f.StringArrayVarP(&opts.queries, "query", "q", nil, "Ask a question about the contract (repeatable)")
	f.StringVarP(&opts.outputDir, "output-dir", "o", ".", "Directory for generated reports")
	f.BoolVar(&opts.jsonOut, "json", false, "Also write the report as JSON")
	f.BoolVar(&opts.noPDF, "no-pdf", false, "Skip the PDF report")
	return cmd
}

func runAnalyze(cmd *cobra.Command, a *app.App, paths []string, opts *analyzeOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	questions := append([]string{}, opts.queries...)
	if opts.qa {
		questions = append(questions, standardQuestions...)
	}

	for _, path := range paths {
		doc, err := document.LoadDocument(path, "")
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}

		rep, err := a.Contracts.Run(ctx, doc, services.RunOptions{Rebuild: opts.rebuild, Redline: opts.redline})
		if rep == nil {
			return fmt.Errorf("failed to analyze %s: %w", path, err)
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: analysis of %s is incomplete: %v\n", path, err)
		}
		printReport(out, rep)
		fmt.Fprintln(out)

		entries := make([]report.QAEntry, 0, len(questions))
		for _, q := range questions {
			ans, err := a.QA.Ask(ctx, doc.ID, q)
			if err != nil {
				return fmt.Errorf("failed to answer %q: %w", q, err)
			}
			printAnswer(out, ans)
			entries = append(entries, report.QAEntry{
				Question:   q,
				Answer:     ans.Answer,
				Confidence: ans.Confidence,
			})
		}

		if err := writeOutputs(cmd, a, path, rep, entries, opts); err != nil {
			return err
		}
	}
	return nil
}

// reportJSON JSON报告文件内容
type reportJSON struct {
	*models.Report
	QA []report.QAEntry `json:"qa,omitempty"`
}

// writeOutputs 写入 <name>_analysis_report.pdf 和可选的 JSON 文件
func writeOutputs(cmd *cobra.Command, a *app.App, path string, rep *models.Report, entries []report.QAEntry, opts *analyzeOptions) error {
	if opts.noPDF && !opts.jsonOut {
		return nil
	}
	if err := os.MkdirAll(opts.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	base := filepath.Join(opts.outputDir, reportBaseName(path))

	if !opts.noPDF {
		f, err := os.Create(base + ".pdf")
		if err != nil {
			return fmt.Errorf("failed to create report file: %w", err)
		}
		renderer := report.NewRenderer(
			report.WithRedline(opts.redline),
			report.WithQA(entries),
			report.WithModelName(a.LLM.Name()),
		)
		if err := renderer.Render(f, rep); err != nil {
			f.Close()
			return fmt.Errorf("failed to render report: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report saved to %s\n", base+".pdf")
	}

	if opts.jsonOut {
		data, err := json.MarshalIndent(reportJSON{Report: rep, QA: entries}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		if err := os.WriteFile(base+".json", data, 0644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Report saved to %s\n", base+".json")
	}
	return nil
}

func reportBaseName(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name)) + "_analysis_report"
}
