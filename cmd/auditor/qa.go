package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyerfyer/contract-auditor/internal/app"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/spf13/cobra"
)

type qaOptions struct {
	contractID string
	history    int
}

func newQACmd(root *rootOptions) *cobra.Command {
	opts := &qaOptions{}

	cmd := &cobra.Command{
		Use:   "qa [question]",
		Short: "Ask a question about an analyzed contract",
		Long: `Answer a question using only the indexed text of a contract.
Without --contract the most recently analyzed contract is used.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && opts.history <= 0 {
				return errors.New("a question is required")
			}
			a, closeApp, err := openApp(root)
			if err != nil {
				return err
			}
			defer closeApp()
			return runQA(cmd, a, strings.Join(args, " "), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.contractID, "contract", "c", "", "Contract ID (default: latest analyzed contract)")
	cmd.Flags().IntVar(&opts.history, "history", 0, "Print the last N answered questions")
	return cmd
}

func runQA(cmd *cobra.Command, a *app.App, question string, opts *qaOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	contractID, err := resolveContract(cmd, a, opts.contractID)
	if err != nil {
		return err
	}

	if question != "" {
		ans, err := a.QA.Ask(ctx, contractID, question)
		if err != nil {
			return err
		}
		printAnswer(out, ans)
	}

	if opts.history > 0 {
		records, err := a.QA.History(ctx, contractID, opts.history)
		if err != nil {
			return fmt.Errorf("failed to load question history: %w", err)
		}
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("History (%d)", len(records))))
		for _, r := range records {
			fmt.Fprintf(out, "%s  %s\n", mutedStyle.Render(r.CreatedAt.Format("2006-01-02 15:04")), r.Question)
			fmt.Fprintf(out, "  %s %s\n", r.Answer, mutedStyle.Render("("+r.Confidence+")"))
		}
	}
	return nil
}

// resolveContract 未指定合同时使用最近一次分析完成的合同
func resolveContract(cmd *cobra.Command, a *app.App, id string) (string, error) {
	if id != "" {
		return id, nil
	}
	recs, _, err := a.ContractRepo.WithContext(cmd.Context()).List(0, 1, map[string]interface{}{
		"status": models.ContractCompleted,
	})
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "", errors.New("no contract has been analyzed yet, run 'auditor analyze' first")
	}
	return recs[0].ID, nil
}
