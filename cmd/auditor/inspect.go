package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/fyerfyer/contract-auditor/internal/app"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/spf13/cobra"
)

func newInspectCmd(root *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "inspect [contract-id]",
		Short: "Show indexed contracts and their vector index state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeApp, err := openApp(root)
			if err != nil {
				return err
			}
			defer closeApp()

			if len(args) == 1 {
				return inspectContract(cmd, a, args[0])
			}
			return listContracts(cmd, a, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of contracts to list")
	return cmd
}

// listContracts 列出合同记录以及每个合同在向量库中的分块数
func listContracts(cmd *cobra.Command, a *app.App, limit int) error {
	out := cmd.OutOrStdout()

	recs, total, err := a.ContractRepo.WithContext(cmd.Context()).List(0, limit, nil)
	if err != nil {
		return err
	}
	vectors, err := a.Vectors.Count()
	if err != nil {
		return fmt.Errorf("failed to count vectors: %w", err)
	}

	fmt.Fprintf(out, "Contracts: %d  Vectors: %d  Dimension: %d\n\n", total, vectors, a.Vectors.GetDimension())
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tPAGES\tCHUNKS\tINDEXED\tUPDATED")
	for _, r := range recs {
		indexed, err := a.Vectors.CountByDocument(r.ID)
		if err != nil {
			return fmt.Errorf("failed to count vectors for %s: %w", r.ID, err)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			r.ID, r.Name, r.Status, r.Pages, r.Chunks, indexed, r.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// inspectContract 显示单个合同的索引指纹和最近一次报告的汇总
func inspectContract(cmd *cobra.Command, a *app.App, id string) error {
	out := cmd.OutOrStdout()
	repo := a.ContractRepo.WithContext(cmd.Context())

	rec, err := repo.GetByID(id)
	if err != nil {
		return err
	}
	indexed, err := a.Vectors.CountByDocument(id)
	if err != nil {
		return fmt.Errorf("failed to count vectors: %w", err)
	}
	fingerprint, err := a.Vectors.Fingerprint(id)
	if err != nil {
		return fmt.Errorf("failed to read fingerprint: %w", err)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", rec.ID)
	fmt.Fprintf(tw, "Name\t%s\n", rec.Name)
	fmt.Fprintf(tw, "Status\t%s\n", rec.Status)
	if rec.Error != "" {
		fmt.Fprintf(tw, "Error\t%s\n", rec.Error)
	}
	fmt.Fprintf(tw, "Pages\t%d\n", rec.Pages)
	fmt.Fprintf(tw, "Chunks\t%d\n", rec.Chunks)
	fmt.Fprintf(tw, "Indexed\t%d\n", indexed)
	fmt.Fprintf(tw, "Fingerprint\t%s\n", fingerprint)
	if rec.StoragePath != "" {
		fmt.Fprintf(tw, "Stored at\t%s\n", rec.StoragePath)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	rep, err := repo.LatestReport(id)
	if errors.Is(err, models.ErrAnalysisNotFound) {
		fmt.Fprintln(out, mutedStyle.Render("\nNo analysis report yet"))
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	printReport(out, rep)
	return nil
}
