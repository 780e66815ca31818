package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/approval"
	"github.com/seasonwatch/regs-crawler/internal/extract"
	"github.com/seasonwatch/regs-crawler/internal/pipeline"
)

func newCheckCmd() *cobra.Command {
	var (
		stateCode string
		category  string
	)
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Checks the configured sources for one state and category",
		Long: `Fetches every extractable regulation source for the state, detects
content changes by hash, re-extracts changed sources, and routes each
result through the approval gate. High-confidence extractions are
approved in place; the rest land in the pending review table.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheckCommand(cmd, stateCode, category)
		},
	}
	cmd.Flags().StringVar(&stateCode, "state", "", "two-letter state code (required)")
	cmd.Flags().StringVar(&category, "category", "hunting", "source category: hunting or fishing")
	_ = cmd.MarkFlagRequired("state")
	return cmd
}

func runCheckCommand(cmd *cobra.Command, stateCode, category string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	stateCode = strings.ToUpper(strings.TrimSpace(stateCode))
	category = strings.ToLower(strings.TrimSpace(category))

	checker := pipeline.NewChecker(
		a.Fetcher,
		a.Hasher,
		extract.NewExtractor(a.LLM, a.Logger),
		a.Regulations,
		a.Blob,
		approval.NewGate(a.Config.Check.AutoApproveThreshold),
		a.Clock,
		pipeline.Config{
			MinContentChars:   a.Config.Check.MinContentChars,
			ExtractionVersion: a.Config.Check.ExtractionVersion,
			StoragePrefix:     a.Config.Storage.Prefix,
			Model:             a.Config.LLM.ModelBasic,
		},
		a.Logger,
	)

	summary, err := checker.Run(cmd.Context(), stateCode, category)
	if err != nil {
		return fmt.Errorf("check %s/%s: %w", stateCode, category, err)
	}

	a.Logger.Info("check finished",
		zap.String("state_code", stateCode),
		zap.String("category", category),
		zap.Int("checked", summary.Checked),
		zap.Int("auto_approved", summary.AutoApproved),
		zap.Int("pending", summary.Pending))
	fmt.Printf("checked %d sources: %d auto-approved, %d pending review\n",
		summary.Checked, summary.AutoApproved, summary.Pending)
	return nil
}
