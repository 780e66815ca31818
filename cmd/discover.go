package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seasonwatch/regs-crawler/internal/crawl"
	"github.com/seasonwatch/regs-crawler/internal/discover"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

func newDiscoverCmd() *cobra.Command {
	var tier string
	cmd := &cobra.Command{
		Use:   "discover <state-code>",
		Short: "Runs portal discovery for one state and prints the result",
		Long: `Crawls the state's official agency domain, asks the model to pick the
hunting and fishing portal pages, persists the links, and prints the
discovery output as JSON. Useful for spot checks without the queue.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiscoverCommand(cmd, args[0], tier)
		},
	}
	cmd.Flags().StringVar(&tier, "tier", string(regs.TierBasic), "model tier: basic or pro")
	return cmd
}

func runDiscoverCommand(cmd *cobra.Command, stateCode, tier string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	stateCode = strings.ToUpper(strings.TrimSpace(stateCode))

	tr := regs.Tier(tier)
	switch tr {
	case regs.TierBasic, regs.TierPro:
	default:
		return fmt.Errorf("unknown tier %q", tier)
	}

	cfg := a.Config
	crawler := crawl.New(a.Fetcher, crawl.Config{
		MaxPages:           cfg.Crawl.MaxPagesPerState,
		MaxDepth:           cfg.Crawl.MaxDepth,
		EarlyStopThreshold: cfg.Crawl.EarlyStopThreshold,
	}, a.Logger)
	d := discover.New(crawler, a.LLM, a.Portals, discover.Config{
		CandidateTopN: cfg.Crawl.CandidateTopN,
		MinConfidence: cfg.Crawl.MinConfidence,
	}, a.Logger)

	res, err := d.Run(cmd.Context(), stateCode, tr, a.LLM.ModelFor(tr))
	if err != nil {
		return fmt.Errorf("discover %s: %w", stateCode, err)
	}
	if res.SkipReason != "" {
		fmt.Printf("skipped: %s\n", res.SkipReason)
		return nil
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Output)
}
