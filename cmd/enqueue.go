package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/regs"
)

func newEnqueueCmd() *cobra.Command {
	var (
		jobType string
		states  []string
		species []string
		tier    string
	)
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueues a discovery or extraction run",
		Long: `Creates one run and enqueues its jobs: one discovery job per state,
or one extraction job per state and species pair. Workers pick the jobs
up on their next poll.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runEnqueueCommand(cmd, jobType, states, species, tier)
		},
	}
	cmd.Flags().StringVar(&jobType, "type", string(regs.JobTypeDiscoverState), "job type: discover_state or extract_state_species")
	cmd.Flags().StringSliceVar(&states, "states", nil, "comma-separated two-letter state codes (required)")
	cmd.Flags().StringSliceVar(&species, "species", nil, "comma-separated species, required for extraction runs")
	cmd.Flags().StringVar(&tier, "tier", string(regs.TierBasic), "model tier: basic or pro")
	_ = cmd.MarkFlagRequired("states")
	return cmd
}

func runEnqueueCommand(cmd *cobra.Command, jobType string, states, species []string, tier string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	jt := regs.JobType(jobType)
	switch jt {
	case regs.JobTypeDiscoverState:
	case regs.JobTypeExtractState:
		if len(species) == 0 {
			return fmt.Errorf("--species is required for %s runs", jt)
		}
	default:
		return fmt.Errorf("unknown job type %q", jobType)
	}

	tr := regs.Tier(tier)
	switch tr {
	case regs.TierBasic, regs.TierPro:
	default:
		return fmt.Errorf("unknown tier %q", tier)
	}

	runID := a.IDs.NewID()
	if err := a.Jobs.CreateRun(cmd.Context(), runID); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	enqueued := 0
	for _, state := range states {
		state = strings.ToUpper(strings.TrimSpace(state))
		if state == "" {
			continue
		}
		jobs := []regs.Job{{RunID: runID, Type: jt, StateCode: state, Tier: tr}}
		if jt == regs.JobTypeExtractState {
			jobs = jobs[:0]
			for _, sp := range species {
				sp = strings.ToLower(strings.TrimSpace(sp))
				if sp == "" {
					continue
				}
				jobs = append(jobs, regs.Job{RunID: runID, Type: jt, StateCode: state, Species: sp, Tier: tr})
			}
		}
		for _, job := range jobs {
			if _, err := a.Jobs.Enqueue(cmd.Context(), job); err != nil {
				return fmt.Errorf("enqueue %s %s/%s: %w", jt, job.StateCode, job.Species, err)
			}
			enqueued++
		}
	}
	if enqueued == 0 {
		return fmt.Errorf("no jobs to enqueue")
	}

	a.Logger.Info("run enqueued",
		zap.String("run_id", runID),
		zap.String("job_type", string(jt)),
		zap.Int("jobs", enqueued))
	fmt.Printf("run %s: %d jobs enqueued\n", runID, enqueued)
	return nil
}
