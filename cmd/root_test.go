package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/app"
	"github.com/seasonwatch/regs-crawler/internal/config"
	"github.com/seasonwatch/regs-crawler/internal/id/uuid"
	"github.com/seasonwatch/regs-crawler/internal/store/memory"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

// injectFakeApp swaps the app factory for one backed by in-memory
// stores, and restores it when the test finishes.
func injectFakeApp(t *testing.T) *memory.JobStore {
	t.Helper()

	ids := uuid.New()
	clock := fixedClock{t: time.Date(2026, time.September, 1, 9, 0, 0, 0, time.UTC)}
	jobs := memory.NewJobStore(ids, clock)

	prev := newApp
	newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
		return &app.App{
			Config:      cfg,
			Logger:      zap.NewNop(),
			Jobs:        jobs,
			Portals:     memory.NewPortalStore(),
			Regulations: memory.NewRegulationStore(),
			Blob:        memory.NewBlobStore(),
			Publisher:   memory.NewPublisher(),
			IDs:         ids,
			Clock:       clock,
		}, nil
	}
	t.Cleanup(func() { newApp = prev })
	return jobs
}

func TestEnqueueCommandCreatesJobs(t *testing.T) {
	jobs := injectFakeApp(t)
	t.Setenv("REGS_DB_DSN", "postgres://unused")
	t.Setenv("REGS_LLM_API_KEY", "test-key")

	root := newRootCmd()
	root.SetArgs([]string{"enqueue",
		"--type", "extract_state_species",
		"--states", "PA,AL",
		"--species", "deer"})
	require.NoError(t, root.Execute())

	claimed, err := jobs.Claim(context.Background(), "w", 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
}

func TestEnqueueCommandRejectsExtractionWithoutSpecies(t *testing.T) {
	injectFakeApp(t)
	t.Setenv("REGS_DB_DSN", "postgres://unused")
	t.Setenv("REGS_LLM_API_KEY", "test-key")

	root := newRootCmd()
	root.SetArgs([]string{"enqueue",
		"--type", "extract_state_species",
		"--states", "PA"})
	require.Error(t, root.Execute())
}

func TestRootCommandFailsWithoutRequiredConfig(t *testing.T) {
	injectFakeApp(t)

	root := newRootCmd()
	root.SetArgs([]string{"enqueue", "--states", "PA"})
	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "load config")
}
