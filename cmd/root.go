// Package cmd defines the CLI commands for the regs-crawler executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/app"
	"github.com/seasonwatch/regs-crawler/internal/config"
	"github.com/seasonwatch/regs-crawler/internal/logging"
	"github.com/seasonwatch/regs-crawler/internal/metrics"
)

var cfgFile string

type appKeyType struct{}

var appKey appKeyType

// newApp is a variable so tests can swap in a factory that injects
// fakes instead of connecting to real services.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.NewApp(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regs-crawler",
		Short: "Crawls state wildlife agency sites and catalogs regulation sources",
		Long: `regs-crawler maintains the fleet-wide catalog of official hunting and
fishing regulation sources. It discovers agency portal pages, extracts
season data with LLM assistance, and routes extracted summaries through
a confidence-gated approval flow.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("build logger: %w", err)
			}
			metrics.Init()

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
				_ = a.Logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "optional config file; all keys can also come from REGS_* env vars")

	cmd.AddCommand(newWorkerCmd())
	cmd.AddCommand(newCheckCmd())
	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newDiscoverCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application services not initialized")
	}
	return a, nil
}

// Execute runs the root command and maps failures to exit code 1.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
