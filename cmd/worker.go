package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/api"
	"github.com/seasonwatch/regs-crawler/internal/app"
	"github.com/seasonwatch/regs-crawler/internal/crawl"
	"github.com/seasonwatch/regs-crawler/internal/discover"
	"github.com/seasonwatch/regs-crawler/internal/extract"
	"github.com/seasonwatch/regs-crawler/internal/pdf"
	"github.com/seasonwatch/regs-crawler/internal/regs"
	"github.com/seasonwatch/regs-crawler/internal/worker"
)

func newWorkerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Runs the job worker loop and the ops HTTP server",
		Long: `Claims discovery and extraction jobs from the queue and processes
them until interrupted. Also serves /healthz, /readyz, /metrics, and the
v1 run API on the configured port.`,
		RunE: runWorkerCommand,
	}
}

func runWorkerCommand(cmd *cobra.Command, _ []string) error {
	a, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := a.Config

	w := worker.New(a.Jobs, a.Publisher, buildProcessors(a), a.Clock, worker.Config{
		WorkerID:          workerID(a),
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.PollInterval(),
		JobBudget:         cfg.JobBudget(),
		DrainTimeout:      cfg.ShutdownDrain(),
		HeartbeatInterval: time.Duration(cfg.Worker.HeartbeatSeconds) * time.Second,
	}, a.Logger)

	srv := api.New(a.Jobs, a.IDs, a.Clock, w, a.Ready, api.Config{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
	}, a.Logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Info("ops server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("ops server failed", zap.Error(err))
			stop()
		}
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		// Signal received. Run drains in-flight jobs before returning.
		select {
		case <-workerDone:
		case <-time.After(cfg.ShutdownDrain() + 5*time.Second):
			a.Logger.Warn("worker did not drain in time")
		}
	case <-workerDone:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		a.Logger.Warn("ops server shutdown failed", zap.Error(err))
	}

	a.Logger.Info("worker stopped")
	return nil
}

func buildProcessors(a *app.App) map[regs.JobType]worker.Processor {
	cfg := a.Config

	crawler := crawl.New(a.Fetcher, crawl.Config{
		MaxPages:           cfg.Crawl.MaxPagesPerState,
		MaxDepth:           cfg.Crawl.MaxDepth,
		EarlyStopThreshold: cfg.Crawl.EarlyStopThreshold,
	}, a.Logger)

	discoverer := discover.New(crawler, a.LLM, a.Portals, discover.Config{
		CandidateTopN: cfg.Crawl.CandidateTopN,
		MinConfidence: cfg.Crawl.MinConfidence,
	}, a.Logger)

	pdfs := pdf.New(a.Fetcher, pdf.Config{
		MaxBytes:        int64(cfg.PDF.MaxBytes),
		MaxPages:        cfg.PDF.MaxPages,
		MaxContextChars: cfg.PDF.MaxContextChars,
	}, a.Logger)

	extractor := extract.NewExtractor(a.LLM, a.Logger)

	return map[regs.JobType]worker.Processor{
		regs.JobTypeDiscoverState: worker.NewDiscoverProcessor(discoverer, a.LLM),
		regs.JobTypeExtractState: worker.NewExtractProcessor(
			a.Fetcher, a.Portals, pdfs, extractor, a.LLM,
			a.Hasher, a.Blob, a.Regulations, a.Clock,
			worker.ExtractConfig{
				MinContentChars:   cfg.Check.MinContentChars,
				MinConfidence:     cfg.Check.MinConfidence,
				PDFMaxChars:       cfg.PDF.MaxContextChars,
				PublishThreshold:  cfg.Check.PublishThreshold,
				ExtractionVersion: cfg.Check.ExtractionVersion,
				StoragePrefix:     cfg.Storage.Prefix,
			}, a.Logger),
	}
}

func workerID(a *app.App) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker-" + a.IDs.NewID()
	}
	return host
}
