// Package worker implements the job claim loop that drives discovery
// and extraction across the fleet.
package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/metrics"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// Processor executes one claimed job. Structural skips come back inside
// the result with a skip reason; only unexpected conditions return an
// error.
type Processor interface {
	Process(ctx context.Context, job regs.Job) (regs.JobResult, error)
}

// Config controls Worker behavior.
type Config struct {
	WorkerID string
	// Concurrency is the number of jobs in flight at once.
	Concurrency int
	// PollInterval is the idle delay between claim attempts.
	PollInterval time.Duration
	// JobBudget is the wall-clock budget for one job.
	JobBudget time.Duration
	// DrainTimeout bounds the wait for in-flight jobs at shutdown.
	DrainTimeout time.Duration
	// HeartbeatInterval is the liveness upsert cadence.
	HeartbeatInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.JobBudget <= 0 {
		c.JobBudget = 120 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 150 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
}

// Worker polls the job store and runs claimed jobs on a bounded pool.
// Mutual exclusion lives entirely in the store's atomic claim; workers
// never coordinate with each other in process.
type Worker struct {
	jobs       regs.JobStore
	publisher  regs.Publisher
	processors map[regs.JobType]Processor
	clock      regs.Clock
	cfg        Config
	logger     *zap.Logger

	active   atomic.Int64
	claimed  atomic.Int64
	finished atomic.Int64
}

// New constructs a Worker.
func New(
	jobs regs.JobStore,
	publisher regs.Publisher,
	processors map[regs.JobType]Processor,
	clock regs.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	cfg.applyDefaults()
	return &Worker{
		jobs:       jobs,
		publisher:  publisher,
		processors: processors,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.With(zap.String("worker_id", cfg.WorkerID)),
	}
}

// Run blocks, claiming and processing jobs until ctx finishes, then
// drains in-flight jobs up to the configured timeout.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker starting",
		zap.Int("concurrency", w.cfg.Concurrency),
		zap.Duration("poll_interval", w.cfg.PollInterval))

	slots := make(chan struct{}, w.cfg.Concurrency)
	var wg sync.WaitGroup

	hbCtx, hbCancel := context.WithCancel(context.Background())
	defer hbCancel()
	go w.heartbeatLoop(hbCtx)

	for ctx.Err() == nil {
		free := w.cfg.Concurrency - len(slots)
		if free == 0 {
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}

		jobs, err := w.jobs.Claim(ctx, w.cfg.WorkerID, free)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.logger.Error("claim failed", zap.Error(err))
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}
		if len(jobs) == 0 {
			w.sleep(ctx, w.cfg.PollInterval)
			continue
		}

		for _, job := range jobs {
			slots <- struct{}{}
			w.claimed.Add(1)
			w.active.Add(1)
			wg.Add(1)
			go func(job regs.Job) {
				defer func() {
					<-slots
					w.active.Add(-1)
					w.finished.Add(1)
					wg.Done()
				}()
				w.runJob(job)
			}(job)
		}
	}

	w.logger.Info("worker draining", zap.Int64("active_jobs", w.active.Load()))
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		w.logger.Info("worker stopped cleanly")
	case <-time.After(w.cfg.DrainTimeout):
		w.logger.Warn("drain timeout exceeded, abandoning in-flight jobs",
			zap.Int64("abandoned", w.active.Load()))
	}
}

// runJob owns one claimed job end to end. A panic inside a processor
// fails the job, never the process.
func (w *Worker) runJob(job regs.Job) {
	log := w.logger.With(
		zap.String("job_id", job.ID),
		zap.String("job_type", string(job.Type)),
		zap.String("state_code", job.StateCode))

	started := w.clock.Now()
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.JobBudget)
	defer cancel()

	if !w.runActive(ctx, job, log) {
		w.complete(ctx, job, regs.JobStatusCanceled, regs.JobResult{
			SkipReason: regs.SkipRunStopped,
			Error:      "Run stopped",
		}, started, log)
		return
	}

	result, err := w.processJob(ctx, job)
	result.DurationMs = w.clock.Now().Sub(started).Milliseconds()

	switch {
	case err != nil && ctx.Err() == context.DeadlineExceeded:
		result.SkipReason = regs.SkipTimeout
		result.Error = fmt.Sprintf("job budget exceeded after %s: %v", w.cfg.JobBudget, ctx.Err())
		w.failJob(job, result, started, log)
	case err != nil:
		result.Error = err.Error()
		w.failJob(job, result, started, log)
	case result.SkipReason != "":
		log.Info("job skipped", zap.String("skip_reason", result.SkipReason))
		w.complete(ctx, job, regs.JobStatusSkipped, result, started, log)
	default:
		result.Success = true
		w.complete(ctx, job, regs.JobStatusDone, result, started, log)
	}
}

func (w *Worker) processJob(ctx context.Context, job regs.Job) (result regs.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in processor: %v", r)
		}
	}()
	proc, ok := w.processors[job.Type]
	if !ok {
		return regs.JobResult{}, fmt.Errorf("no processor for job type %q", job.Type)
	}
	return proc.Process(ctx, job)
}

// runActive checks the parent run before doing any work. Stopping or
// stopped runs cancel the job cooperatively.
func (w *Worker) runActive(ctx context.Context, job regs.Job, log *zap.Logger) bool {
	if job.RunID == "" {
		return true
	}
	status, err := w.jobs.RunStatus(ctx, job.RunID)
	if err != nil {
		log.Warn("run status check failed", zap.Error(err))
		return true
	}
	if !status.Active() {
		log.Info("run no longer active", zap.String("run_status", string(status)))
		return false
	}
	return true
}

func (w *Worker) failJob(job regs.Job, result regs.JobResult, started time.Time, log *zap.Logger) {
	// Completion writes happen outside the job budget so a timed-out
	// job still records its outcome.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result.Retryable = IsRetryableError(fmt.Errorf("%s", result.Error))
	if result.Retryable && job.Attempts < job.MaxAttempts {
		log.Warn("job failed, eligible for reclaim",
			zap.String("error", result.Error),
			zap.Int("attempts", job.Attempts),
			zap.Int("max_attempts", job.MaxAttempts))
		w.appendEvent(ctx, job.ID, regs.EventWarn,
			fmt.Sprintf("attempt %d/%d failed: %s", job.Attempts, job.MaxAttempts, result.Error))
	} else {
		log.Error("job failed", zap.String("error", result.Error))
		w.appendEvent(ctx, job.ID, regs.EventError, result.Error)
	}
	w.complete(ctx, job, regs.JobStatusFailed, result, started, log)
}

func (w *Worker) complete(ctx context.Context, job regs.Job, status regs.JobStatus, result regs.JobResult, started time.Time, log *zap.Logger) {
	if err := w.jobs.Complete(ctx, job.ID, status, result); err != nil {
		log.Error("complete job failed", zap.Error(err))
		return
	}
	metrics.ObserveJob(string(job.Type), string(status), w.clock.Now().Sub(started))

	ev := regs.Event{
		JobID:      job.ID,
		RunID:      job.RunID,
		Type:       job.Type,
		StateCode:  job.StateCode,
		Species:    job.Species,
		Status:     status,
		SkipReason: result.SkipReason,
		FinishedAt: w.clock.Now(),
	}
	if err := w.publisher.Publish(ctx, ev); err != nil {
		log.Warn("publish completion event failed", zap.Error(err))
	}

	if job.RunID != "" && status.Terminal() {
		done, err := w.jobs.FinishRunIfDrained(ctx, job.RunID)
		if err != nil {
			log.Warn("finish run check failed", zap.Error(err))
		} else if done {
			log.Info("run completed", zap.String("run_id", job.RunID))
		}
	}
}

func (w *Worker) appendEvent(ctx context.Context, jobID string, level regs.EventLevel, message string) {
	if err := w.jobs.AppendEvent(ctx, jobID, level, message); err != nil {
		w.logger.Warn("append job event failed", zap.Error(err))
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			active := int(w.active.Load())
			metrics.SetActiveJobs(active)
			hb := regs.Heartbeat{
				WorkerID:      w.cfg.WorkerID,
				ActiveJobs:    active,
				ClaimedTotal:  w.claimed.Load(),
				FinishedTotal: w.finished.Load(),
				UpdatedAt:     w.clock.Now(),
			}
			hbCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := w.jobs.Heartbeat(hbCtx, hb); err != nil {
				w.logger.Warn("heartbeat failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Snapshot reports loop counters for the ops endpoint.
func (w *Worker) Snapshot() regs.Heartbeat {
	return regs.Heartbeat{
		WorkerID:      w.cfg.WorkerID,
		ActiveJobs:    int(w.active.Load()),
		ClaimedTotal:  w.claimed.Load(),
		FinishedTotal: w.finished.Load(),
		UpdatedAt:     time.Now(),
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
