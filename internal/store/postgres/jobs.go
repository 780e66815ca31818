package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// JobStore implements regs.JobStore on Postgres. Claiming uses
// FOR UPDATE SKIP LOCKED so any number of workers can poll the same
// table without handing out a job twice.
type JobStore struct {
	pool querier
	ids  regs.IDGenerator
}

func NewJobStore(pool querier, ids regs.IDGenerator) *JobStore {
	return &JobStore{pool: pool, ids: ids}
}

const claimQuery = `
WITH next AS (
	SELECT id FROM regs_jobs
	WHERE status = 'queued'
	   OR (status = 'failed' AND retryable AND attempts < max_attempts)
	ORDER BY created_at
	FOR UPDATE SKIP LOCKED
	LIMIT $2
)
UPDATE regs_jobs j
SET status = 'running',
    locked_by = $1,
    locked_at = now(),
    attempts = j.attempts + 1,
    updated_at = now()
FROM next
WHERE j.id = next.id
RETURNING j.id, j.run_id, j.job_type, j.state_code, j.species, j.tier,
          j.status, j.attempts, j.max_attempts, j.locked_by, j.locked_at, j.created_at`

// Claim leases up to limit jobs for workerID. Failed jobs marked
// retryable with attempts remaining are reclaimed alongside queued
// ones, which is how retries happen.
func (s *JobStore) Claim(ctx context.Context, workerID string, limit int) ([]regs.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.pool.Query(ctx, claimQuery, workerID, limit)
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	defer rows.Close()

	var jobs []regs.Job
	for rows.Next() {
		var j regs.Job
		if err := rows.Scan(
			&j.ID, &j.RunID, &j.Type, &j.StateCode, &j.Species, &j.Tier,
			&j.Status, &j.Attempts, &j.MaxAttempts, &j.LockedBy, &j.LockedAt, &j.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	return jobs, nil
}

// Complete writes a terminal status with the result payload.
func (s *JobStore) Complete(ctx context.Context, jobID string, status regs.JobStatus, result regs.JobResult) error {
	if !status.Terminal() {
		return fmt.Errorf("non-terminal status %q", status)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE regs_jobs
SET status = $2,
    skip_reason = NULLIF($3, ''),
    error_message = NULLIF(left($4, 1000), ''),
    result_json = $5,
    retryable = $6,
    locked_by = NULL,
    locked_at = NULL,
    finished_at = now(),
    updated_at = now()
WHERE id = $1`,
		jobID, status, result.SkipReason, result.Error, resultJSON, result.Retryable)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	if tag.RowsAffected() == 0 {
		return regs.ErrNotFound
	}
	return nil
}

// Enqueue inserts a queued job.
func (s *JobStore) Enqueue(ctx context.Context, job regs.Job) (string, error) {
	id := job.ID
	if id == "" {
		id = s.ids.NewID()
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO regs_jobs (id, run_id, job_type, state_code, species, tier, status, attempts, max_attempts, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, 'queued', 0, $7, now(), now())`,
		id, job.RunID, job.Type, job.StateCode, job.Species, job.Tier, maxAttempts)
	if err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// CreateRun inserts a new run row in the running state.
func (s *JobStore) CreateRun(ctx context.Context, runID string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO regs_runs (id, status, created_at, updated_at)
VALUES ($1, 'running', now(), now())`, runID)
	if err != nil {
		return fmt.Errorf("create run %s: %w", runID, err)
	}
	return nil
}

// RunStatus reads the run's current status.
func (s *JobStore) RunStatus(ctx context.Context, runID string) (regs.RunStatus, error) {
	var status regs.RunStatus
	err := s.pool.QueryRow(ctx, `SELECT status FROM regs_runs WHERE id = $1`, runID).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", regs.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("run status %s: %w", runID, err)
	}
	return status, nil
}

// FinishRunIfDrained marks the run completed once no queued or running
// jobs remain. Returns whether this call performed the transition.
func (s *JobStore) FinishRunIfDrained(ctx context.Context, runID string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE regs_runs
SET status = 'completed', finished_at = now(), updated_at = now()
WHERE id = $1
  AND status IN ('queued', 'running')
  AND NOT EXISTS (
	SELECT 1 FROM regs_jobs
	WHERE run_id = $1 AND status IN ('queued', 'running')
  )`, runID)
	if err != nil {
		return false, fmt.Errorf("finish run %s: %w", runID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// AppendEvent records one job event log line.
func (s *JobStore) AppendEvent(ctx context.Context, jobID string, level regs.EventLevel, message string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO regs_job_events (job_id, level, message, created_at)
VALUES ($1, $2, left($3, 2000), now())`,
		jobID, level, message)
	if err != nil {
		return fmt.Errorf("append job event: %w", err)
	}
	return nil
}

// Heartbeat upserts the per-worker liveness row.
func (s *JobStore) Heartbeat(ctx context.Context, hb regs.Heartbeat) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO regs_worker_heartbeats (worker_id, active_jobs, claimed_total, finished_total, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (worker_id) DO UPDATE SET
	active_jobs = EXCLUDED.active_jobs,
	claimed_total = EXCLUDED.claimed_total,
	finished_total = EXCLUDED.finished_total,
	updated_at = EXCLUDED.updated_at`,
		hb.WorkerID, hb.ActiveJobs, hb.ClaimedTotal, hb.FinishedTotal, hb.UpdatedAt)
	if err != nil {
		return fmt.Errorf("worker heartbeat: %w", err)
	}
	return nil
}
