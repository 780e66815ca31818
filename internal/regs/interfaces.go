package regs

import (
	"context"
	"time"
)

// FetchRequest describes one HTTP fetch.
type FetchRequest struct {
	URL     string
	Referer string
	// HeadOnly probes with a HEAD request and returns headers only.
	HeadOnly bool
	// MaxBytes caps the response body. Zero uses the fetcher default.
	// Exceeding the cap aborts the download mid-stream.
	MaxBytes int64
}

// FetchResult is a completed fetch. Body is nil for HEAD probes.
type FetchResult struct {
	URL           string // final URL after redirects
	StatusCode    int
	ContentType   string
	ContentLength int64
	Body          []byte
	Elapsed       time.Duration
}

// Fetcher retrieves documents over HTTP with retries and politeness
// built in. Blocked responses surface as ErrBlocked wrapped errors.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error)
}

// JobStore is the durable queue backing the worker fleet.
type JobStore interface {
	// Claim atomically leases up to limit queued jobs for workerID.
	// Two workers never receive the same job.
	Claim(ctx context.Context, workerID string, limit int) ([]Job, error)
	// Complete writes a terminal status and result payload for a job.
	Complete(ctx context.Context, jobID string, status JobStatus, result JobResult) error
	// Enqueue inserts a queued job and returns its ID. The job's run
	// must already exist.
	Enqueue(ctx context.Context, job Job) (string, error)
	// CreateRun inserts a new run row in the running state.
	CreateRun(ctx context.Context, runID string) error
	// RunStatus reads the current status of a run.
	RunStatus(ctx context.Context, runID string) (RunStatus, error)
	// FinishRunIfDrained marks a run terminal once no queued or running
	// jobs remain, and returns whether it did.
	FinishRunIfDrained(ctx context.Context, runID string) (bool, error)
	// AppendEvent records a job event log entry.
	AppendEvent(ctx context.Context, jobID string, level EventLevel, message string) error
	// Heartbeat upserts the worker liveness row.
	Heartbeat(ctx context.Context, hb Heartbeat) error
}

// PortalStore persists discovery outputs and official root configuration.
type PortalStore interface {
	OfficialRoot(ctx context.Context, stateCode string) (*OfficialRoot, error)
	PortalLinks(ctx context.Context, stateCode string) (*PortalLinks, error)
	SavePortalLinks(ctx context.Context, upd PortalUpdate) error
}

// RegulationStore persists extraction outputs, sources, and audit history.
type RegulationStore interface {
	SourcesForCheck(ctx context.Context, stateCode, category string) ([]SourceRecord, error)
	UpdateSourceHash(ctx context.Context, sourceID, hash string, checkedAt time.Time) error
	// SetSourceType re-labels a source, e.g. extractable -> portal_only
	// when a check finds only navigation.
	SetSourceType(ctx context.Context, sourceID, sourceType string) error
	UpsertApproved(ctx context.Context, rec RegulationRecord) (string, error)
	UpsertPending(ctx context.Context, rec RegulationRecord) error
	// UpsertExtracted writes the per-species regulation row produced by
	// an extraction job, keyed by (state, species, season year label).
	UpsertExtracted(ctx context.Context, rec ExtractedRecord) error
	AppendAudit(ctx context.Context, entry AuditEntry) error
}

// BlobStore archives fetched source snapshots for later review.
type BlobStore interface {
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
}

// Event is published when a job reaches a terminal status.
type Event struct {
	JobID      string    `json:"job_id"`
	RunID      string    `json:"run_id"`
	Type       JobType   `json:"type"`
	StateCode  string    `json:"state_code"`
	Species    string    `json:"species,omitempty"`
	Status     JobStatus `json:"status"`
	SkipReason string    `json:"skip_reason,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// Publisher emits completion events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Hasher fingerprints normalized source content.
type Hasher interface {
	Hash(data []byte) string
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator mints job and worker identifiers.
type IDGenerator interface {
	NewID() string
}
