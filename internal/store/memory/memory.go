// Package memory provides in-process store implementations used by the
// local runner and by worker tests. All stores are safe for concurrent
// use and keep everything in maps, so state disappears on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// JobStore is a mutex-guarded queue with the same claim semantics the
// Postgres store has: queued jobs and retryable failed jobs with
// attempts left are claimable, and no job is handed out twice.
type JobStore struct {
	mu         sync.Mutex
	jobs       map[string]*regs.Job
	results    map[string]regs.JobResult
	runs       map[string]regs.RunStatus
	events     map[string][]string
	heartbeats map[string]regs.Heartbeat
	ids        regs.IDGenerator
	clock      regs.Clock
}

func NewJobStore(ids regs.IDGenerator, clock regs.Clock) *JobStore {
	return &JobStore{
		jobs:       make(map[string]*regs.Job),
		results:    make(map[string]regs.JobResult),
		runs:       make(map[string]regs.RunStatus),
		events:     make(map[string][]string),
		heartbeats: make(map[string]regs.Heartbeat),
		ids:        ids,
		clock:      clock,
	}
}

// SetRunStatus seeds or updates a run. The local runner uses it to
// create runs and to simulate stop requests in tests.
func (s *JobStore) SetRunStatus(runID string, status regs.RunStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[runID] = status
}

// Result returns the stored result for a completed job.
func (s *JobStore) Result(jobID string) (regs.JobResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[jobID]
	return r, ok
}

func (s *JobStore) Claim(ctx context.Context, workerID string, limit int) ([]regs.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*regs.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		switch {
		case j.Status == regs.JobStatusQueued:
			candidates = append(candidates, j)
		case j.Status == regs.JobStatusFailed &&
			j.Attempts < j.MaxAttempts &&
			s.results[j.ID].Retryable:
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	now := s.clock.Now()
	claimed := make([]regs.Job, 0, len(candidates))
	for _, j := range candidates {
		j.Status = regs.JobStatusRunning
		j.LockedBy = workerID
		lockedAt := now
		j.LockedAt = &lockedAt
		j.Attempts++
		claimed = append(claimed, *j)
	}
	return claimed, nil
}

func (s *JobStore) Complete(ctx context.Context, jobID string, status regs.JobStatus, result regs.JobResult) error {
	if !status.Terminal() {
		return fmt.Errorf("non-terminal status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return regs.ErrNotFound
	}
	j.Status = status
	j.LockedBy = ""
	j.LockedAt = nil
	s.results[jobID] = result
	return nil
}

func (s *JobStore) CreateRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; ok {
		return fmt.Errorf("run %q already exists", runID)
	}
	s.runs[runID] = regs.RunStatusRunning
	return nil
}

func (s *JobStore) Enqueue(ctx context.Context, job regs.Job) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Mirrors the regs_jobs.run_id foreign key: jobs cannot reference a
	// run that was never created.
	if job.RunID != "" {
		if _, ok := s.runs[job.RunID]; !ok {
			return "", fmt.Errorf("run %q not found", job.RunID)
		}
	}
	if job.ID == "" {
		job.ID = s.ids.NewID()
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	job.Status = regs.JobStatusQueued
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.clock.Now()
	}
	s.jobs[job.ID] = &job
	return job.ID, nil
}

func (s *JobStore) RunStatus(ctx context.Context, runID string) (regs.RunStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.runs[runID]
	if !ok {
		return "", regs.ErrNotFound
	}
	return status, nil
}

func (s *JobStore) FinishRunIfDrained(ctx context.Context, runID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.runs[runID]
	if !ok || !status.Active() {
		return false, nil
	}
	for _, j := range s.jobs {
		if j.RunID != runID {
			continue
		}
		if j.Status == regs.JobStatusQueued || j.Status == regs.JobStatusRunning {
			return false, nil
		}
		if j.Status == regs.JobStatusFailed && j.Attempts < j.MaxAttempts && s.results[j.ID].Retryable {
			return false, nil
		}
	}
	s.runs[runID] = regs.RunStatusCompleted
	return true, nil
}

func (s *JobStore) AppendEvent(ctx context.Context, jobID string, level regs.EventLevel, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[jobID] = append(s.events[jobID], fmt.Sprintf("%s: %s", level, message))
	return nil
}

func (s *JobStore) Heartbeat(ctx context.Context, hb regs.Heartbeat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[hb.WorkerID] = hb
	return nil
}

// PortalStore keeps official roots and discovered portal links in maps.
type PortalStore struct {
	mu    sync.Mutex
	roots map[string]regs.OfficialRoot
	links map[string]regs.PortalLinks
}

func NewPortalStore() *PortalStore {
	return &PortalStore{
		roots: make(map[string]regs.OfficialRoot),
		links: make(map[string]regs.PortalLinks),
	}
}

// SeedOfficialRoot registers a crawl entry point for a state.
func (s *PortalStore) SeedOfficialRoot(root regs.OfficialRoot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roots[root.StateCode] = root
}

func (s *PortalStore) OfficialRoot(ctx context.Context, stateCode string) (*regs.OfficialRoot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	root, ok := s.roots[stateCode]
	if !ok {
		return nil, regs.ErrNotFound
	}
	return &root, nil
}

func (s *PortalStore) PortalLinks(ctx context.Context, stateCode string) (*regs.PortalLinks, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	links, ok := s.links[stateCode]
	if !ok {
		return nil, regs.ErrNotFound
	}
	return &links, nil
}

func (s *PortalStore) SavePortalLinks(ctx context.Context, upd regs.PortalUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.links[upd.StateCode]
	next := regs.PortalLinks{
		StateCode:     upd.StateCode,
		HuntingURL:    firstNonEmpty(upd.Output.Hunting.URL, prev.HuntingURL),
		HuntingPDFURL: firstNonEmpty(upd.Output.Hunting.PDFURL, prev.HuntingPDFURL),
		FishingURL:    firstNonEmpty(upd.Output.Fishing.URL, prev.FishingURL),
		FishingPDFURL: firstNonEmpty(upd.Output.Fishing.PDFURL, prev.FishingPDFURL),
		MiscRelated:   upd.Output.MiscRelated,
		UpdatedAt:     upd.UpdatedAt,
	}
	s.links[upd.StateCode] = next
	return nil
}

// RegulationStore keeps sources, summaries, pending reviews, and audit
// rows in maps keyed the way the Postgres tables are.
type RegulationStore struct {
	mu        sync.Mutex
	sources   map[string]*regs.SourceRecord
	approved  map[string]regs.RegulationRecord
	pending   map[string]regs.RegulationRecord
	extracted map[string]regs.ExtractedRecord
	audits    []regs.AuditEntry
	nextRow   int
}

func NewRegulationStore() *RegulationStore {
	return &RegulationStore{
		sources:   make(map[string]*regs.SourceRecord),
		approved:  make(map[string]regs.RegulationRecord),
		pending:   make(map[string]regs.RegulationRecord),
		extracted: make(map[string]regs.ExtractedRecord),
	}
}

// SeedSource registers a source row for checks.
func (s *RegulationStore) SeedSource(rec regs.SourceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := rec
	s.sources[rec.ID] = &cp
}

// Approved returns the live summary for a record key, if any.
func (s *RegulationStore) Approved(stateCode, category, yearLabel, regionKey string) (regs.RegulationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.approved[recordKey(stateCode, category, yearLabel, regionKey)]
	return rec, ok
}

// Pending returns the parked summary for a record key, if any.
func (s *RegulationStore) Pending(stateCode, category, yearLabel, regionKey string) (regs.RegulationRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.pending[recordKey(stateCode, category, yearLabel, regionKey)]
	return rec, ok
}

// Audits returns a copy of the audit log.
func (s *RegulationStore) Audits() []regs.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]regs.AuditEntry, len(s.audits))
	copy(out, s.audits)
	return out
}

func (s *RegulationStore) SourcesForCheck(ctx context.Context, stateCode, category string) ([]regs.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []regs.SourceRecord
	for _, rec := range s.sources {
		if rec.StateCode == stateCode && rec.Category == category && rec.SourceType == "extractable" {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].Priority != out[k].Priority {
			return out[i].Priority > out[k].Priority
		}
		return out[i].ID < out[k].ID
	})
	return out, nil
}

func (s *RegulationStore) UpdateSourceHash(ctx context.Context, sourceID, hash string, checkedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sources[sourceID]
	if !ok {
		return regs.ErrNotFound
	}
	rec.ContentHash = hash
	return nil
}

func (s *RegulationStore) SetSourceType(ctx context.Context, sourceID, sourceType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sources[sourceID]
	if !ok {
		return regs.ErrNotFound
	}
	rec.SourceType = sourceType
	return nil
}

func (s *RegulationStore) UpsertApproved(ctx context.Context, rec regs.RegulationRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.approved[recordKeyFor(rec)] = rec
	s.nextRow++
	return fmt.Sprintf("approved-%d", s.nextRow), nil
}

func (s *RegulationStore) UpsertPending(ctx context.Context, rec regs.RegulationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[recordKeyFor(rec)] = rec
	return nil
}

func (s *RegulationStore) UpsertExtracted(ctx context.Context, rec regs.ExtractedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.extracted[extractedKey(rec.StateCode, rec.Species, rec.SeasonYearLabel)] = rec
	return nil
}

// Extracted returns the stored extraction row for a state, species, and
// season year, if any.
func (s *RegulationStore) Extracted(stateCode, species, yearLabel string) (regs.ExtractedRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.extracted[extractedKey(stateCode, species, yearLabel)]
	return rec, ok
}

func (s *RegulationStore) AppendAudit(ctx context.Context, entry regs.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audits = append(s.audits, entry)
	return nil
}

func recordKeyFor(rec regs.RegulationRecord) string {
	return recordKey(rec.StateCode, rec.Category, rec.SeasonYearLabel, rec.RegionKey)
}

func recordKey(stateCode, category, yearLabel, regionKey string) string {
	return stateCode + "|" + category + "|" + yearLabel + "|" + regionKey
}

func extractedKey(stateCode, species, yearLabel string) string {
	return stateCode + "|" + species + "|" + yearLabel
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// BlobStore is an in-memory regs.BlobStore. Put returns a mem:// URI.
type BlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string][]byte)}
}

func (s *BlobStore) Put(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.blobs[key] = cp
	return "mem://" + key, nil
}

// Get returns a stored blob. Tests use it to assert archived content.
func (s *BlobStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	return data, ok
}

// Publisher collects published events for inspection.
type Publisher struct {
	mu     sync.Mutex
	events []regs.Event
}

func NewPublisher() *Publisher { return &Publisher{} }

func (p *Publisher) Publish(ctx context.Context, ev regs.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *Publisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (p *Publisher) Events() []regs.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]regs.Event, len(p.events))
	copy(out, p.events)
	return out
}
