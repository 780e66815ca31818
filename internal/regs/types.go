// Package regs defines core types shared across the regulations pipeline.
package regs

import (
	"fmt"
	"time"
)

// JobType identifies the kind of work a queued job requests.
type JobType string

// Job types understood by the worker.
const (
	JobTypeDiscoverState JobType = "discover_state"
	JobTypeExtractState  JobType = "extract_state_species"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Job status values persisted in the job store. A job moves
// queued -> running -> one terminal status and is never reclaimed after.
const (
	JobStatusQueued   JobStatus = "queued"
	JobStatusRunning  JobStatus = "running"
	JobStatusDone     JobStatus = "done"
	JobStatusFailed   JobStatus = "failed"
	JobStatusSkipped  JobStatus = "skipped"
	JobStatusCanceled JobStatus = "canceled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusDone, JobStatusFailed, JobStatusSkipped, JobStatusCanceled:
		return true
	default:
		return false
	}
}

// RunStatus is the lifecycle state of a run grouping many jobs.
type RunStatus string

// Run status values. Workers poll the run before each job; stopping and
// stopped trigger cooperative cancellation.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusStopping  RunStatus = "stopping"
	RunStatusStopped   RunStatus = "stopped"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Active reports whether jobs belonging to the run should still be processed.
func (s RunStatus) Active() bool {
	return s == RunStatusQueued || s == RunStatusRunning
}

// Tier selects the model class used for LLM calls.
type Tier string

// Tiers supported by job rows.
const (
	TierBasic Tier = "basic"
	TierPro   Tier = "pro"
)

// Job is the unit of work claimed from the queue.
type Job struct {
	ID          string
	RunID       string
	Type        JobType
	StateCode   string
	Species     string // empty for discovery jobs
	Tier        Tier
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	LockedBy    string
	LockedAt    *time.Time
	CreatedAt   time.Time
}

// JobResult is the payload written back when a job reaches a terminal status.
// Retryable marks failed jobs the claim query may hand out again; failures
// without it stay terminal even with attempts remaining.
type JobResult struct {
	Success    bool           `json:"success"`
	Output     any            `json:"output,omitempty"`
	SkipReason string         `json:"skip_reason,omitempty"`
	Error      string         `json:"error,omitempty"`
	Retryable  bool           `json:"retryable,omitempty"`
	Stats      map[string]any `json:"stats,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// CrawlPage is a scored candidate page discovered during a crawl.
// It lives in memory only; discovery persists it inside the result blob.
type CrawlPage struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Snippet  string   `json:"snippet"`
	Depth    int      `json:"depth"`
	Score    float64  `json:"score"`
	Keywords []string `json:"keywords"`
}

// CrawlStats summarizes one crawl for operator visibility.
type CrawlStats struct {
	PagesVisited    int           `json:"pages_visited"`
	PagesFetched    int           `json:"pages_fetched"`
	PagesBlocked    int           `json:"pages_blocked"`
	PagesSkipped    int           `json:"pages_skipped"`
	Duration        time.Duration `json:"-"`
	EarlyStop       bool          `json:"early_stop"`
	EarlyStopReason string        `json:"early_stop_reason,omitempty"`
}

// CrawlResult is the outcome of crawling one official domain.
type CrawlResult struct {
	Pages       []CrawlPage
	Stats       CrawlStats
	Blocked     bool
	BlockReason string
}

// Evidence ties a selected URL to the text that justified selecting it.
type Evidence struct {
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// CategoryLink is the discovery selection for one category (hunting/fishing).
type CategoryLink struct {
	URL        string     `json:"url,omitempty"`
	PDFURL     string     `json:"pdf_url,omitempty"`
	Confidence float64    `json:"confidence"`
	Evidence   []Evidence `json:"evidence"`
}

// MiscLink is a secondary regulations-related candidate.
type MiscLink struct {
	URL             string  `json:"url"`
	Label           string  `json:"label"`
	Confidence      float64 `json:"confidence"`
	EvidenceSnippet string  `json:"evidence_snippet"`
}

// DiscoveryOutput is the strict discovery result persisted to portal links.
// Every non-empty URL must live on the state's official domain; the
// discover package nulls out violators before persistence.
type DiscoveryOutput struct {
	StateCode   string       `json:"state_code"`
	Hunting     CategoryLink `json:"hunting"`
	Fishing     CategoryLink `json:"fishing"`
	MiscRelated []MiscLink   `json:"misc_related"`
	Notes       string       `json:"notes"`
}

// Skip reasons shared by discovery and extraction. Structural skips are not
// errors: the job completes as skipped with one of these strings.
const (
	SkipFetchBlocked        = "FETCH_BLOCKED"
	SkipNoCandidates        = "NO_CANDIDATES"
	SkipNoOfficialRoot      = "NO_OFFICIAL_ROOT"
	SkipNoPagesFound        = "NO_PAGES_FOUND"
	SkipRateLimited         = "RATE_LIMITED"
	SkipNoSource            = "NO_SOURCE"
	SkipPDFTooLarge         = "PDF_TOO_LARGE"
	SkipPDFParseFailed      = "PDF_PARSE_FAILED"
	SkipValidationFailed    = "VALIDATION_FAILED"
	SkipNoSeasonsFound      = "NO_SEASONS_FOUND"
	SkipLowConfidence       = "LOW_CONFIDENCE"
	SkipInsufficientContent = "INSUFFICIENT_CONTENT"
	SkipRunStopped          = "RUN_STOPPED"
	SkipTimeout             = "TIMEOUT"
)

// UnitScope describes the geographic granularity of extracted seasons.
type UnitScope string

// Unit scopes reported by extraction.
const (
	ScopeStatewide   UnitScope = "statewide"
	ScopeZoneBased   UnitScope = "zone_based"
	ScopeCountyBased UnitScope = "county_based"
	ScopeUnknown     UnitScope = "unknown"
)

// SeasonEntry is one extracted season with ISO dates.
type SeasonEntry struct {
	Name               string `json:"name"`
	Weapon             string `json:"weapon,omitempty"`
	StartDate          string `json:"start_date"` // YYYY-MM-DD
	EndDate            string `json:"end_date"`   // YYYY-MM-DD
	BagLimit           string `json:"bag_limit,omitempty"`
	AntlerRestrictions string `json:"antler_restrictions,omitempty"`
	AreaNotes          string `json:"area_notes,omitempty"`
	Notes              string `json:"notes,omitempty"`
}

// BagLimit is one labeled limit (Daily, Possession, Season).
type BagLimit struct {
	Label string `json:"label"`
	Value string `json:"value"`
	Notes string `json:"notes,omitempty"`
}

// BagLimits aggregates the per-scope limits for a state+species.
type BagLimits struct {
	Daily       string `json:"daily,omitempty"`
	Possession  string `json:"possession,omitempty"`
	SeasonTotal string `json:"season_total,omitempty"`
	Notes       string `json:"notes,omitempty"`
}

// CitationType distinguishes HTML from PDF evidence.
type CitationType string

// Citation source types.
const (
	CitationHTML CitationType = "html"
	CitationPDF  CitationType = "pdf"
)

// Citation anchors an extracted fact to the text it came from.
// Seasons and limits without a citation are never emitted.
type Citation struct {
	URL        string       `json:"url"`
	Type       CitationType `json:"type"`
	Snippet    string       `json:"snippet"`
	PageNumber int          `json:"page_number,omitempty"`
}

// ExtractionOutput is the strict extraction result for one state+species.
type ExtractionOutput struct {
	StateCode     string        `json:"state_code"`
	Species       string        `json:"species"`
	SeasonEntries []SeasonEntry `json:"season_entries"`
	BagLimits     BagLimits     `json:"bag_limits"`
	UnitScope     UnitScope     `json:"unit_scope"`
	Citations     []Citation    `json:"citations"`
	Confidence    float64       `json:"confidence_overall"`
	SkipReason    string        `json:"skip_reason,omitempty"`
	Notes         string        `json:"notes,omitempty"`
}

// Extraction record statuses. High-confidence extractions publish directly;
// the rest land in the review queue.
const (
	ExtractionPublished   = "published"
	ExtractionNeedsReview = "needs_review"
)

// ExtractedRecord is the per-state-species regulation row written by
// extraction jobs, keyed by (state, species, season year label).
type ExtractedRecord struct {
	StateCode         string
	Species           string
	SeasonYearLabel   string
	YearStart         int
	Payload           []byte // ExtractionOutput JSON
	SourceURL         string
	Confidence        float64
	Status            string
	ExtractionVersion string
	UpdatedAt         time.Time
}

// SeasonYearLabel formats the hunting season year spanning the given time.
// Seasons roll over on July 1: an August 2026 check belongs to "2026-2027".
func SeasonYearLabel(now time.Time) string {
	start := YearStart(now)
	return fmt.Sprintf("%d-%d", start, start+1)
}

// YearStart returns the starting calendar year of the season containing now.
func YearStart(now time.Time) int {
	if now.Month() >= time.July {
		return now.Year()
	}
	return now.Year() - 1
}

// ApprovalMode records where the approval gate routed a check.
type ApprovalMode string

// Routing outcomes.
const (
	ApprovalAuto    ApprovalMode = "auto"
	ApprovalPending ApprovalMode = "pending"
	ApprovalSkipped ApprovalMode = "skipped"
)

// SourceRecord is a configured regulation source to check.
type SourceRecord struct {
	ID               string
	StateCode        string
	Category         string
	RegionKey        string
	RegionLabel      string
	SourceURL        string
	SourceType       string // extractable | portal_only
	ContentHash      string
	LastApprovedHash string
	Priority         int
}

// RegulationRecord is the summary row written to the approved or pending
// table, keyed by (state, category, season year label, region key).
type RegulationRecord struct {
	StateCode         string
	Category          string
	RegionKey         string
	RegionLabel       string
	SeasonYearLabel   string
	YearStart         int
	Summary           []byte // summary JSON
	SourceURL         string
	SourceHash        string
	Confidence        float64
	ApprovalMode      ApprovalMode
	ApprovedBy        string
	ExtractionVersion string
	PendingReason     string
	Warnings          []string
	DiffSummary       string
}

// AuditEntry is the immutable record of one check decision.
type AuditEntry struct {
	StateCode     string
	Category      string
	RegionKey     string
	DetectedAt    time.Time
	PreviousHash  string
	NewHash       string
	Confidence    float64
	ApprovalMode  ApprovalMode
	DiffSummary   string
	Warnings      []string
	ApprovedRowID string
}

// OfficialRoot is the configured crawl entry point for one state.
type OfficialRoot struct {
	StateCode      string
	StateName      string
	RootURL        string
	OfficialDomain string
}

// PortalLinks is the stored per-state link set discovery maintains.
// Extraction resolves its source URL from here.
type PortalLinks struct {
	StateCode     string
	HuntingURL    string
	HuntingPDFURL string
	FishingURL    string
	FishingPDFURL string
	MiscRelated   []MiscLink
	UpdatedAt     time.Time
}

// SourceFor returns the preferred extraction source for a species.
// HTML pages win over PDF handbooks.
func (p *PortalLinks) SourceFor(species string) (url string, citation CitationType, ok bool) {
	switch species {
	case "deer", "turkey":
		if p.HuntingURL != "" {
			return p.HuntingURL, CitationHTML, true
		}
		if p.HuntingPDFURL != "" {
			return p.HuntingPDFURL, CitationPDF, true
		}
	default:
		if p.FishingURL != "" {
			return p.FishingURL, CitationHTML, true
		}
		if p.FishingPDFURL != "" {
			return p.FishingPDFURL, CitationPDF, true
		}
	}
	return "", "", false
}

// PortalUpdate carries discovery results into the portal links table.
type PortalUpdate struct {
	StateCode  string
	Output     DiscoveryOutput
	ResultJSON []byte
	UpdatedAt  time.Time
}

// Heartbeat is the per-process liveness record for fleet monitoring.
type Heartbeat struct {
	WorkerID      string    `json:"worker_id"`
	ActiveJobs    int       `json:"active_jobs"`
	ClaimedTotal  int64     `json:"claimed_total"`
	FinishedTotal int64     `json:"finished_total"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// EventLevel grades job event log entries.
type EventLevel string

// Event levels.
const (
	EventInfo  EventLevel = "info"
	EventWarn  EventLevel = "warn"
	EventError EventLevel = "error"
)
