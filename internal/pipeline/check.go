// Package pipeline implements the scheduled source check: fetch each
// configured regulation source, detect content changes by hash, extract
// a normalized summary, and route it through the approval gate.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/approval"
	"github.com/seasonwatch/regs-crawler/internal/classify"
	"github.com/seasonwatch/regs-crawler/internal/extract"
	"github.com/seasonwatch/regs-crawler/internal/llm"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// Normalizer is the LLM pass used when the regex pass finds no seasons.
type Normalizer interface {
	NormalizeContent(ctx context.Context, content, category, stateCode, model string) (extract.NormalizedData, error)
}

// Config bounds one check run.
type Config struct {
	PerSourceTimeout  time.Duration
	MinContentChars   int
	ExtractionVersion string
	StoragePrefix     string
	Model             string
}

func (c *Config) applyDefaults() {
	if c.PerSourceTimeout <= 0 {
		c.PerSourceTimeout = 60 * time.Second
	}
	if c.MinContentChars <= 0 {
		c.MinContentChars = 100
	}
	if c.ExtractionVersion == "" {
		c.ExtractionVersion = "v6.0.0"
	}
	if c.StoragePrefix == "" {
		c.StoragePrefix = "states"
	}
}

// Checker runs the source check for one state+category.
type Checker struct {
	fetcher    regs.Fetcher
	hasher     regs.Hasher
	normalizer Normalizer
	store      regs.RegulationStore
	blob       regs.BlobStore
	gate       approval.Gate
	policy     extract.ScorePolicy
	clock      regs.Clock
	cfg        Config
	logger     *zap.Logger
}

func NewChecker(
	fetcher regs.Fetcher,
	hasher regs.Hasher,
	normalizer Normalizer,
	store regs.RegulationStore,
	blob regs.BlobStore,
	gate approval.Gate,
	clock regs.Clock,
	cfg Config,
	logger *zap.Logger,
) *Checker {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		fetcher:    fetcher,
		hasher:     hasher,
		normalizer: normalizer,
		store:      store,
		blob:       blob,
		gate:       gate,
		policy:     extract.DefaultScorePolicy(),
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
	}
}

// SourceResult reports the outcome of checking one source.
type SourceResult struct {
	SourceID   string
	Status     string // auto_approved | pending | unchanged | portal_only | no_data | llm_failed | error
	Confidence float64
	Seasons    int
	Error      string
}

// Summary aggregates one check run.
type Summary struct {
	Checked      int
	AutoApproved int
	Pending      int
	Results      []SourceResult
}

// Run checks all extractable sources for a state+category in priority
// order. Per-source failures are recorded and do not stop the run.
func (c *Checker) Run(ctx context.Context, stateCode, category string) (*Summary, error) {
	sources, err := c.store.SourcesForCheck(ctx, stateCode, category)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}

	sum := &Summary{}
	for _, src := range sources {
		srcCtx, cancel := context.WithTimeout(ctx, c.cfg.PerSourceTimeout)
		res := c.checkSource(srcCtx, src)
		cancel()

		sum.Results = append(sum.Results, res)
		switch res.Status {
		case "auto_approved":
			sum.Checked++
			sum.AutoApproved++
		case "pending":
			sum.Checked++
			sum.Pending++
		case "unchanged":
			sum.Checked++
		}

		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
	}
	return sum, nil
}

func (c *Checker) checkSource(ctx context.Context, src regs.SourceRecord) SourceResult {
	log := c.logger.With(
		zap.String("state", src.StateCode),
		zap.String("category", src.Category),
		zap.String("source_url", src.SourceURL))

	now := c.clock.Now()
	res := SourceResult{SourceID: src.ID}

	fetched, err := c.fetcher.Fetch(ctx, regs.FetchRequest{URL: src.SourceURL})
	if err != nil {
		log.Warn("source fetch failed", zap.Error(err))
		res.Status = "error"
		res.Error = err.Error()
		return res
	}

	raw := fetched.Body
	normalized := classify.NormalizeHTML(string(raw))
	newHash := c.hasher.Hash([]byte(normalized))

	// The content hash is only persisted once the source reaches a
	// terminal outcome. A check that dies mid-extraction leaves the
	// stored hash untouched so the next run retries the same content.

	if src.ContentHash != "" && src.ContentHash == newHash {
		c.recordHash(ctx, src.ID, newHash, now, log)
		res.Status = "unchanged"
		return res
	}

	text := classify.ExtractText(string(raw))
	cls := classify.Classify(text, fetched.ContentType)

	if !cls.IsExtractable {
		log.Info("source not extractable", zap.String("reason", cls.SkipReason))
		if err := c.store.SetSourceType(ctx, src.ID, "portal_only"); err != nil {
			log.Warn("set source type failed", zap.Error(err))
		}
		c.recordHash(ctx, src.ID, newHash, now, log)
		res.Status = "portal_only"
		return res
	}

	if len(text) < c.cfg.MinContentChars {
		c.recordHash(ctx, src.ID, newHash, now, log)
		res.Status = "no_data"
		return res
	}

	data := extract.RegexExtract(text)
	usedLLM := false
	if len(data.Seasons) == 0 && !cls.IsPDF && c.normalizer != nil {
		llmData, err := c.normalizer.NormalizeContent(ctx, text, src.Category, src.StateCode, c.cfg.Model)
		if err != nil {
			log.Warn("llm normalization failed", zap.Error(err))
			res.Status = "llm_failed"
			res.Error = err.Error()
			return res
		}
		if len(llmData.Seasons) > 0 {
			data = llmData
			usedLLM = true
		}
	}

	if data.Empty() {
		c.recordHash(ctx, src.ID, newHash, now, log)
		res.Status = "no_data"
		return res
	}

	validation := extract.ValidateNormalized(data, src.Category)
	confidence := c.policy.Confidence(data, cls, src.Category)
	res.Confidence = confidence
	res.Seasons = len(data.Seasons)

	summaryJSON := []byte(llm.MustJSON(data))

	if c.blob != nil {
		key := fmt.Sprintf("%s/%s/%s", c.cfg.StoragePrefix, src.StateCode, newHash)
		if _, err := c.blob.Put(ctx, key, fetched.ContentType, raw); err != nil {
			log.Warn("snapshot upload failed", zap.Error(err))
		}
	}

	isNew := src.ContentHash == ""
	diff := diffSummary(data, confidence, isNew, usedLLM)

	decision := c.gate.Decide(confidence, validation, !data.Empty())

	rec := regs.RegulationRecord{
		StateCode:         src.StateCode,
		Category:          src.Category,
		RegionKey:         regionKeyOr(src.RegionKey),
		RegionLabel:       regionLabelOr(src.RegionLabel),
		SeasonYearLabel:   SeasonYearLabel(now),
		YearStart:         YearStart(now),
		Summary:           summaryJSON,
		SourceURL:         src.SourceURL,
		SourceHash:        newHash,
		Confidence:        confidence,
		ApprovalMode:      decision.Mode,
		ExtractionVersion: c.cfg.ExtractionVersion,
		PendingReason:     decision.PendingReason,
		Warnings:          validation.Warnings,
		DiffSummary:       diff,
	}

	audit := regs.AuditEntry{
		StateCode:    src.StateCode,
		Category:     src.Category,
		RegionKey:    rec.RegionKey,
		DetectedAt:   now,
		PreviousHash: src.ContentHash,
		NewHash:      newHash,
		Confidence:   confidence,
		ApprovalMode: decision.Mode,
		DiffSummary:  diff,
		Warnings:     validation.Warnings,
	}

	switch decision.Mode {
	case regs.ApprovalAuto:
		rec.ApprovedBy = "AUTO_V6"
		rowID, err := c.store.UpsertApproved(ctx, rec)
		if err != nil {
			log.Error("upsert approved failed", zap.Error(err))
			res.Status = "error"
			res.Error = err.Error()
			return res
		}
		audit.ApprovedRowID = rowID
		res.Status = "auto_approved"
	default:
		if err := c.store.UpsertPending(ctx, rec); err != nil {
			log.Error("upsert pending failed", zap.Error(err))
			res.Status = "error"
			res.Error = err.Error()
			return res
		}
		res.Status = "pending"
	}

	c.recordHash(ctx, src.ID, newHash, now, log)

	if err := c.store.AppendAudit(ctx, audit); err != nil {
		log.Warn("audit insert failed", zap.Error(err))
	}

	log.Info("source checked",
		zap.String("status", res.Status),
		zap.Float64("confidence", confidence),
		zap.Int("seasons", len(data.Seasons)),
		zap.Bool("used_llm", usedLLM))
	return res
}

func (c *Checker) recordHash(ctx context.Context, sourceID, hash string, now time.Time, log *zap.Logger) {
	if err := c.store.UpdateSourceHash(ctx, sourceID, hash, now); err != nil {
		log.Warn("update source hash failed", zap.Error(err))
	}
}

func diffSummary(data extract.NormalizedData, confidence float64, isNew, usedLLM bool) string {
	if isNew {
		suffix := ""
		if usedLLM {
			suffix = " (LLM)"
		}
		return fmt.Sprintf("Initial extraction. Seasons: %d, Limits: %d%s", len(data.Seasons), len(data.BagLimits), suffix)
	}
	return fmt.Sprintf("Content changed. Normalized: %d seasons, %d limits. Confidence: %.0f%%",
		len(data.Seasons), len(data.BagLimits), confidence*100)
}

func regionKeyOr(key string) string {
	if key == "" {
		return "STATEWIDE"
	}
	return key
}

func regionLabelOr(label string) string {
	if label == "" {
		return "Statewide"
	}
	return label
}

// SeasonYearLabel names the regulatory year a check belongs to. Season
// years roll over on July 1.
func SeasonYearLabel(now time.Time) string { return regs.SeasonYearLabel(now) }

// YearStart returns the first calendar year of the current season year.
func YearStart(now time.Time) int { return regs.YearStart(now) }
