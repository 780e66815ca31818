package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/classify"
	"github.com/seasonwatch/regs-crawler/internal/discover"
	"github.com/seasonwatch/regs-crawler/internal/extract"
	"github.com/seasonwatch/regs-crawler/internal/fetch"
	"github.com/seasonwatch/regs-crawler/internal/pdf"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// ModelResolver maps a job tier to a concrete model name.
type ModelResolver interface {
	ModelFor(tier regs.Tier) string
}

// DiscoverProcessor runs discovery jobs.
type DiscoverProcessor struct {
	discoverer *discover.Discoverer
	models     ModelResolver
}

func NewDiscoverProcessor(discoverer *discover.Discoverer, models ModelResolver) *DiscoverProcessor {
	return &DiscoverProcessor{discoverer: discoverer, models: models}
}

func (p *DiscoverProcessor) Process(ctx context.Context, job regs.Job) (regs.JobResult, error) {
	res, err := p.discoverer.Run(ctx, job.StateCode, job.Tier, p.models.ModelFor(job.Tier))
	if err != nil {
		return regs.JobResult{}, err
	}
	return regs.JobResult{
		Success:    res.Success,
		Output:     res.Output,
		SkipReason: res.SkipReason,
		Stats:      res.Stats,
	}, nil
}

// ExtractConfig tunes the extraction processor.
type ExtractConfig struct {
	// MinContentChars rejects sources whose text is too thin to extract.
	MinContentChars int
	// MinConfidence is the floor below which the whole batch is dropped.
	MinConfidence float64
	// UncitedConfidenceCap bounds confidence when no citation survives
	// the substring check against the fetched content.
	UncitedConfidenceCap float64
	// PDFMaxChars caps filtered PDF content handed to the model.
	PDFMaxChars int
	// PublishThreshold routes stored extractions: at or above it the row
	// publishes directly, below it the row waits for review.
	PublishThreshold float64
	// ExtractionVersion stamps stored rows with the prompt revision.
	ExtractionVersion string
	// StoragePrefix roots snapshot keys in the blob store.
	StoragePrefix string
}

func (c *ExtractConfig) applyDefaults() {
	if c.MinContentChars <= 0 {
		c.MinContentChars = 100
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.6
	}
	if c.UncitedConfidenceCap <= 0 {
		c.UncitedConfidenceCap = 0.5
	}
	if c.PDFMaxChars <= 0 {
		c.PDFMaxChars = 60_000
	}
	if c.PublishThreshold <= 0 {
		c.PublishThreshold = 0.8
	}
	if c.ExtractionVersion == "" {
		c.ExtractionVersion = "v6.0.0"
	}
	if c.StoragePrefix == "" {
		c.StoragePrefix = "states"
	}
}

// ExtractProcessor runs extraction jobs: resolve the portal source for
// the species, fetch HTML or a capped PDF, run the structured LLM
// extraction, and enforce validation and citation rules.
type ExtractProcessor struct {
	fetcher   regs.Fetcher
	portals   regs.PortalStore
	pdfs      *pdf.Extractor
	extractor *extract.Extractor
	models    ModelResolver
	hasher    regs.Hasher
	blob      regs.BlobStore
	store     regs.RegulationStore
	clock     regs.Clock
	cfg       ExtractConfig
	logger    *zap.Logger
}

func NewExtractProcessor(
	fetcher regs.Fetcher,
	portals regs.PortalStore,
	pdfs *pdf.Extractor,
	extractor *extract.Extractor,
	models ModelResolver,
	hasher regs.Hasher,
	blob regs.BlobStore,
	store regs.RegulationStore,
	clock regs.Clock,
	cfg ExtractConfig,
	logger *zap.Logger,
) *ExtractProcessor {
	cfg.applyDefaults()
	return &ExtractProcessor{
		fetcher:   fetcher,
		portals:   portals,
		pdfs:      pdfs,
		extractor: extractor,
		models:    models,
		hasher:    hasher,
		blob:      blob,
		store:     store,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

func (p *ExtractProcessor) Process(ctx context.Context, job regs.Job) (regs.JobResult, error) {
	log := p.logger.With(
		zap.String("state_code", job.StateCode),
		zap.String("species", job.Species))

	links, err := p.portals.PortalLinks(ctx, job.StateCode)
	if errors.Is(err, regs.ErrNotFound) {
		return skipResult(regs.SkipNoSource, "no portal links for state"), nil
	}
	if err != nil {
		return regs.JobResult{}, fmt.Errorf("load portal links: %w", err)
	}

	sourceURL, sourceType, ok := links.SourceFor(job.Species)
	if !ok {
		return skipResult(regs.SkipNoSource, "no source url for species"), nil
	}
	log = log.With(zap.String("source_url", sourceURL), zap.String("source_type", string(sourceType)))

	content, result, err := p.loadContent(ctx, sourceURL, sourceType, job.Species)
	if err != nil || result != nil {
		if result != nil {
			return *result, nil
		}
		return regs.JobResult{}, err
	}

	if len(content) < p.cfg.MinContentChars {
		return skipResult(regs.SkipInsufficientContent,
			fmt.Sprintf("content too short: %d chars", len(content))), nil
	}

	out, err := p.extractor.ExtractSeasons(ctx, extract.SeasonParams{
		StateCode:  job.StateCode,
		Species:    job.Species,
		SourceURL:  sourceURL,
		SourceType: sourceType,
		Content:    content,
		Model:      p.models.ModelFor(job.Tier),
	})
	if err != nil {
		return regs.JobResult{}, err
	}

	if err := extract.ValidateOutput(out, p.clock.Now()); err != nil {
		log.Warn("extraction rejected", zap.Error(err))
		return skipResult(regs.SkipValidationFailed, err.Error()), nil
	}

	// The confidence floor applies to the model's raw score. The uncited
	// cap comes after, so an uncited but confident extraction surfaces
	// capped for review instead of being dropped.
	if out.Confidence < p.cfg.MinConfidence {
		return skipResult(regs.SkipLowConfidence,
			fmt.Sprintf("confidence %.2f below %.2f", out.Confidence, p.cfg.MinConfidence)), nil
	}

	out.Citations = extract.FilterCitations(out.Citations, content)
	if len(out.Citations) == 0 && out.Confidence > p.cfg.UncitedConfidenceCap {
		log.Warn("no citations survived, capping confidence",
			zap.Float64("confidence", out.Confidence))
		out.Confidence = p.cfg.UncitedConfidenceCap
	}

	if len(out.SeasonEntries) == 0 {
		return skipResult(regs.SkipNoSeasonsFound, "no season entries extracted"), nil
	}

	status, err := p.persist(ctx, job, out, sourceURL)
	if err != nil {
		return regs.JobResult{}, fmt.Errorf("store extraction: %w", err)
	}

	p.archive(ctx, job.StateCode, content, log)

	log.Info("extraction complete",
		zap.Int("seasons", len(out.SeasonEntries)),
		zap.Float64("confidence", out.Confidence),
		zap.String("status", status))
	return regs.JobResult{
		Success: true,
		Output:  out,
		Stats: map[string]any{
			"content_chars": len(content),
			"seasons":       len(out.SeasonEntries),
			"citations":     len(out.Citations),
			"status":        status,
		},
	}, nil
}

// persist writes the extraction to the regulations table, published when
// confidence clears the threshold and parked for review otherwise.
func (p *ExtractProcessor) persist(ctx context.Context, job regs.Job, out *regs.ExtractionOutput, sourceURL string) (string, error) {
	payload, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("marshal extraction output: %w", err)
	}
	now := p.clock.Now()
	status := regs.ExtractionNeedsReview
	if out.Confidence >= p.cfg.PublishThreshold {
		status = regs.ExtractionPublished
	}
	rec := regs.ExtractedRecord{
		StateCode:         job.StateCode,
		Species:           job.Species,
		SeasonYearLabel:   regs.SeasonYearLabel(now),
		YearStart:         regs.YearStart(now),
		Payload:           payload,
		SourceURL:         sourceURL,
		Confidence:        out.Confidence,
		Status:            status,
		ExtractionVersion: p.cfg.ExtractionVersion,
		UpdatedAt:         now,
	}
	if err := p.store.UpsertExtracted(ctx, rec); err != nil {
		return "", err
	}
	return status, nil
}

// loadContent fetches and textifies the source. Structural skips come
// back as a ready JobResult.
func (p *ExtractProcessor) loadContent(ctx context.Context, sourceURL string, sourceType regs.CitationType, species string) (string, *regs.JobResult, error) {
	if sourceType == regs.CitationPDF {
		data, err := p.pdfs.Download(ctx, sourceURL)
		if err != nil {
			if skip := skipFromError(err); skip != nil {
				return "", skip, nil
			}
			return "", nil, fmt.Errorf("download pdf: %w", err)
		}
		text, err := p.pdfs.ExtractText(data)
		if err != nil {
			if skip := skipFromError(err); skip != nil {
				return "", skip, nil
			}
			return "", nil, fmt.Errorf("extract pdf text: %w", err)
		}
		return pdf.FilterRelevantContent(text, species, p.cfg.PDFMaxChars), nil, nil
	}

	res, err := p.fetcher.Fetch(ctx, regs.FetchRequest{URL: sourceURL})
	if err != nil {
		var blocked *regs.BlockedError
		if errors.As(err, &blocked) {
			skip := skipResult(regs.SkipFetchBlocked, blocked.SkipReason())
			return "", &skip, nil
		}
		return "", nil, fmt.Errorf("fetch source: %w", err)
	}
	if fetch.IsPDF(res.ContentType, res.Body) {
		text, err := p.pdfs.ExtractText(res.Body)
		if err != nil {
			if skip := skipFromError(err); skip != nil {
				return "", skip, nil
			}
			return "", nil, fmt.Errorf("extract pdf text: %w", err)
		}
		return pdf.FilterRelevantContent(text, species, p.cfg.PDFMaxChars), nil, nil
	}
	return classify.ExtractText(string(res.Body)), nil, nil
}

// archive snapshots the fetched content for audit. Failures only warn.
func (p *ExtractProcessor) archive(ctx context.Context, stateCode, content string, log *zap.Logger) {
	if p.blob == nil {
		return
	}
	key := fmt.Sprintf("%s/%s/%s", p.cfg.StoragePrefix, stateCode, p.hasher.Hash([]byte(content)))
	// PDF sources archive the filtered text, not the raw bytes.
	if _, err := p.blob.Put(ctx, key, "text/plain; charset=utf-8", []byte(content)); err != nil {
		log.Warn("snapshot archive failed", zap.Error(err))
	}
}

func skipResult(reason, detail string) regs.JobResult {
	return regs.JobResult{
		SkipReason: reason,
		Stats:      map[string]any{"detail": detail},
	}
}

func skipFromError(err error) *regs.JobResult {
	var skip *pdf.SkipError
	if errors.As(err, &skip) {
		r := skipResult(skip.Reason, skip.Detail)
		return &r
	}
	return nil
}
