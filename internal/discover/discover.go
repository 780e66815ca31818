// Package discover runs discovery jobs: crawl a state's official
// wildlife agency site, select the regulation portal links with LLM
// guidance, and fall back to keyword heuristics when the model is
// unavailable.
package discover

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/crawl"
	"github.com/seasonwatch/regs-crawler/internal/llm"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// Config bounds candidate selection.
type Config struct {
	CandidateTopN int
	MinConfidence float64
}

func (c *Config) applyDefaults() {
	if c.CandidateTopN <= 0 {
		c.CandidateTopN = 60
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.70
	}
}

// Crawler abstracts the domain crawl so tests can stub it.
type Crawler interface {
	Crawl(ctx context.Context, root regs.OfficialRoot) (*regs.CrawlResult, error)
}

type Discoverer struct {
	crawler   Crawler
	completer llm.Completer
	portals   regs.PortalStore
	cfg       Config
	logger    *zap.Logger
}

func New(crawler Crawler, completer llm.Completer, portals regs.PortalStore, cfg Config, logger *zap.Logger) *Discoverer {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Discoverer{crawler: crawler, completer: completer, portals: portals, cfg: cfg, logger: logger}
}

// Result is the outcome of one discovery job.
type Result struct {
	Success    bool
	Output     *regs.DiscoveryOutput
	SkipReason string
	Stats      map[string]any
}

// Run executes discovery for one state. The output is persisted even on
// structural skips so operators can see why a state came up empty.
func (d *Discoverer) Run(ctx context.Context, stateCode string, tier regs.Tier, model string) (*Result, error) {
	log := d.logger.With(zap.String("state", stateCode))

	root, err := d.portals.OfficialRoot(ctx, stateCode)
	if err != nil {
		if errors.Is(err, regs.ErrNotFound) {
			out := emptyOutput(stateCode, "No official wildlife agency root URL configured")
			return &Result{Success: false, Output: &out, SkipReason: regs.SkipNoOfficialRoot}, nil
		}
		return nil, fmt.Errorf("load official root: %w", err)
	}

	log.Info("starting discovery",
		zap.String("state_name", root.StateName),
		zap.String("root_url", root.RootURL))

	crawlStart := time.Now()
	crawlRes, err := d.crawler.Crawl(ctx, *root)
	if err != nil {
		return nil, fmt.Errorf("crawl %s: %w", root.OfficialDomain, err)
	}
	crawlDur := time.Since(crawlStart)

	pdfCandidates := 0
	for _, p := range crawlRes.Pages {
		if crawl.IsPDFURL(p.URL) {
			pdfCandidates++
		}
	}

	stats := map[string]any{
		"pages_visited":     crawlRes.Stats.PagesVisited,
		"pages_fetched":     crawlRes.Stats.PagesFetched,
		"candidates_found":  len(crawlRes.Pages),
		"pdf_candidates":    pdfCandidates,
		"crawl_duration_ms": crawlDur.Milliseconds(),
	}

	if crawlRes.Blocked {
		log.Warn("crawl blocked", zap.String("reason", crawlRes.BlockReason))
		out := emptyOutput(stateCode, "Website blocked access: "+crawlRes.BlockReason)
		d.save(ctx, stateCode, out, log)
		return &Result{Success: false, Output: &out, SkipReason: regs.SkipFetchBlocked, Stats: stats}, nil
	}
	if len(crawlRes.Pages) == 0 {
		log.Warn("no candidate pages found")
		out := emptyOutput(stateCode, "Crawl found no relevant pages")
		d.save(ctx, stateCode, out, log)
		return &Result{Success: false, Output: &out, SkipReason: regs.SkipNoPagesFound, Stats: stats}, nil
	}

	candidates := selectTopCandidates(crawlRes.Pages, d.cfg.CandidateTopN)
	log.Info("candidates selected",
		zap.Int("count", len(candidates)),
		zap.Int("pdf_candidates", pdfCandidates),
		zap.Bool("early_stop", crawlRes.Stats.EarlyStop))

	llmStart := time.Now()
	output, err := d.guide(ctx, stateCode, root.StateName, root.OfficialDomain, candidates, model)
	stats["llm_duration_ms"] = time.Since(llmStart).Milliseconds()

	if err != nil {
		log.Warn("llm guidance failed, using fallback selection", zap.Error(err))
		fallback := fallbackSelection(stateCode, candidates, root.OfficialDomain)
		if hasAnySelection(&fallback) {
			d.save(ctx, stateCode, fallback, log)
			return &Result{Success: true, Output: &fallback, Stats: stats}, nil
		}
		if errors.Is(err, regs.ErrRateLimited) {
			return &Result{Success: false, Output: &fallback, SkipReason: regs.SkipRateLimited, Stats: stats}, nil
		}
		return &Result{Success: false, Output: &fallback, SkipReason: regs.SkipNoCandidates, Stats: stats}, nil
	}

	CleanOutput(output, root.OfficialDomain)

	log.Info("llm selection",
		zap.Float64("hunting_confidence", output.Hunting.Confidence),
		zap.Bool("hunting_pdf", output.Hunting.PDFURL != ""),
		zap.Float64("fishing_confidence", output.Fishing.Confidence),
		zap.Bool("fishing_pdf", output.Fishing.PDFURL != ""),
		zap.Int("misc", len(output.MiscRelated)))

	d.save(ctx, stateCode, *output, log)

	return &Result{Success: hasAnySelection(output), Output: output, Stats: stats}, nil
}

func (d *Discoverer) save(ctx context.Context, stateCode string, out regs.DiscoveryOutput, log *zap.Logger) {
	raw := []byte(llm.MustJSON(out))
	err := d.portals.SavePortalLinks(ctx, regs.PortalUpdate{
		StateCode:  stateCode,
		Output:     out,
		ResultJSON: raw,
		UpdatedAt:  time.Now().UTC(),
	})
	if err != nil {
		log.Error("save portal links failed", zap.Error(err))
	}
}

func emptyOutput(stateCode, notes string) regs.DiscoveryOutput {
	return regs.DiscoveryOutput{
		StateCode:   stateCode,
		Hunting:     regs.CategoryLink{Evidence: []regs.Evidence{}},
		Fishing:     regs.CategoryLink{Evidence: []regs.Evidence{}},
		MiscRelated: []regs.MiscLink{},
		Notes:       notes,
	}
}

func hasAnySelection(out *regs.DiscoveryOutput) bool {
	return out.Hunting.URL != "" || out.Hunting.PDFURL != "" ||
		out.Fishing.URL != "" || out.Fishing.PDFURL != "" ||
		len(out.MiscRelated) > 0
}

// selectTopCandidates keeps the best pages for the prompt while
// reserving slots for PDFs, which score lower than HTML pages but are
// often the only complete source.
func selectTopCandidates(pages []regs.CrawlPage, maxCount int) []regs.CrawlPage {
	var htmlPages, pdfPages []regs.CrawlPage
	for _, p := range pages {
		if crawl.IsPDFURL(p.URL) {
			pdfPages = append(pdfPages, p)
		} else {
			htmlPages = append(htmlPages, p)
		}
	}

	pdfSlots := max(10, maxCount/5)
	if pdfSlots > len(pdfPages) {
		pdfSlots = len(pdfPages)
	}
	htmlSlots := maxCount - pdfSlots

	result := make([]regs.CrawlPage, 0, maxCount)
	if htmlSlots > len(htmlPages) {
		htmlSlots = len(htmlPages)
	}
	result = append(result, htmlPages[:htmlSlots]...)
	result = append(result, pdfPages[:pdfSlots]...)

	sort.SliceStable(result, func(i, j int) bool { return result[i].Score > result[j].Score })
	if len(result) > maxCount {
		result = result[:maxCount]
	}
	return result
}

// OnOfficialDomain reports whether a URL's host is the official domain
// or one of its subdomains.
func OnOfficialDomain(rawURL, officialDomain string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	domain := strings.TrimPrefix(strings.ToLower(officialDomain), "www.")
	return host == domain || host == "www."+domain || strings.HasSuffix(host, "."+domain)
}

// CleanOutput nulls out any selected URL that is not on the official
// domain. The model is told not to leave the domain, but the rule is
// enforced here rather than trusted.
func CleanOutput(out *regs.DiscoveryOutput, officialDomain string) {
	if out.Hunting.URL != "" && !OnOfficialDomain(out.Hunting.URL, officialDomain) {
		out.Hunting.URL = ""
		out.Hunting.Confidence = 0
	}
	if out.Hunting.PDFURL != "" && !OnOfficialDomain(out.Hunting.PDFURL, officialDomain) {
		out.Hunting.PDFURL = ""
	}
	if out.Fishing.URL != "" && !OnOfficialDomain(out.Fishing.URL, officialDomain) {
		out.Fishing.URL = ""
		out.Fishing.Confidence = 0
	}
	if out.Fishing.PDFURL != "" && !OnOfficialDomain(out.Fishing.PDFURL, officialDomain) {
		out.Fishing.PDFURL = ""
	}
	kept := out.MiscRelated[:0]
	for _, m := range out.MiscRelated {
		if OnOfficialDomain(m.URL, officialDomain) {
			kept = append(kept, m)
		}
	}
	out.MiscRelated = kept
}

var (
	fallbackHuntingKeywords = []string{
		"hunting regulations", "hunting seasons", "deer season", "deer hunting",
		"hunting guide", "hunting digest", "game regulations",
	}
	fallbackFishingKeywords = []string{
		"fishing regulations", "fishing guide", "fishing seasons", "creel limit",
		"fishing rules", "angling",
	}
	fallbackRegsKeywords = []string{
		"regulations", "rules", "seasons", "guide", "handbook", "digest", "bag limit",
	}
)

// fallbackSelection picks portal links by keyword match when LLM
// guidance is unavailable. Confidence is deliberately capped low so
// nothing selected here can auto-approve downstream.
func fallbackSelection(stateCode string, pages []regs.CrawlPage, officialDomain string) regs.DiscoveryOutput {
	out := emptyOutput(stateCode, "Selected via fallback heuristics (LLM unavailable)")

	pickCategory(&out.Hunting, pages, fallbackHuntingKeywords, officialDomain)
	pickCategory(&out.Fishing, pages, fallbackFishingKeywords, officialDomain)

	used := map[string]bool{
		out.Hunting.URL: true, out.Hunting.PDFURL: true,
		out.Fishing.URL: true, out.Fishing.PDFURL: true,
	}
	for _, page := range pages {
		if len(out.MiscRelated) >= 5 {
			break
		}
		if used[page.URL] || !OnOfficialDomain(page.URL, officialDomain) {
			continue
		}
		combined := strings.ToLower(page.Title + " " + page.Snippet + " " + page.URL)
		count := matchCount(combined, fallbackRegsKeywords)
		if count < 1 {
			continue
		}
		out.MiscRelated = append(out.MiscRelated, regs.MiscLink{
			URL:             page.URL,
			Label:           labelFor(combined),
			Confidence:      minFloat(0.40, float64(count)*0.10),
			EvidenceSnippet: truncate(page.Snippet, 200),
		})
	}
	return out
}

func pickCategory(link *regs.CategoryLink, pages []regs.CrawlPage, keywords []string, officialDomain string) {
	for _, page := range pages {
		if !OnOfficialDomain(page.URL, officialDomain) {
			continue
		}
		combined := strings.ToLower(page.Title + " " + page.Snippet + " " + page.URL)
		count := matchCount(combined, keywords)
		if count < 2 {
			continue
		}
		ev := regs.Evidence{URL: page.URL, Snippet: truncate(page.Snippet, 200)}
		if crawl.IsPDFURL(page.URL) {
			if link.PDFURL == "" {
				link.PDFURL = page.URL
				link.Confidence = minFloat(0.5, float64(count)*0.12)
				link.Evidence = append(link.Evidence, ev)
			}
		} else if link.URL == "" {
			link.URL = page.URL
			link.Confidence = minFloat(0.5, float64(count)*0.12)
			link.Evidence = append(link.Evidence, ev)
			return
		}
	}
}

func labelFor(text string) string {
	switch {
	case strings.Contains(text, "digest") || strings.Contains(text, "guide") || strings.Contains(text, "handbook"):
		return "PDF handbook"
	case strings.Contains(text, "season") && (strings.Contains(text, "date") || strings.Contains(text, "open")):
		return "Season dates"
	case strings.Contains(text, "bag limit") || strings.Contains(text, "creel limit"):
		return "Bag limits"
	case strings.Contains(text, "license") && strings.Contains(text, "regulation"):
		return "License+regs"
	default:
		return "Regulations landing page"
	}
}

func matchCount(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			n++
		}
	}
	return n
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
