// Package crawl implements the breadth-first discovery crawler for
// official state wildlife domains.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/metrics"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// Config bounds one crawl.
type Config struct {
	MaxPages           int
	MaxDepth           int
	EarlyStopThreshold float64
}

// Crawler walks an official domain breadth-first, scoring pages and
// stopping early once strong hunting and fishing candidates exist.
type Crawler struct {
	fetcher regs.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// New builds a Crawler.
func New(fetcher regs.Fetcher, cfg Config, logger *zap.Logger) *Crawler {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 25
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 3
	}
	if cfg.EarlyStopThreshold <= 0 {
		cfg.EarlyStopThreshold = 0.85
	}
	return &Crawler{fetcher: fetcher, cfg: cfg, logger: logger}
}

// clockNow is swapped in tests.
var clockNow = time.Now

type queueItem struct {
	url      string
	depth    int
	priority int
}

// Crawl explores the official domain from its root URL. A blocked root
// aborts the whole crawl with Blocked set; blocked inner pages are
// counted and skipped.
func (c *Crawler) Crawl(ctx context.Context, root regs.OfficialRoot) (*regs.CrawlResult, error) {
	start := clockNow()
	keywords := AllRegsKeywords()

	visited := make(map[string]struct{})
	var pages []regs.CrawlPage
	queue := []queueItem{{url: root.RootURL, depth: 0, priority: 100}}

	stats := regs.CrawlStats{}
	var bestHunting, bestFishing float64

	for len(queue) > 0 && len(pages) < c.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("crawl canceled: %w", err)
		}

		sort.SliceStable(queue, func(i, j int) bool { return queue[i].priority > queue[j].priority })
		item := queue[0]
		queue = queue[1:]

		normalized := NormalizeURL(item.url)
		if _, ok := visited[normalized]; ok {
			continue
		}
		visited[normalized] = struct{}{}
		stats.PagesVisited++
		metrics.ObserveCrawlPage(root.StateCode)

		if ShouldSkipURL(normalized) || !WithinDomain(normalized, root.OfficialDomain) {
			stats.PagesSkipped++
			continue
		}

		doc, blocked, blockReason := c.fetchDocument(ctx, normalized)
		if blocked {
			stats.PagesBlocked++
			if len(pages) == 0 {
				stats.Duration = clockNow().Sub(start)
				return &regs.CrawlResult{
					Stats:       stats,
					Blocked:     true,
					BlockReason: blockReason,
				}, nil
			}
			continue
		}
		if doc == nil {
			stats.PagesSkipped++
			continue
		}
		stats.PagesFetched++

		ps := ScorePage(doc.Title, doc.Text, normalized)
		if doc.IsPDF {
			// URL phrases rarely match the multi-word page keywords, so
			// PDFs are also scored by filename keywords.
			if nameScore := float64(ScorePDFName(normalized)) * 0.05; nameScore > ps.Score {
				ps.Score = nameScore
			}
		}
		if ps.Score > 0 {
			pages = append(pages, regs.CrawlPage{
				URL:      normalized,
				Title:    truncate(doc.Title, 200),
				Snippet:  truncate(BestSnippet(doc.Text, keywords), 500),
				Depth:    item.depth,
				Score:    ps.Score,
				Keywords: ps.MatchedKeywords,
			})
			if ps.IsHunting && ps.Score > bestHunting {
				bestHunting = ps.Score
			}
			if ps.IsFishing && ps.Score > bestFishing {
				bestFishing = ps.Score
			}
			if bestHunting >= c.cfg.EarlyStopThreshold && bestFishing >= c.cfg.EarlyStopThreshold {
				stats.EarlyStop = true
				stats.EarlyStopReason = fmt.Sprintf(
					"found high-confidence candidates (hunting: %.2f, fishing: %.2f)",
					bestHunting, bestFishing)
				break
			}
		}

		if item.depth < c.cfg.MaxDepth {
			for _, link := range doc.Links {
				normLink := NormalizeURL(link.URL)
				if _, ok := visited[normLink]; ok {
					continue
				}
				if ShouldSkipURL(normLink) || !WithinDomain(normLink, root.OfficialDomain) {
					continue
				}
				queue = append(queue, queueItem{
					url:      normLink,
					depth:    item.depth + 1,
					priority: ScoreLinkPriority(link.Text, normLink),
				})
			}
		}
	}

	if len(pages) < 3 && !stats.EarlyStop {
		extra := c.sitemapFallback(ctx, root.RootURL, root.OfficialDomain)
		if len(extra) > 0 {
			c.logger.Info("added sitemap fallback candidates",
				zap.String("state", root.StateCode),
				zap.Int("count", len(extra)))
			existing := make(map[string]struct{}, len(pages))
			for _, p := range pages {
				existing[p.URL] = struct{}{}
			}
			for _, p := range extra {
				if _, ok := existing[p.URL]; !ok {
					pages = append(pages, p)
				}
			}
		}
	}

	sort.SliceStable(pages, func(i, j int) bool { return pages[i].Score > pages[j].Score })
	stats.Duration = clockNow().Sub(start)

	return &regs.CrawlResult{Pages: pages, Stats: stats}, nil
}

// fetchDocument retrieves and parses one page. PDFs are probed with a
// HEAD request and represented by a synthetic document so they can be
// scored without downloading the file.
func (c *Crawler) fetchDocument(ctx context.Context, pageURL string) (*Document, bool, string) {
	req := regs.FetchRequest{URL: pageURL}
	if IsPDFURL(pageURL) {
		req.HeadOnly = true
	}

	res, err := c.fetcher.Fetch(ctx, req)
	if err != nil {
		var blockedErr *regs.BlockedError
		if errors.As(err, &blockedErr) {
			return nil, true, blockedErr.SkipReason()
		}
		c.logger.Debug("page fetch failed", zap.String("url", pageURL), zap.Error(err))
		return nil, false, ""
	}
	if res.StatusCode != 200 {
		return nil, false, ""
	}

	if req.HeadOnly || res.ContentType == "application/pdf" {
		return &Document{
			Title: "PDF Document",
			Text:  "PDF file at " + pageURL,
			IsPDF: true,
		}, false, ""
	}
	if res.ContentType != "" && res.ContentType != "text/html" && res.ContentType != "application/xhtml+xml" {
		return nil, false, ""
	}

	doc, err := ParseDocument(res.Body, res.URL)
	if err != nil {
		c.logger.Debug("page parse failed", zap.String("url", pageURL), zap.Error(err))
		return nil, false, ""
	}
	return doc, false, ""
}
