package crawl

import (
	"context"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/seasonwatch/regs-crawler/internal/regs"
)

var sitemapLocPattern = regexp.MustCompile(`(?i)<loc>([^<]+)</loc>`)

const sitemapTopN = 30

// sitemapFallback pulls candidates from /sitemap.xml when the crawl
// found too few pages. Scores are discounted because the content is
// unverified.
func (c *Crawler) sitemapFallback(ctx context.Context, rootURL, officialDomain string) []regs.CrawlPage {
	parsed, err := url.Parse(rootURL)
	if err != nil {
		return nil
	}
	sitemapURL := parsed.Scheme + "://" + parsed.Host + "/sitemap.xml"

	res, err := c.fetcher.Fetch(ctx, regs.FetchRequest{URL: sitemapURL})
	if err != nil || res.StatusCode != 200 || len(res.Body) == 0 {
		return nil
	}

	type candidate struct {
		url   string
		score int
	}
	var candidates []candidate
	for _, m := range sitemapLocPattern.FindAllStringSubmatch(string(res.Body), -1) {
		loc := strings.TrimSpace(m[1])
		if !WithinDomain(loc, officialDomain) {
			continue
		}
		if score := scoreSitemapURL(loc); score > 0 {
			candidates = append(candidates, candidate{url: loc, score: score})
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > sitemapTopN {
		candidates = candidates[:sitemapTopN]
	}

	pages := make([]regs.CrawlPage, 0, len(candidates))
	for _, cand := range candidates {
		title := "Page from sitemap"
		if IsPDFURL(cand.url) {
			title = "PDF from sitemap"
		}
		pages = append(pages, regs.CrawlPage{
			URL:     cand.url,
			Title:   title,
			Snippet: "Found in sitemap.xml - " + cand.url,
			Depth:   0,
			Score:   float64(cand.score) * 0.1,
		})
	}
	return pages
}

func scoreSitemapURL(raw string) int {
	lower := strings.ToLower(raw)
	score := 0
	if strings.Contains(lower, "regulation") {
		score += 3
	}
	if strings.Contains(lower, "hunting") {
		score += 2
	}
	if strings.Contains(lower, "fishing") {
		score += 2
	}
	if strings.Contains(lower, "season") {
		score += 2
	}
	if strings.Contains(lower, "guide") || strings.Contains(lower, "digest") {
		score += 2
	}
	if strings.Contains(lower, "rules") {
		score += 1
	}
	if strings.HasSuffix(lower, ".pdf") {
		score += 1
	}
	if strings.Contains(lower, "deer") || strings.Contains(lower, "turkey") {
		score += 1
	}
	return score
}
