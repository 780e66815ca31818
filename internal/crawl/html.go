package crawl

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Link pairs an anchor's resolved URL with its visible text.
type Link struct {
	Text string
	URL  string
}

// Document is the parsed view of one HTML page, or a synthetic stub
// standing in for a probed PDF.
type Document struct {
	Title string
	Text  string
	Links []Link
	IsPDF bool
}

// ParseDocument extracts the title, visible text, and outbound links.
// Navigation chrome is kept because agency sites put their regulations
// menus there.
func ParseDocument(html []byte, baseURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	doc.Find("script, style").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := collapseWhitespace(doc.Find("body").Text())
	if text == "" {
		text = collapseWhitespace(doc.Text())
	}

	var links []Link
	seen := make(map[string]struct{})
	add := func(href, label string) {
		resolved, ok := resolveLink(base, href)
		if !ok {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, Link{Text: strings.TrimSpace(label), URL: resolved})
	}

	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		add(href, s.Text())
	})
	// Script-driven navigation attributes some agency CMSes emit.
	doc.Find("[data-href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("data-href")
		add(href, s.Text())
	})
	doc.Find("[data-url]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("data-url")
		add(href, s.Text())
	})
	doc.Find("[src]").Each(func(_ int, s *goquery.Selection) {
		src, _ := s.Attr("src")
		if strings.HasSuffix(strings.ToLower(src), ".pdf") {
			add(src, s.Text())
		}
	})

	return &Document{Title: title, Text: text, Links: links}, nil
}

// BestSnippet slides a 500-char window over the text and returns the
// section with the most keyword hits.
func BestSnippet(text string, keywords []string) string {
	const window = 500
	if len(text) <= window {
		return text
	}
	lower := strings.ToLower(text)
	bestStart, bestScore := 0, 0

	limit := len(text) - window
	if limit > 10000 {
		limit = 10000
	}
	for i := 0; i < limit; i += 100 {
		section := lower[i : i+window]
		score := 0
		for _, kw := range keywords {
			if strings.Contains(section, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestStart = i
		}
	}

	end := bestStart + window
	if end > len(text) {
		end = len(text)
	}
	return text[bestStart:end]
}

func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "data:"} {
		if strings.HasPrefix(strings.ToLower(href), scheme) {
			return "", false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return "", false
	}
	return resolved.String(), true
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
