package discover

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/seasonwatch/regs-crawler/internal/crawl"
	"github.com/seasonwatch/regs-crawler/internal/llm"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

var discoverySchema = map[string]any{
	"type":     "object",
	"required": []any{"state_code", "hunting", "fishing"},
	"properties": map[string]any{
		"state_code": map[string]any{"type": "string"},
		"hunting":    categoryLinkSchema,
		"fishing":    categoryLinkSchema,
		"misc_related": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"url", "label", "confidence"},
				"properties": map[string]any{
					"url":              map[string]any{"type": "string"},
					"label":            map[string]any{"type": "string"},
					"confidence":       map[string]any{"type": "number", "minimum": 0, "maximum": 1},
					"evidence_snippet": map[string]any{"type": []any{"string", "null"}},
				},
			},
		},
		"notes": map[string]any{"type": []any{"string", "null"}},
	},
}

var categoryLinkSchema = map[string]any{
	"type":     "object",
	"required": []any{"confidence"},
	"properties": map[string]any{
		"url":        map[string]any{"type": []any{"string", "null"}},
		"pdf_url":    map[string]any{"type": []any{"string", "null"}},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"evidence": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"url", "snippet"},
				"properties": map[string]any{
					"url":     map[string]any{"type": "string"},
					"snippet": map[string]any{"type": "string"},
				},
			},
		},
	},
}

const discoverySystemTemplate = `You are an expert at identifying official government wildlife agency regulation pages.

TASK: Analyze pages from %s's official wildlife agency website (%s) and identify:
1. The official statewide HUNTING regulations page (HTML preferred, PDF acceptable)
2. The official statewide FISHING regulations page (HTML preferred, PDF acceptable)
3. Any other related regulations pages as "misc_related" fallback

IMPORTANT RULES:
- ALL URLs must be on the official domain: %s (or subdomains)
- If regulations are ONLY available as a PDF handbook/guide, use pdf_url field (leave url null)
- If HTML page exists, prefer it over PDF
- NEVER hallucinate URLs - only use URLs from the provided list
- Evidence snippets are REQUIRED for any URL you return
- If uncertain but a page looks regulation-related, add it to misc_related
- Do NOT return empty results if there are any regulation-related candidates

REJECT pages that are:
- Press releases, news articles, blog posts
- License purchase pages (unless they also contain regulations)
- Event announcements
- Pages from other domains

PREFER pages with keywords:
- "regulations", "seasons", "bag limits", "guide", "handbook", "digest"
- Specific season dates, limits, and rules

OUTPUT: Return ONLY valid JSON matching this exact schema:

{
  "state_code": "%s",
  "hunting": {
    "url": "<HTML page URL from list or null>",
    "pdf_url": "<PDF handbook URL from list or null>",
    "confidence": <0.0-1.0>,
    "evidence": [{"url": "<URL>", "snippet": "<text proving this is the regs page>"}]
  },
  "fishing": {
    "url": "<HTML page URL from list or null>",
    "pdf_url": "<PDF handbook URL from list or null>",
    "confidence": <0.0-1.0>,
    "evidence": [{"url": "<URL>", "snippet": "<text proving this is the regs page>"}]
  },
  "misc_related": [
    {
      "url": "<related regulations URL>",
      "label": "Regulations landing page" | "Season dates" | "PDF handbook" | "Bag limits" | "License+regs",
      "confidence": <0.0-1.0>,
      "evidence_snippet": "<text showing this is regulations-related>"
    }
  ],
  "notes": "<brief explanation of selections>"
}`

// formatCandidates renders the candidate list for the prompt, marking
// PDFs so the model can route them to pdf_url.
func formatCandidates(pages []regs.CrawlPage) string {
	var b strings.Builder
	for i, p := range pages {
		marker := ""
		if crawl.IsPDFURL(p.URL) {
			marker = "[PDF] "
		}
		keywords := p.Keywords
		if len(keywords) > 5 {
			keywords = keywords[:5]
		}
		fmt.Fprintf(&b, "[%d] %s%s\n    URL: %s\n    Score: %.2f | Keywords: %s\n    Snippet: %s...\n\n",
			i, marker, p.Title, p.URL, p.Score, strings.Join(keywords, ", "), truncate(p.Snippet, 300))
	}
	return b.String()
}

func (d *Discoverer) guide(ctx context.Context, stateCode, stateName, officialDomain string, pages []regs.CrawlPage, model string) (*regs.DiscoveryOutput, error) {
	system := fmt.Sprintf(discoverySystemTemplate, stateName, officialDomain, officialDomain, stateCode)

	user := fmt.Sprintf(`Here are %d candidate pages from %s (%s) official wildlife website.
Find the best HUNTING regulations page and FISHING regulations page.
Pages marked [PDF] are PDF documents.

CANDIDATES:
%s

Remember:
- Only use URLs from this list (on %s)
- If regs are PDF-only, use pdf_url field
- Add uncertain but relevant pages to misc_related
- Evidence snippets required`,
		len(pages), stateName, stateCode, formatCandidates(pages), officialDomain)

	content, err := d.completer.Complete(ctx, llm.Request{
		Model:       model,
		System:      system,
		User:        user,
		Temperature: 0,
		MaxTokens:   2048,
		JSONMode:    true,
	})
	if err != nil {
		return nil, err
	}

	raw := llm.ExtractJSON(content)
	if err := llm.ValidateJSONAgainstSchema(discoverySchema, raw); err != nil {
		return nil, fmt.Errorf("discovery response rejected: %w", err)
	}

	var out regs.DiscoveryOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode discovery response: %w", err)
	}
	if out.StateCode == "" {
		out.StateCode = stateCode
	}
	if out.MiscRelated == nil {
		out.MiscRelated = []regs.MiscLink{}
	}
	return &out, nil
}
