package extract

import (
	"regexp"
	"strings"

	"github.com/seasonwatch/regs-crawler/internal/regs"
)

var wsPattern = regexp.MustCompile(`\s+`)

// FilterCitations drops citations whose snippet does not appear in the
// source text. A citation the document cannot corroborate is treated
// as hallucinated. Matching is whitespace-insensitive because text
// goes through several flattening steps before it reaches the model.
func FilterCitations(citations []regs.Citation, content string) []regs.Citation {
	haystack := normalizeForMatch(content)
	kept := make([]regs.Citation, 0, len(citations))
	for _, c := range citations {
		snippet := normalizeForMatch(c.Snippet)
		if snippet == "" {
			continue
		}
		if strings.Contains(haystack, snippet) {
			kept = append(kept, c)
		}
	}
	return kept
}

func normalizeForMatch(s string) string {
	return strings.ToLower(strings.TrimSpace(wsPattern.ReplaceAllString(s, " ")))
}
