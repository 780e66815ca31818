// Package classify decides whether fetched content carries extractable
// regulation data or is a landing page that should only feed portal links.
package classify

import (
	"regexp"
	"strings"
)

var (
	scriptPattern  = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	stylePattern   = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	tagPattern     = regexp.MustCompile(`<[^>]+>`)
	rowOpenPattern = regexp.MustCompile(`(?i)<tr[^>]*>`)
	cellPattern    = regexp.MustCompile(`(?i)<t[hd][^>]*>`)
	brPattern      = regexp.MustCompile(`(?i)<br\s*/?>`)
	spacePattern   = regexp.MustCompile(`\s+`)

	tableRowPattern = regexp.MustCompile(`\|[^|]+\|[^|]+\|`)
	datePattern     = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+\d{1,2}`)
	numericDate     = regexp.MustCompile(`\d{1,2}[-/]\d{1,2}[-/]\d{2,4}`)
	seasonKeywords  = regexp.MustCompile(`(?i)\b(season|archery|muzzleloader|rifle|firearm|youth|general|spring|fall)\s+(season|dates?|opens?|closes?)\b`)
)

const maxTextChars = 12000

// Result is the verdict for one page.
type Result struct {
	HasTable          bool
	HasDatePattern    bool
	HasSeasonKeywords bool
	IsPDF             bool
	IsExtractable     bool
	SkipReason        string
}

// NormalizeHTML strips markup and collapses whitespace. The result is
// the canonical input for content hashing, so any change here
// invalidates stored hashes fleet-wide.
func NormalizeHTML(html string) string {
	content := scriptPattern.ReplaceAllString(html, "")
	content = stylePattern.ReplaceAllString(content, "")
	content = tagPattern.ReplaceAllString(content, " ")
	return strings.TrimSpace(spacePattern.ReplaceAllString(content, " "))
}

// ExtractText flattens HTML to plain text, preserving table structure
// as [ROW] ... [/ROW] markers with | separated cells so downstream
// heuristics and prompts can still see tabular shape.
func ExtractText(html string) string {
	content := scriptPattern.ReplaceAllString(html, "")
	content = stylePattern.ReplaceAllString(content, "")
	content = rowOpenPattern.ReplaceAllString(content, "\n[ROW]")
	content = strings.ReplaceAll(content, "</tr>", "[/ROW]")
	content = strings.ReplaceAll(content, "</TR>", "[/ROW]")
	content = cellPattern.ReplaceAllString(content, " | ")
	content = brPattern.ReplaceAllString(content, "\n")
	content = strings.ReplaceAll(content, "</p>", "\n")
	content = strings.ReplaceAll(content, "</P>", "\n")
	content = tagPattern.ReplaceAllString(content, " ")
	content = strings.ReplaceAll(content, "&nbsp;", " ")
	content = strings.ReplaceAll(content, "&amp;", "&")
	content = strings.TrimSpace(spacePattern.ReplaceAllString(content, " "))
	if len(content) > maxTextChars {
		content = content[:maxTextChars]
	}
	return content
}

// Classify inspects flattened page text. A page is extractable when it
// is not a landing page and shows a date pattern, a table, or is a PDF
// (PDF structure cannot be judged cheaply, so PDFs always go forward).
func Classify(content, contentType string) Result {
	lower := strings.ToLower(content)
	isPDF := strings.Contains(contentType, "pdf")

	hasTable := strings.Contains(lower, "<table") ||
		strings.Contains(lower, "[row]") ||
		tableRowPattern.MatchString(content)
	hasDate := datePattern.MatchString(content) || numericDate.MatchString(content)
	hasSeason := seasonKeywords.MatchString(content)

	wordCount := len(strings.Fields(content))
	hasNoData := !hasDate && wordCount < 300
	isLanding := hasNoData ||
		(strings.Contains(lower, "learn more") && strings.Contains(lower, "get started") && !hasDate)

	extractable := !isLanding && (hasDate || hasTable || isPDF)

	res := Result{
		HasTable:          hasTable,
		HasDatePattern:    hasDate,
		HasSeasonKeywords: hasSeason,
		IsPDF:             isPDF,
		IsExtractable:     extractable,
	}
	if !extractable {
		if isLanding {
			res.SkipReason = "Landing page - use portal links"
		} else {
			res.SkipReason = "No regulation data found"
		}
	}
	return res
}
