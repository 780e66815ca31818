package crawl

import (
	"strings"
)

// Keyword lists tuned for state wildlife agency sites. Page scores add
// 0.1 per matched keyword with title matches boosted separately.
var huntingRegsKeywords = []string{
	"hunting regulations", "hunting seasons", "hunting guide", "hunting digest",
	"deer season", "deer hunting", "turkey season", "turkey hunting",
	"bag limit", "season dates", "harvest", "antler", "archery season",
	"firearm season", "muzzleloader", "small game", "big game",
	"game regulations", "wildlife regulations", "rules and regulations",
}

var fishingRegsKeywords = []string{
	"fishing regulations", "fishing guide", "fishing seasons",
	"creel limit", "size limit", "trout", "bass", "catfish",
	"sportfish", "freshwater fishing", "saltwater fishing",
	"fishing rules", "angling",
}

var deprioritizeKeywords = []string{
	"news", "blog", "press release", "press-release", "article",
	"event", "calendar", "meeting", "public notice", "comment period",
	"shop", "store", "merchandise", "gift", "careers", "jobs",
	"contact us", "about us", "history", "mission", "staff",
	"facebook", "twitter", "instagram", "youtube", "social media",
	"subscribe", "newsletter", "email signup",
}

// pdfRegsKeywords boost PDF candidates during selection.
var pdfRegsKeywords = []string{
	"regulation", "guide", "handbook", "digest", "seasons", "rules",
	"hunting", "fishing", "wildlife", "game", "bag-limit", "baglimit",
}

// AllRegsKeywords returns the combined hunting and fishing keyword set.
func AllRegsKeywords() []string {
	out := make([]string, 0, len(huntingRegsKeywords)+len(fishingRegsKeywords))
	out = append(out, huntingRegsKeywords...)
	out = append(out, fishingRegsKeywords...)
	return out
}

// PageScore is the relevance verdict for one page.
type PageScore struct {
	Score           float64
	MatchedKeywords []string
	IsHunting       bool
	IsFishing       bool
}

// ScorePage rates a page for regulations relevance on [0, 1].
func ScorePage(title, text, url string) PageScore {
	combined := strings.ToLower(title + " " + text + " " + url)
	var matched []string
	var huntingScore, fishingScore float64

	for _, kw := range huntingRegsKeywords {
		if strings.Contains(combined, kw) {
			matched = append(matched, kw)
			huntingScore += 0.1
		}
	}
	for _, kw := range fishingRegsKeywords {
		if strings.Contains(combined, kw) {
			matched = append(matched, kw)
			fishingScore += 0.1
		}
	}

	var penalty float64
	for _, kw := range deprioritizeKeywords {
		if strings.Contains(combined, kw) {
			penalty += 0.05
		}
	}

	// Title matches are a stronger signal.
	lowerTitle := strings.ToLower(title)
	if strings.Contains(lowerTitle, "regulation") || strings.Contains(lowerTitle, "rules") {
		huntingScore += 0.2
		fishingScore += 0.2
	}
	if strings.Contains(lowerTitle, "hunting") {
		huntingScore += 0.15
	}
	if strings.Contains(lowerTitle, "fishing") {
		fishingScore += 0.15
	}
	if strings.Contains(lowerTitle, "season") {
		huntingScore += 0.1
		fishingScore += 0.1
	}

	huntingScore = clamp01(huntingScore - penalty)
	fishingScore = clamp01(fishingScore - penalty)

	return PageScore{
		Score:           max(huntingScore, fishingScore),
		MatchedKeywords: matched,
		IsHunting:       huntingScore > 0.2,
		IsFishing:       fishingScore > 0.2,
	}
}

// ScoreLinkPriority rates a link for queue order; higher crawls sooner.
func ScoreLinkPriority(linkText, url string) int {
	priority := 50
	combined := strings.ToLower(url) + " " + strings.ToLower(linkText)

	if strings.Contains(combined, "regulation") || strings.Contains(combined, "rules") {
		priority += 30
	}
	if strings.Contains(combined, "hunting") || strings.Contains(combined, "fishing") {
		priority += 20
	}
	if strings.Contains(combined, "season") || strings.Contains(combined, "guide") || strings.Contains(combined, "digest") {
		priority += 15
	}
	if strings.Contains(combined, "deer") || strings.Contains(combined, "turkey") {
		priority += 10
	}
	if strings.Contains(combined, "license") || strings.Contains(combined, "permit") {
		priority += 5
	}
	for _, kw := range deprioritizeKeywords {
		if strings.Contains(combined, kw) {
			priority -= 30
			break
		}
	}

	priority -= pathDepth(url) * 2

	if priority < 0 {
		return 0
	}
	return priority
}

// ScorePDFName counts regulations keywords in a PDF URL.
func ScorePDFName(url string) int {
	lower := strings.ToLower(url)
	count := 0
	for _, kw := range pdfRegsKeywords {
		if strings.Contains(lower, kw) {
			count++
		}
	}
	return count
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
