package crawl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScorePageHuntingRegulations(t *testing.T) {
	t.Parallel()

	ps := ScorePage(
		"Hunting Regulations",
		"Deer season dates, bag limit information, and archery season details.",
		"https://example.gov/hunting/regulations",
	)
	require.Greater(t, ps.Score, 0.5)
	require.True(t, ps.IsHunting)
	require.Contains(t, ps.MatchedKeywords, "deer season")
	require.Contains(t, ps.MatchedKeywords, "bag limit")
}

func TestScorePagePenalizesNewsContent(t *testing.T) {
	t.Parallel()

	relevant := ScorePage("Fishing Regulations", "trout creel limit", "https://example.gov/fishing")
	noisy := ScorePage("Fishing Regulations", "trout creel limit news blog event calendar subscribe newsletter", "https://example.gov/fishing")
	require.Greater(t, relevant.Score, noisy.Score)
}

func TestScorePageIrrelevant(t *testing.T) {
	t.Parallel()

	ps := ScorePage("Board Meeting Minutes", "agenda staff careers", "https://example.gov/about")
	require.Zero(t, ps.Score)
	require.False(t, ps.IsHunting)
	require.False(t, ps.IsFishing)
}

func TestScoreLinkPriority(t *testing.T) {
	t.Parallel()

	regsLink := ScoreLinkPriority("Hunting Regulations", "https://example.gov/hunting/regulations")
	newsLink := ScoreLinkPriority("Latest News", "https://example.gov/newsroom")
	require.Greater(t, regsLink, newsLink)

	shallow := ScoreLinkPriority("Guide", "https://example.gov/guide")
	deep := ScoreLinkPriority("Guide", "https://example.gov/a/b/c/d/e/guide")
	require.Greater(t, shallow, deep)

	require.GreaterOrEqual(t, ScoreLinkPriority("News News News", "https://example.gov/x/y/z/news-blog-event"), 0)
}

func TestScorePDFName(t *testing.T) {
	t.Parallel()

	require.Greater(t, ScorePDFName("https://example.gov/hunting-regulations-digest.pdf"), ScorePDFName("https://example.gov/report.pdf"))
}

func TestBestSnippetFindsKeywordSection(t *testing.T) {
	t.Parallel()

	filler := make([]byte, 2000)
	for i := range filler {
		filler[i] = 'x'
	}
	text := string(filler) + " deer season opens with a bag limit of two " + string(filler)
	snippet := BestSnippet(text, AllRegsKeywords())
	require.Contains(t, snippet, "deer season")
}
