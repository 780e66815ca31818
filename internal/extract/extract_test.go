package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/classify"
	"github.com/seasonwatch/regs-crawler/internal/llm"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

func TestRegexExtractFindsSeasonRanges(t *testing.T) {
	content := `Archery: Oct. 1 - Jan 15. Muzzleloader Season: Dec 2 - Dec 10.
Daily bag limit: 2. Hunters may use a crossbow or shotgun.`

	data := RegexExtract(content)

	require.Len(t, data.Seasons, 2)
	require.Equal(t, "Archery Season", data.Seasons[0].Name)
	require.Equal(t, "Oct. 1", data.Seasons[0].StartDate)
	require.Equal(t, "Jan 15", data.Seasons[0].EndDate)

	require.Len(t, data.BagLimits, 1)
	require.Equal(t, "2", data.BagLimits[0].Daily)

	var methods []string
	for _, m := range data.LegalMethods {
		methods = append(methods, m.Name)
	}
	require.Contains(t, methods, "crossbow")
	require.Contains(t, methods, "shotgun")
}

func TestRegexExtractIgnoresImplausibleLimits(t *testing.T) {
	data := RegexExtract("bag limit: 400 per county")
	require.Empty(t, data.BagLimits)
}

func TestValidateOutputDateChecks(t *testing.T) {
	now := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		entry   regs.SeasonEntry
		wantErr string
	}{
		{
			name:  "valid",
			entry: regs.SeasonEntry{Name: "Archery", StartDate: "2026-10-01", EndDate: "2027-01-15"},
		},
		{
			name:    "malformed start",
			entry:   regs.SeasonEntry{Name: "Archery", StartDate: "Oct 1", EndDate: "2026-11-01"},
			wantErr: "invalid start date",
		},
		{
			name:    "year out of range",
			entry:   regs.SeasonEntry{Name: "Archery", StartDate: "2031-10-01", EndDate: "2031-11-01"},
			wantErr: "out of range",
		},
		{
			name:    "end before start",
			entry:   regs.SeasonEntry{Name: "Archery", StartDate: "2026-11-01", EndDate: "2026-10-01"},
			wantErr: "end date before start",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := &regs.ExtractionOutput{SeasonEntries: []regs.SeasonEntry{tc.entry}}
			err := ValidateOutput(out, now)
			if tc.wantErr == "" {
				require.NoError(t, err)
			} else {
				require.ErrorContains(t, err, tc.wantErr)
			}
		})
	}
}

func TestValidateNormalized(t *testing.T) {
	good := NormalizedData{
		Seasons:   []NormalizedSeason{{Name: "Archery Season", StartDate: "Oct 1", EndDate: "Jan 15"}},
		BagLimits: []NormalizedBagLimit{{Species: "General", Daily: "2"}},
	}
	v := ValidateNormalized(good, "deer")
	require.True(t, v.Valid)
	require.Empty(t, v.Warnings)

	bad := NormalizedData{
		Seasons:   []NormalizedSeason{{Name: "Archery Season", StartDate: "first frost"}},
		BagLimits: []NormalizedBagLimit{{Species: "General", Daily: "99"}},
	}
	v = ValidateNormalized(bad, "deer")
	require.True(t, v.Valid)
	require.Len(t, v.Warnings, 2)

	empty := ValidateNormalized(NormalizedData{}, "deer")
	require.False(t, empty.Valid)
	require.Equal(t, "No season dates found", empty.PendingReason)
}

func TestScorePolicyConfidence(t *testing.T) {
	p := DefaultScorePolicy()

	rich := NormalizedData{
		Seasons: []NormalizedSeason{
			{Name: "Archery"}, {Name: "Muzzleloader"}, {Name: "Firearms"},
		},
		BagLimits: []NormalizedBagLimit{{Species: "General", Daily: "2"}},
	}
	cls := classify.Result{HasTable: true, HasDatePattern: true, HasSeasonKeywords: true}
	// 0.5 + 0.15 + 0.15 + 0.1 + 0.2 + 0.1 + 0.05, clamped
	require.Equal(t, 1.0, p.Confidence(rich, cls, "deer"))

	// deer page with no seasons is penalized below the base
	sparse := NormalizedData{}
	require.InDelta(t, 0.2, p.Confidence(sparse, classify.Result{}, "deer"), 1e-9)

	// same page for fishing keeps the base score
	require.InDelta(t, 0.5, p.Confidence(sparse, classify.Result{}, "fishing"), 1e-9)
}

func TestFilterCitationsDropsUncorroborated(t *testing.T) {
	content := "Archery Season:   Oct 1 - Jan 15.\nBag limit 2 per day."
	citations := []regs.Citation{
		{URL: "https://example.gov/regs", Snippet: "Archery Season: Oct 1 - Jan 15"},
		{URL: "https://example.gov/regs", Snippet: "Rifle Season: Nov 1 - Nov 20"},
		{URL: "https://example.gov/regs", Snippet: "   "},
	}

	kept := FilterCitations(citations, content)
	require.Len(t, kept, 1)
	require.Contains(t, kept[0].Snippet, "Archery Season")
}

type fakeCompleter struct {
	response string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func TestExtractSeasonsParsesStrictSchema(t *testing.T) {
	fake := &fakeCompleter{response: "```json\n" + `{
  "state_code": "PA",
  "species": "deer",
  "season_entries": [
    {"name": "Archery Season", "weapon": "bow", "start_date": "2026-10-03", "end_date": "2026-11-13",
     "bag_limit": null, "antler_restrictions": null, "area_notes": null, "notes": null}
  ],
  "bag_limits": {"daily": "1", "possession": null, "season_total": null, "notes": null},
  "unit_scope": "statewide",
  "citations": [
    {"url": "https://example.gov/deer", "type": "html", "snippet": "Archery: Oct 3 - Nov 13", "page_number": null}
  ],
  "confidence_overall": 0.9,
  "skip_reason": null,
  "notes": "clear season table"
}` + "\n```"}

	e := NewExtractor(fake, zap.NewNop())
	out, err := e.ExtractSeasons(context.Background(), SeasonParams{
		StateCode:  "PA",
		Species:    "deer",
		SourceURL:  "https://example.gov/deer",
		SourceType: regs.CitationHTML,
		Content:    "Archery: Oct 3 - Nov 13",
		Model:      "gpt-4o-mini",
	})
	require.NoError(t, err)
	require.Equal(t, "PA", out.StateCode)
	require.Len(t, out.SeasonEntries, 1)
	require.Equal(t, "2026-10-03", out.SeasonEntries[0].StartDate)
	require.Equal(t, 0.9, out.Confidence)
	require.Equal(t, regs.ScopeStatewide, out.UnitScope)

	require.Len(t, fake.requests, 1)
	require.True(t, fake.requests[0].JSONMode)
	require.Equal(t, "gpt-4o-mini", fake.requests[0].Model)
	require.Contains(t, fake.requests[0].System, "DEER")
}

func TestExtractSeasonsRejectsSchemaViolation(t *testing.T) {
	// season entry missing required dates
	fake := &fakeCompleter{response: `{
  "state_code": "PA",
  "species": "deer",
  "season_entries": [{"name": "Archery Season"}],
  "citations": [],
  "confidence_overall": 0.9
}`}

	e := NewExtractor(fake, zap.NewNop())
	_, err := e.ExtractSeasons(context.Background(), SeasonParams{
		StateCode: "PA", Species: "deer", SourceURL: "https://example.gov/deer",
		SourceType: regs.CitationHTML, Content: "x", Model: "gpt-4o-mini",
	})
	require.ErrorContains(t, err, "rejected")
}

func TestNormalizeContentParsesSummary(t *testing.T) {
	fake := &fakeCompleter{response: `{
  "seasons": [{"name": "Spring Season", "start_date": "Apr 18", "end_date": "May 31", "notes": null}],
  "bag_limits": [{"species": "turkey", "daily": "1", "possession": null, "season": "2", "notes": null}],
  "legal_methods": [{"name": "shotgun", "allowed": true, "restrictions": null}],
  "notes": ["bearded birds only in spring"]
}`}

	e := NewExtractor(fake, zap.NewNop())
	data, err := e.NormalizeContent(context.Background(), "content", "turkey", "AL", "gpt-4o-mini")
	require.NoError(t, err)
	require.Len(t, data.Seasons, 1)
	require.Equal(t, "Spring Season", data.Seasons[0].Name)
	require.Equal(t, "2", data.BagLimits[0].Season)
	require.False(t, data.Empty())
}
