package worker

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/extract"
	"github.com/seasonwatch/regs-crawler/internal/llm"
	"github.com/seasonwatch/regs-crawler/internal/pdf"
	"github.com/seasonwatch/regs-crawler/internal/regs"
	"github.com/seasonwatch/regs-crawler/internal/store/memory"
)

type fakeFetcher struct {
	results map[string]*regs.FetchResult
	errs    map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, req regs.FetchRequest) (*regs.FetchResult, error) {
	if err, ok := f.errs[req.URL]; ok {
		return nil, err
	}
	if res, ok := f.results[req.URL]; ok {
		return res, nil
	}
	return nil, regs.ErrNotFound
}

type fakeCompleter struct {
	response string
	err      error
	lastReq  llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.lastReq = req
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

type staticModels struct{}

func (staticModels) ModelFor(regs.Tier) string { return "test-model" }

type staticHasher struct{}

func (staticHasher) Hash([]byte) string { return "hash123" }

const huntingURL = "https://www.pgc.pa.gov/hunting-seasons"

// deerPage flattens to well over the minimum content length and carries
// the exact phrase the fake citations quote.
var deerPage = "<html><body><p>Pennsylvania deer hunting seasons for license year 2026-27. " +
	"Archery Season: Oct. 3 - Jan. 18 statewide with crossbows permitted for all hunters. " +
	"Regular Firearms Season: Nov. 28 - Dec. 12 in all wildlife management units. " +
	"Daily bag limit: one antlered deer per license year plus antlerless deer per permits held. " +
	"Hunters must wear 250 square inches of fluorescent orange during firearms seasons.</p></body></html>"

const extractionResponse = `{
  "state_code": "PA",
  "species": "deer",
  "season_entries": [
    {"name": "Archery Season", "weapon": "bow", "start_date": "2026-10-03", "end_date": "2027-01-18",
     "bag_limit": null, "antler_restrictions": null, "area_notes": null, "notes": null}
  ],
  "citations": [
    {"url": "https://www.pgc.pa.gov/hunting-seasons", "type": "html",
     "snippet": "Archery Season: Oct. 3 - Jan. 18", "page_number": null}
  ],
  "unit_scope": "statewide",
  "confidence_overall": 0.9
}`

func seededPortals(t *testing.T) *memory.PortalStore {
	t.Helper()
	portals := memory.NewPortalStore()
	require.NoError(t, portals.SavePortalLinks(context.Background(), regs.PortalUpdate{
		StateCode: "PA",
		Output: regs.DiscoveryOutput{
			Hunting: regs.CategoryLink{URL: huntingURL, Confidence: 0.9},
		},
		UpdatedAt: testClock().Now(),
	}))
	return portals
}

func newExtractProcessor(t *testing.T, fetcher regs.Fetcher, portals regs.PortalStore, completer llm.Completer, blob regs.BlobStore, store regs.RegulationStore) *ExtractProcessor {
	t.Helper()
	logger := zap.NewNop()
	if store == nil {
		store = memory.NewRegulationStore()
	}
	return NewExtractProcessor(
		fetcher,
		portals,
		pdf.New(fetcher, pdf.Config{}, logger),
		extract.NewExtractor(completer, logger),
		staticModels{},
		staticHasher{},
		blob,
		store,
		testClock(),
		ExtractConfig{},
		logger)
}

func TestExtractProcessorHappyPath(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{results: map[string]*regs.FetchResult{
		huntingURL: {URL: huntingURL, StatusCode: 200, ContentType: "text/html", Body: []byte(deerPage)},
	}}
	completer := &fakeCompleter{response: extractionResponse}
	blob := memory.NewBlobStore()
	store := memory.NewRegulationStore()

	proc := newExtractProcessor(t, fetcher, seededPortals(t), completer, blob, store)
	result, err := proc.Process(context.Background(), regs.Job{
		Type: regs.JobTypeExtractState, StateCode: "PA", Species: "deer", Tier: regs.TierBasic,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Empty(t, result.SkipReason)

	out, ok := result.Output.(*regs.ExtractionOutput)
	require.True(t, ok)
	require.Len(t, out.SeasonEntries, 1)
	require.Equal(t, "Archery Season", out.SeasonEntries[0].Name)
	require.Len(t, out.Citations, 1)
	require.InDelta(t, 0.9, out.Confidence, 1e-9)

	require.Equal(t, "test-model", completer.lastReq.Model)
	require.True(t, completer.lastReq.JSONMode)
	require.Contains(t, completer.lastReq.System, "DEER")

	_, archived := blob.Get("states/PA/hash123")
	require.True(t, archived)

	rec, stored := store.Extracted("PA", "deer", "2026-2027")
	require.True(t, stored)
	require.Equal(t, regs.ExtractionPublished, rec.Status)
	require.InDelta(t, 0.9, rec.Confidence, 1e-9)
	require.Contains(t, string(rec.Payload), "Archery Season")
	require.Equal(t, huntingURL, rec.SourceURL)
	require.Equal(t, 2026, rec.YearStart)
}

func TestExtractProcessorSkipsWithoutPortalLinks(t *testing.T) {
	t.Parallel()

	proc := newExtractProcessor(t, &fakeFetcher{}, memory.NewPortalStore(), &fakeCompleter{}, nil, nil)
	result, err := proc.Process(context.Background(), regs.Job{StateCode: "ZZ", Species: "deer"})
	require.NoError(t, err)
	require.Equal(t, regs.SkipNoSource, result.SkipReason)
}

func TestExtractProcessorSkipsSpeciesWithoutSource(t *testing.T) {
	t.Parallel()

	// Only a hunting link exists, so fishing species have no source.
	proc := newExtractProcessor(t, &fakeFetcher{}, seededPortals(t), &fakeCompleter{}, nil, nil)
	result, err := proc.Process(context.Background(), regs.Job{StateCode: "PA", Species: "trout"})
	require.NoError(t, err)
	require.Equal(t, regs.SkipNoSource, result.SkipReason)
}

func TestExtractProcessorSkipsThinContent(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{results: map[string]*regs.FetchResult{
		huntingURL: {URL: huntingURL, StatusCode: 200, ContentType: "text/html", Body: []byte("<html><body>Coming soon</body></html>")},
	}}
	proc := newExtractProcessor(t, fetcher, seededPortals(t), &fakeCompleter{}, nil, nil)
	result, err := proc.Process(context.Background(), regs.Job{StateCode: "PA", Species: "deer"})
	require.NoError(t, err)
	require.Equal(t, regs.SkipInsufficientContent, result.SkipReason)
}

func TestExtractProcessorBlockedFetchSkips(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{errs: map[string]error{
		huntingURL: &regs.BlockedError{URL: huntingURL, StatusCode: 429},
	}}
	proc := newExtractProcessor(t, fetcher, seededPortals(t), &fakeCompleter{}, nil, nil)
	result, err := proc.Process(context.Background(), regs.Job{StateCode: "PA", Species: "deer"})
	require.NoError(t, err)
	require.Equal(t, regs.SkipFetchBlocked, result.SkipReason)
	require.Equal(t, "FETCH_BLOCKED_429", result.Stats["detail"])
}

func TestExtractProcessorUncitedOutputCappedForReview(t *testing.T) {
	t.Parallel()

	// The citation quotes text that is not in the page, so it is dropped.
	// A confident extraction still surfaces, capped and parked for
	// review rather than skipped.
	uncited := strings.ReplaceAll(extractionResponse,
		"Archery Season: Oct. 3 - Jan. 18", "Rifle Season: Dec. 1 - Dec. 24")
	fetcher := &fakeFetcher{results: map[string]*regs.FetchResult{
		huntingURL: {URL: huntingURL, StatusCode: 200, ContentType: "text/html", Body: []byte(deerPage)},
	}}
	store := memory.NewRegulationStore()
	proc := newExtractProcessor(t, fetcher, seededPortals(t), &fakeCompleter{response: uncited}, nil, store)
	result, err := proc.Process(context.Background(), regs.Job{StateCode: "PA", Species: "deer"})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Empty(t, result.SkipReason)

	out, ok := result.Output.(*regs.ExtractionOutput)
	require.True(t, ok)
	require.Empty(t, out.Citations)
	require.InDelta(t, 0.5, out.Confidence, 1e-9)

	rec, stored := store.Extracted("PA", "deer", "2026-2027")
	require.True(t, stored)
	require.Equal(t, regs.ExtractionNeedsReview, rec.Status)
}

func TestExtractProcessorLowRawConfidenceSkips(t *testing.T) {
	t.Parallel()

	weak := strings.ReplaceAll(extractionResponse, `"confidence_overall": 0.9`, `"confidence_overall": 0.4`)
	fetcher := &fakeFetcher{results: map[string]*regs.FetchResult{
		huntingURL: {URL: huntingURL, StatusCode: 200, ContentType: "text/html", Body: []byte(deerPage)},
	}}
	proc := newExtractProcessor(t, fetcher, seededPortals(t), &fakeCompleter{response: weak}, nil, nil)
	result, err := proc.Process(context.Background(), regs.Job{StateCode: "PA", Species: "deer"})
	require.NoError(t, err)
	require.Equal(t, regs.SkipLowConfidence, result.SkipReason)
}

func TestExtractProcessorRejectsImplausibleDates(t *testing.T) {
	t.Parallel()

	stale := strings.ReplaceAll(strings.ReplaceAll(extractionResponse, "2026-10-03", "2019-10-03"), "2027-01-18", "2020-01-18")
	fetcher := &fakeFetcher{results: map[string]*regs.FetchResult{
		huntingURL: {URL: huntingURL, StatusCode: 200, ContentType: "text/html", Body: []byte(deerPage)},
	}}
	proc := newExtractProcessor(t, fetcher, seededPortals(t), &fakeCompleter{response: stale}, nil, nil)
	result, err := proc.Process(context.Background(), regs.Job{StateCode: "PA", Species: "deer"})
	require.NoError(t, err)
	require.Equal(t, regs.SkipValidationFailed, result.SkipReason)
}

func TestExtractProcessorNoSeasonsSkips(t *testing.T) {
	t.Parallel()

	empty := `{
  "state_code": "PA", "species": "deer", "season_entries": [],
  "citations": [{"url": "https://www.pgc.pa.gov/hunting-seasons", "type": "html",
    "snippet": "Archery Season: Oct. 3 - Jan. 18", "page_number": null}],
  "unit_scope": "unknown", "confidence_overall": 0.8
}`
	fetcher := &fakeFetcher{results: map[string]*regs.FetchResult{
		huntingURL: {URL: huntingURL, StatusCode: 200, ContentType: "text/html", Body: []byte(deerPage)},
	}}
	proc := newExtractProcessor(t, fetcher, seededPortals(t), &fakeCompleter{response: empty}, nil, nil)
	result, err := proc.Process(context.Background(), regs.Job{StateCode: "PA", Species: "deer"})
	require.NoError(t, err)
	require.Equal(t, regs.SkipNoSeasonsFound, result.SkipReason)
}
