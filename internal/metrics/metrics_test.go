package metrics

import (
	"testing"
	"time"
)

// TestInitIdempotent ensures Init can be called repeatedly without panics.
func TestInitIdempotent(t *testing.T) {
	Init()
	Init()

	ObserveFetch("https://wildlife.example.gov/regs", "2xx", 1024)
	ObserveCrawlPage("CO")
	ObserveJob("discover_state", "done", 3*time.Second)
	SetActiveJobs(2)
	ObserveLLM("gpt-4o-mini", "ok")
	ObserveApproval("auto")
	ObserveRateLimitDelay("https://wildlife.example.gov", 200*time.Millisecond)
}

// TestSanitizeDomain checks hostname extraction and fallbacks.
func TestSanitizeDomain(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://Wildlife.Example.GOV/page": "wildlife.example.gov",
		"wildlife.example.gov/page":         "wildlife.example.gov",
		"://bad":                            "unknown",
		"":                                  "unknown",
	}
	for in, want := range cases {
		if got := SanitizeDomain(in); got != want {
			t.Fatalf("SanitizeDomain(%q) = %q, want %q", in, got, want)
		}
	}
}
