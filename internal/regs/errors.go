package regs

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across the pipeline. Callers match with errors.Is.
var (
	// ErrBlocked marks a 403, 429, or 451 response. A blocked root URL
	// aborts the whole crawl.
	ErrBlocked = errors.New("fetch blocked")
	// ErrUnsupportedContent marks a response that is neither HTML nor PDF.
	ErrUnsupportedContent = errors.New("unsupported content type")
	// ErrTooLarge marks a document over the configured byte cap.
	ErrTooLarge = errors.New("document too large")
	// ErrRateLimited marks an exhausted LLM rate-limit budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotFound marks a missing row.
	ErrNotFound = errors.New("not found")
)

// BlockedError wraps ErrBlocked with the offending status code so skip
// reasons can be rendered as FETCH_BLOCKED_<status>.
type BlockedError struct {
	URL        string
	StatusCode int
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("fetch blocked: %s returned %d", e.URL, e.StatusCode)
}

func (e *BlockedError) Unwrap() error { return ErrBlocked }

// SkipReason renders the structural skip string for the status.
func (e *BlockedError) SkipReason() string {
	return fmt.Sprintf("%s_%d", SkipFetchBlocked, e.StatusCode)
}
