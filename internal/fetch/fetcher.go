// Package fetch provides the HTTP client used for crawl and check fetches.
package fetch

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/metrics"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

const defaultMaxBodyBytes = 10 << 20

// Config controls client behavior.
type Config struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	UserAgent  string
}

// Client implements regs.Fetcher over net/http with retries and a
// per-domain politeness limiter.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *Limiter
	logger  *zap.Logger
}

// New builds a Client. A nil limiter disables politeness waits.
func New(cfg Config, limiter *Limiter, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 4
	return &Client{
		cfg: cfg,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		limiter: limiter,
		logger:  logger,
	}
}

// Fetch retrieves a document. Transport failures and 5xx responses are
// retried with linearly growing jittered delays. A 403, 429, or 451
// returns a *regs.BlockedError and is never retried.
func (c *Client) Fetch(ctx context.Context, req regs.FetchRequest) (*regs.FetchResult, error) {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * c.cfg.RetryDelay
			delay += time.Duration(rand.Int63n(int64(c.cfg.RetryDelay) / 2))
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("fetch canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, req.URL); err != nil {
				return nil, err
			}
		}

		res, retryable, err := c.doOnce(ctx, req)
		if err == nil {
			return res, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		c.logger.Debug("fetch attempt failed",
			zap.String("url", req.URL),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, fmt.Errorf("fetch %s: retries exhausted: %w", req.URL, lastErr)
}

func (c *Client) doOnce(ctx context.Context, req regs.FetchRequest) (*regs.FetchResult, bool, error) {
	method := http.MethodGet
	if req.HeadOnly {
		method = http.MethodHead
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", c.cfg.UserAgent)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/pdf;q=0.9,*/*;q=0.8")
	if req.Referer != "" {
		httpReq.Header.Set("Referer", req.Referer)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		metrics.ObserveFetch(req.URL, "error", 0)
		return nil, ctx.Err() == nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusUnavailableForLegalReasons:
		metrics.ObserveFetch(req.URL, statusClass(resp.StatusCode), 0)
		return nil, false, &regs.BlockedError{URL: req.URL, StatusCode: resp.StatusCode}
	}
	if resp.StatusCode >= 500 {
		metrics.ObserveFetch(req.URL, statusClass(resp.StatusCode), 0)
		return nil, true, fmt.Errorf("fetch %s: server returned %d", req.URL, resp.StatusCode)
	}

	result := &regs.FetchResult{
		URL:           resp.Request.URL.String(),
		StatusCode:    resp.StatusCode,
		ContentType:   normalizeContentType(resp.Header.Get("Content-Type")),
		ContentLength: resp.ContentLength,
		Elapsed:       time.Since(start),
	}
	if req.HeadOnly {
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, perr := strconv.ParseInt(cl, 10, 64); perr == nil {
				result.ContentLength = n
			}
		}
		metrics.ObserveFetch(req.URL, statusClass(resp.StatusCode), 0)
		return result, false, nil
	}

	maxBytes := req.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, false, fmt.Errorf("fetch %s: body exceeds %d bytes: %w", req.URL, maxBytes, regs.ErrTooLarge)
	}
	result.Body = body
	metrics.ObserveFetch(req.URL, statusClass(resp.StatusCode), len(body))
	return result, false, nil
}

func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}

func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// IsHTML reports whether the content type is an HTML document.
func IsHTML(contentType string) bool {
	return contentType == "text/html" || contentType == "application/xhtml+xml"
}

// IsPDF reports whether the content type or body magic marks a PDF.
func IsPDF(contentType string, body []byte) bool {
	if contentType == "application/pdf" {
		return true
	}
	return len(body) >= 5 && string(body[:5]) == "%PDF-"
}
