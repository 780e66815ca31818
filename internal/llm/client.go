// Package llm wraps the OpenAI chat completions API with retries,
// schema-validated JSON output, and a concurrency gate.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/seasonwatch/regs-crawler/internal/metrics"
	"github.com/seasonwatch/regs-crawler/internal/regs"
)

// Completer is the capability the discovery and extraction stages need.
// Implementations must be safe for concurrent use.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Request is one chat completion call.
type Request struct {
	Model       string
	System      string
	User        string
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// Config for the OpenAI client.
type Config struct {
	APIKey         string
	BaseURL        string
	ModelBasic     string
	ModelPro       string
	MaxConcurrency int
	MaxRetries     int
	Timeout        time.Duration
}

// Client implements Completer over the chat/completions endpoint.
// A weighted semaphore bounds concurrent calls across all worker slots.
type Client struct {
	cfg    Config
	http   *http.Client
	sem    *semaphore.Weighted
	logger *zap.Logger
}

// NewClient builds a Client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.ModelBasic == "" {
		cfg.ModelBasic = "gpt-4o-mini"
	}
	if cfg.ModelPro == "" {
		cfg.ModelPro = cfg.ModelBasic
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 2
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 6
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrency)),
		logger: logger,
	}
}

// ModelFor maps a job tier to a configured model name.
func (c *Client) ModelFor(tier regs.Tier) string {
	if tier == regs.TierPro {
		return c.cfg.ModelPro
	}
	return c.cfg.ModelBasic
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry.after[:\s]+(\d+)`)

// Complete calls the model, retrying rate limits and server errors with
// exponential jittered backoff. Exhausting retries on 429s returns an
// error wrapping regs.ErrRateLimited.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("acquire llm slot: %w", err)
	}
	defer c.sem.Release(1)

	model := req.Model
	if model == "" {
		model = c.cfg.ModelBasic
	}

	retryAfter := time.Second
	var lastErr error
	rateLimited := false

	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		content, status, err := c.doCall(ctx, model, req)
		if err == nil {
			metrics.ObserveLLM(model, "ok")
			return content, nil
		}
		lastErr = err

		switch {
		case status == http.StatusTooManyRequests:
			rateLimited = true
			if m := retryAfterPattern.FindStringSubmatch(err.Error()); m != nil {
				if secs, perr := strconv.Atoi(m[1]); perr == nil {
					if d := time.Duration(secs) * time.Second; d > retryAfter {
						retryAfter = d
					}
				}
			}
			c.logger.Warn("llm rate limited",
				zap.String("model", model),
				zap.Int("attempt", attempt+1),
				zap.Duration("retry_after", retryAfter))
			if werr := sleepWithJitter(ctx, retryAfter); werr != nil {
				return "", werr
			}
			retryAfter = minDuration(retryAfter*2, 60*time.Second)
		case status >= 500:
			c.logger.Warn("llm server error",
				zap.String("model", model),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
			if werr := sleepWithJitter(ctx, retryAfter); werr != nil {
				return "", werr
			}
			retryAfter = minDuration(retryAfter*2, 30*time.Second)
		default:
			metrics.ObserveLLM(model, "error")
			return "", err
		}
	}

	metrics.ObserveLLM(model, "exhausted")
	if rateLimited {
		return "", fmt.Errorf("llm retries exhausted: %w: %w", regs.ErrRateLimited, lastErr)
	}
	return "", fmt.Errorf("llm retries exhausted: %w", lastErr)
}

func (c *Client) doCall(ctx context.Context, model string, req Request) (string, int, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := map[string]any{
		"model":       model,
		"temperature": req.Temperature,
		"max_tokens":  maxTokens,
		"messages": []map[string]string{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.User},
		},
	}
	if req.JSONMode {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return "", 0, fmt.Errorf("marshal request: %w", err)
	}
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(b))
	if err != nil {
		return "", 0, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("llm http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := string(raw)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			msg = "retry-after: " + ra + " " + msg
		}
		return "", resp.StatusCode, fmt.Errorf("llm status %d: %s", resp.StatusCode, truncateErr(msg))
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode llm response: %w", err)
	}
	if len(cc.Choices) == 0 || strings.TrimSpace(cc.Choices[0].Message.Content) == "" {
		return "", resp.StatusCode, fmt.Errorf("llm response had no content")
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), resp.StatusCode, nil
}

func sleepWithJitter(ctx context.Context, base time.Duration) error {
	jitter := time.Duration((rand.Float64() - 0.5) * 0.4 * float64(base))
	d := base + jitter
	if d < 100*time.Millisecond {
		d = 100 * time.Millisecond
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("llm backoff canceled: %w", ctx.Err())
	case <-time.After(d):
		return nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

func truncateErr(s string) string {
	if len(s) > 300 {
		return s[:300]
	}
	return s
}
