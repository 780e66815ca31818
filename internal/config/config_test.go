package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
db:
  dsn: postgres://localhost/regs
  max_open_conns: 4
worker:
  concurrency: 8
  poll_interval_ms: 500
  shutdown_drain_seconds: 30
  job_budget_seconds: 90
  max_attempts: 2
crawl:
  max_pages_per_state: 40
  max_depth: 2
  candidate_top_n: 30
  min_confidence: 0.5
  early_stop_threshold: 0.9
fetch:
  timeout_ms: 15000
  max_retries: 1
  retry_delay_ms: 250
  user_agent: test-agent
llm:
  api_key: test-key
  model_basic: small-model
  model_pro: big-model
check:
  auto_approve_threshold: 0.8
storage:
  provider: local
  local_dir: /tmp/snapshots
pubsub:
  provider: memory
logging:
  development: false
  level: warn
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Fatalf("expected concurrency 8, got %d", cfg.Worker.Concurrency)
	}
	if cfg.Crawl.EarlyStopThreshold != 0.9 {
		t.Fatalf("expected early stop 0.9, got %f", cfg.Crawl.EarlyStopThreshold)
	}
	if cfg.Fetch.UserAgent != "test-agent" {
		t.Fatalf("expected test-agent, got %s", cfg.Fetch.UserAgent)
	}
	if cfg.LLM.ModelPro != "big-model" {
		t.Fatalf("expected big-model, got %s", cfg.LLM.ModelPro)
	}
	if got := cfg.JobBudget(); got != 90*time.Second {
		t.Fatalf("expected 90s job budget, got %v", got)
	}
	if got := cfg.PollInterval(); got != 500*time.Millisecond {
		t.Fatalf("expected 500ms poll interval, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("REGS_DB_DSN", "postgres://localhost/regs")
	t.Setenv("REGS_LLM_API_KEY", "env-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Crawl.MaxPagesPerState != 25 {
		t.Fatalf("expected default 25 pages, got %d", cfg.Crawl.MaxPagesPerState)
	}
	if cfg.Crawl.MaxDepth != 3 {
		t.Fatalf("expected default depth 3, got %d", cfg.Crawl.MaxDepth)
	}
	if cfg.Check.AutoApproveThreshold != 0.85 {
		t.Fatalf("expected default threshold 0.85, got %f", cfg.Check.AutoApproveThreshold)
	}
	if cfg.LLM.MaxConcurrency != 2 {
		t.Fatalf("expected default llm concurrency 2, got %d", cfg.LLM.MaxConcurrency)
	}
	if cfg.PDF.MaxBytes != 40_000_000 {
		t.Fatalf("expected default pdf cap, got %d", cfg.PDF.MaxBytes)
	}
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing dsn", func(c *Config) { c.DB.DSN = "" }, "db.dsn"},
		{"missing api key", func(c *Config) { c.LLM.APIKey = "" }, "llm.api_key"},
		{"bad concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"bad threshold order", func(c *Config) {
			c.Crawl.MinConfidence = 0.9
			c.Crawl.EarlyStopThreshold = 0.5
		}, "early_stop_threshold"},
		{"gcs without bucket", func(c *Config) {
			c.Storage.Provider = "gcs"
			c.Storage.GCSBucket = ""
		}, "gcs_bucket"},
		{"unknown pubsub provider", func(c *Config) { c.PubSub.Provider = "kafka" }, "pubsub.provider"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func validConfig() Config {
	return Config{
		Server: ServerConfig{Port: 8080},
		DB:     DBConfig{DSN: "postgres://localhost/regs", MaxOpenConns: 4},
		Worker: WorkerConfig{
			Concurrency:          4,
			PollIntervalMs:       2000,
			ShutdownDrainSeconds: 150,
			JobBudgetSeconds:     120,
			MaxAttempts:          3,
		},
		Crawl: CrawlConfig{
			MaxPagesPerState:   25,
			MaxDepth:           3,
			CandidateTopN:      60,
			MinConfidence:      0.7,
			EarlyStopThreshold: 0.85,
			PerDomainRPS:       2,
		},
		Fetch:   FetchConfig{TimeoutMs: 30000, MaxRetries: 2, RetryDelayMs: 1000, UserAgent: "ua"},
		PDF:     PDFConfig{TimeoutMs: 60000, MaxBytes: 40_000_000, MaxContextChars: 60000, MaxPages: 80},
		LLM:     LLMConfig{APIKey: "key", MaxConcurrency: 2, MaxRetries: 6, TimeoutMs: 120000},
		Check:   CheckConfig{AutoApproveThreshold: 0.85, MinConfidence: 0.6, MinContentChars: 100},
		Storage: StorageConfig{Provider: "memory", Prefix: "states"},
		PubSub:  PubSubConfig{Provider: "none"},
	}
}
