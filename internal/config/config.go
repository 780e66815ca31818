// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
// Every key can be supplied through the environment with the REGS_
// prefix, e.g. REGS_DB_DSN or REGS_WORKER_CONCURRENCY.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	DB        DBConfig        `mapstructure:"db"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Crawl     CrawlConfig     `mapstructure:"crawl"`
	Fetch     FetchConfig     `mapstructure:"fetch"`
	PDF       PDFConfig       `mapstructure:"pdf"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Check     CheckConfig     `mapstructure:"check"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the ops HTTP server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// WorkerConfig governs the job claim loop.
type WorkerConfig struct {
	Concurrency          int `mapstructure:"concurrency"`
	PollIntervalMs       int `mapstructure:"poll_interval_ms"`
	ShutdownDrainSeconds int `mapstructure:"shutdown_drain_seconds"`
	JobBudgetSeconds     int `mapstructure:"job_budget_seconds"`
	HeartbeatSeconds     int `mapstructure:"heartbeat_seconds"`
	MaxAttempts          int `mapstructure:"max_attempts"`
}

// CrawlConfig governs discovery crawling.
type CrawlConfig struct {
	MaxPagesPerState   int     `mapstructure:"max_pages_per_state"`
	MaxDepth           int     `mapstructure:"max_depth"`
	CandidateTopN      int     `mapstructure:"candidate_top_n"`
	MinConfidence      float64 `mapstructure:"min_confidence"`
	EarlyStopThreshold float64 `mapstructure:"early_stop_threshold"`
	PerDomainRPS       float64 `mapstructure:"per_domain_rps"`
}

// FetchConfig configures HTTP client retry behavior.
type FetchConfig struct {
	TimeoutMs    int    `mapstructure:"timeout_ms"`
	MaxRetries   int    `mapstructure:"max_retries"`
	RetryDelayMs int    `mapstructure:"retry_delay_ms"`
	UserAgent    string `mapstructure:"user_agent"`
}

// PDFConfig bounds PDF download and text extraction.
type PDFConfig struct {
	TimeoutMs       int `mapstructure:"timeout_ms"`
	MaxBytes        int `mapstructure:"max_bytes"`
	MaxContextChars int `mapstructure:"max_context_chars"`
	MaxPages        int `mapstructure:"max_pages"`
}

// LLMConfig holds model access settings.
type LLMConfig struct {
	APIKey         string `mapstructure:"api_key"`
	BaseURL        string `mapstructure:"base_url"`
	ModelBasic     string `mapstructure:"model_basic"`
	ModelPro       string `mapstructure:"model_pro"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
	MaxRetries     int    `mapstructure:"max_retries"`
	TimeoutMs      int    `mapstructure:"timeout_ms"`
}

// CheckConfig tunes the extraction check pipeline and approval gate.
type CheckConfig struct {
	AutoApproveThreshold float64 `mapstructure:"auto_approve_threshold"`
	PublishThreshold     float64 `mapstructure:"publish_threshold"`
	MinConfidence        float64 `mapstructure:"min_confidence"`
	MinContentChars      int     `mapstructure:"min_content_chars"`
	ExtractionVersion    string  `mapstructure:"extraction_version"`
}

// StorageConfig sets the snapshot archive destination.
type StorageConfig struct {
	Provider  string `mapstructure:"provider"` // gcs | local | memory
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion event publishing.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"` // gcp | memory | none
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from environment variables, plus an optional
// config file when path is non-empty.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("REGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("db.max_open_conns", 8)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.poll_interval_ms", 2000)
	v.SetDefault("worker.shutdown_drain_seconds", 150)
	v.SetDefault("worker.job_budget_seconds", 120)
	v.SetDefault("worker.heartbeat_seconds", 30)
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("crawl.max_pages_per_state", 25)
	v.SetDefault("crawl.max_depth", 3)
	v.SetDefault("crawl.candidate_top_n", 60)
	v.SetDefault("crawl.min_confidence", 0.70)
	v.SetDefault("crawl.early_stop_threshold", 0.85)
	v.SetDefault("crawl.per_domain_rps", 2.0)
	v.SetDefault("fetch.timeout_ms", 30000)
	v.SetDefault("fetch.max_retries", 2)
	v.SetDefault("fetch.retry_delay_ms", 1000)
	v.SetDefault("fetch.user_agent", "seasonwatch-regs-bot/1.0")
	v.SetDefault("pdf.timeout_ms", 60000)
	v.SetDefault("pdf.max_bytes", 40_000_000)
	v.SetDefault("pdf.max_context_chars", 60000)
	v.SetDefault("pdf.max_pages", 80)
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model_basic", "gpt-4o-mini")
	v.SetDefault("llm.model_pro", "gpt-4o")
	v.SetDefault("llm.max_concurrency", 2)
	v.SetDefault("llm.max_retries", 6)
	v.SetDefault("llm.timeout_ms", 120000)
	v.SetDefault("check.auto_approve_threshold", 0.85)
	v.SetDefault("check.publish_threshold", 0.80)
	v.SetDefault("check.min_confidence", 0.60)
	v.SetDefault("check.min_content_chars", 100)
	v.SetDefault("check.extraction_version", "v6")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "states")
	v.SetDefault("pubsub.provider", "none")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.DB.DSN == "" {
		return fmt.Errorf("db.dsn must be set")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("worker.max_attempts must be > 0")
	}
	if c.Fetch.TimeoutMs <= 0 {
		return fmt.Errorf("fetch.timeout_ms must be > 0")
	}
	if c.Crawl.MaxDepth < 0 {
		return fmt.Errorf("crawl.max_depth must be >= 0")
	}
	if c.Crawl.EarlyStopThreshold < c.Crawl.MinConfidence {
		return fmt.Errorf("crawl.early_stop_threshold must be >= crawl.min_confidence")
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key must be set")
	}
	if c.LLM.MaxConcurrency <= 0 {
		return fmt.Errorf("llm.max_concurrency must be > 0")
	}
	if c.Check.AutoApproveThreshold <= 0 || c.Check.AutoApproveThreshold > 1 {
		return fmt.Errorf("check.auto_approve_threshold must be in (0, 1]")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs provider")
		}
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set for the local provider")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.provider must be gcs, local, or memory")
	}
	switch c.PubSub.Provider {
	case "gcp":
		if c.PubSub.ProjectID == "" || c.PubSub.TopicName == "" {
			return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set for the gcp provider")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("pubsub.provider must be gcp, memory, or none")
	}
	return nil
}

// FetchTimeout returns the HTTP fetch deadline as a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutMs) * time.Millisecond
}

// JobBudget returns the per-job wall clock budget.
func (c Config) JobBudget() time.Duration {
	return time.Duration(c.Worker.JobBudgetSeconds) * time.Second
}

// PollInterval returns the queue poll cadence.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Worker.PollIntervalMs) * time.Millisecond
}

// ShutdownDrain returns how long a stopping worker waits for in-flight jobs.
func (c Config) ShutdownDrain() time.Duration {
	return time.Duration(c.Worker.ShutdownDrainSeconds) * time.Second
}
