// Package app initializes and holds the long-lived services the
// commands share: the database pool, stores, blob storage, the event
// publisher, and the LLM and fetch clients.
package app

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/seasonwatch/regs-crawler/internal/clock/system"
	"github.com/seasonwatch/regs-crawler/internal/config"
	"github.com/seasonwatch/regs-crawler/internal/fetch"
	"github.com/seasonwatch/regs-crawler/internal/hash/sha256"
	"github.com/seasonwatch/regs-crawler/internal/id/uuid"
	"github.com/seasonwatch/regs-crawler/internal/llm"
	"github.com/seasonwatch/regs-crawler/internal/publisher/nop"
	pubsubpub "github.com/seasonwatch/regs-crawler/internal/publisher/pubsub"
	"github.com/seasonwatch/regs-crawler/internal/regs"
	"github.com/seasonwatch/regs-crawler/internal/storage/gcs"
	"github.com/seasonwatch/regs-crawler/internal/storage/local"
	"github.com/seasonwatch/regs-crawler/internal/store/memory"
	"github.com/seasonwatch/regs-crawler/internal/store/postgres"
)

// App is the dependency container built once at startup and handed to
// the commands. Fields are read-only after NewApp returns.
type App struct {
	Config config.Config
	Logger *zap.Logger

	Pool        *pgxpool.Pool
	Jobs        regs.JobStore
	Portals     regs.PortalStore
	Regulations regs.RegulationStore
	Blob        regs.BlobStore
	Publisher   regs.Publisher

	LLM     *llm.Client
	Fetcher *fetch.Client

	IDs    regs.IDGenerator
	Clock  regs.Clock
	Hasher regs.Hasher

	gcsClient    *gcstorage.Client
	pubsubClient *pubsub.Client
}

// NewApp connects every configured service and fails fast on the first
// one that is unreachable.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		IDs:    uuid.New(),
		Clock:  system.New(),
		Hasher: sha256.New(),
	}

	pool, err := postgres.NewPool(ctx, postgres.PoolConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: int32(cfg.DB.MaxOpenConns),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.Pool = pool
	a.Jobs = postgres.NewJobStore(pool, a.IDs)
	a.Portals = postgres.NewPortalStore(pool, cfg.Crawl.MinConfidence)
	a.Regulations = postgres.NewRegulationStore(pool)

	if err := a.initBlob(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.Fetcher = fetch.New(fetch.Config{
		Timeout:    cfg.FetchTimeout(),
		MaxRetries: cfg.Fetch.MaxRetries,
		RetryDelay: time.Duration(cfg.Fetch.RetryDelayMs) * time.Millisecond,
		UserAgent:  cfg.Fetch.UserAgent,
	}, fetch.NewLimiter(cfg.Crawl.PerDomainRPS, 1), logger)

	a.LLM = llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		ModelBasic:     cfg.LLM.ModelBasic,
		ModelPro:       cfg.LLM.ModelPro,
		MaxConcurrency: cfg.LLM.MaxConcurrency,
		MaxRetries:     cfg.LLM.MaxRetries,
		Timeout:        time.Duration(cfg.LLM.TimeoutMs) * time.Millisecond,
	}, logger)

	logger.Info("services initialized",
		zap.String("storage_provider", cfg.Storage.Provider),
		zap.String("pubsub_provider", cfg.PubSub.Provider))
	return a, nil
}

func (a *App) initBlob(ctx context.Context) error {
	cfg := a.Config.Storage
	switch cfg.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client: %w", err)
		}
		a.gcsClient = client
		blob, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store: %w", err)
		}
		a.Blob = blob
	case "local":
		blob, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store: %w", err)
		}
		a.Blob = blob
	case "memory":
		a.Blob = memory.NewBlobStore()
	default:
		return fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	cfg := a.Config.PubSub
	switch cfg.Provider {
	case "gcp":
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		a.pubsubClient = client
		pub, err := pubsubpub.New(client, cfg.TopicName)
		if err != nil {
			return fmt.Errorf("pubsub publisher: %w", err)
		}
		a.Publisher = pub
	case "memory":
		a.Publisher = memory.NewPublisher()
	case "none":
		a.Publisher = nop.New()
	default:
		return fmt.Errorf("unknown pubsub provider %q", cfg.Provider)
	}
	return nil
}

// Close releases every held connection. Safe to call on a partially
// built App.
func (a *App) Close() {
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Warn("publisher close failed", zap.Error(err))
		}
	} else if a.pubsubClient != nil {
		_ = a.pubsubClient.Close()
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.Logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// Ready pings the database. The ops server uses it for the readiness
// probe.
func (a *App) Ready(ctx context.Context) error {
	if a.Pool == nil {
		return fmt.Errorf("database pool not initialized")
	}
	return a.Pool.Ping(ctx)
}
