package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/kataras/golog"

	"github.com/ent0n29/memorybot/internal/config"
	"github.com/ent0n29/memorybot/internal/conversation"
	"github.com/ent0n29/memorybot/internal/docstore"
	"github.com/ent0n29/memorybot/internal/extractor"
	"github.com/ent0n29/memorybot/internal/httpapi"
	"github.com/ent0n29/memorybot/internal/memory"
	"github.com/ent0n29/memorybot/internal/observability"
	"github.com/ent0n29/memorybot/internal/policy"
	"github.com/ent0n29/memorybot/internal/rag"
	"github.com/ent0n29/memorybot/internal/ratelimit"
)

type ModelInfo struct {
	Provider string
	Detail   string
}

type BuildResult struct {
	Config       config.Config
	API          *httpapi.Server
	Conversation *conversation.Service
	Store        docstore.Store
	Limiter      ratelimit.Limiter
	Metrics      *observability.Metrics
	Model        ModelInfo

	// Cleanup should be called on shutdown to release external resources (DB, caches, etc).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config, logger *golog.Logger) (*BuildResult, error) {
	if logger == nil {
		logger = golog.New()
		logger.SetLevel("disable")
	}
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := docstore.New(ctx, docstore.Config{
		Backend:       cfg.StoreBackend,
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
		RedisPrefix:   cfg.RedisPrefix,
		SQLitePath:    cfg.SQLitePath,
	})
	if err != nil {
		return nil, fmt.Errorf("document store init failed: %w", err)
	}

	models, err := resolveModelProviders(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	limiter, err := ratelimit.New(ratelimit.Config{
		Backend:     cfg.RateLimitBackend,
		Window:      cfg.RateLimitWindow,
		MaxRequests: cfg.RateLimitMaxRequests,
	}, store, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("rate limiter init failed: %w", err)
	}

	minConfidence := cfg.MemoryMinConfidence
	builder := rag.NewBuilder(cfg.SystemPrompt, cfg.MemoryRelevanceFloor)
	svc, err := conversation.NewService(conversation.Dependencies{
		History:   memory.NewShortTermStore(store),
		Memories:  memory.NewVectorStore(store, cfg.MemoryScanLimit, logger),
		Extractor: extractor.New(models.chat, logger),
		Chat:      models.chat,
		Embedder:  models.embedder,
		Limiter:   limiter,
		Redactor:  policy.NewRedactor(cfg.MemoryRedactPII),
		Metrics:   metrics,
		Logger:    logger,
	}, conversation.Options{
		HistoryLimit:  cfg.MemoryHistoryLimit,
		TopK:          cfg.MemoryTopK,
		MinConfidence: &minConfidence,
		Builder:       &builder,
		BusyReply:     cfg.BusyReply,
	})
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("conversation service init failed: %w", err)
	}

	cfg.LLMProvider = models.resolvedProvider
	api := httpapi.New(cfg, svc, store, metrics, logger)

	cleanup := func() error {
		var errs []string
		if local, ok := limiter.(*ratelimit.Local); ok {
			local.Reset()
		}
		if models.cleanup != nil {
			if err := models.cleanup(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if err := store.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:       cfg,
		API:          api,
		Conversation: svc,
		Store:        store,
		Limiter:      limiter,
		Metrics:      metrics,
		Model: ModelInfo{
			Provider: models.resolvedProvider,
			Detail:   models.detail,
		},
		Cleanup: cleanup,
	}, nil
}
