package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/memorybot/internal/config"
	"github.com/ent0n29/memorybot/internal/llm"
)

const mockEmbeddingDim = 256

type modelSetup struct {
	chat             llm.ChatProvider
	embedder         llm.EmbeddingProvider
	resolvedProvider string
	detail           string
	cleanup          func() error
}

// resolveModelProviders picks the chat and embedding backends. "auto" uses
// OpenAI when a key is present and the deterministic mock otherwise.
func resolveModelProviders(cfg config.Config) (modelSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if mode == "" {
		mode = "auto"
	}

	tryOpenAI := func() (modelSetup, bool, error) {
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return modelSetup{}, false, nil
		}
		chat, embedder, err := llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:         cfg.OpenAIAPIKey,
			BaseURL:        cfg.OpenAIBaseURL,
			ChatModel:      cfg.OpenAIChatModel,
			EmbeddingModel: cfg.OpenAIEmbeddingModel,
		})
		if err != nil {
			return modelSetup{}, false, fmt.Errorf("openai provider init failed: %w", err)
		}
		return modelSetup{
			chat:             chat,
			embedder:         embedder,
			resolvedProvider: "openai",
			detail:           fmt.Sprintf("openai (%s, %s)", cfg.OpenAIChatModel, cfg.OpenAIEmbeddingModel),
		}, true, nil
	}

	mock := modelSetup{
		chat:             llm.NewMockChat(),
		embedder:         llm.NewMockEmbedder(mockEmbeddingDim),
		resolvedProvider: "mock",
		detail:           "mock (deterministic local replies)",
	}

	var setup modelSetup
	switch mode {
	case "openai":
		s, ok, err := tryOpenAI()
		if err != nil {
			return modelSetup{}, err
		}
		if !ok {
			return modelSetup{}, fmt.Errorf("LLM_PROVIDER=openai but OPENAI_API_KEY is not set")
		}
		setup = s
	case "mock":
		setup = mock
	case "auto":
		s, ok, err := tryOpenAI()
		if err != nil {
			return modelSetup{}, err
		}
		if ok {
			setup = s
		} else {
			setup = mock
			setup.detail = "mock (no OPENAI_API_KEY)"
		}
	default:
		return modelSetup{}, fmt.Errorf("invalid LLM_PROVIDER: %q (expected auto|openai|mock)", cfg.LLMProvider)
	}

	if cfg.EmbeddingCacheMaxCost > 0 {
		cached, err := llm.NewCachedEmbedder(setup.embedder, cfg.EmbeddingCacheMaxCost)
		if err != nil {
			return modelSetup{}, fmt.Errorf("embedding cache init failed: %w", err)
		}
		setup.embedder = cached
		setup.detail += ", cached embeddings"
		setup.cleanup = func() error {
			cached.Close()
			return nil
		}
	}
	return setup, nil
}
