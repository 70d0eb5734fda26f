package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the memory-backed chat service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	AllowAnyOrigin   bool
	WebhookSecret    string

	StoreBackend  string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	SQLitePath    string

	LLMProvider           string
	OpenAIAPIKey          string
	OpenAIBaseURL         string
	OpenAIChatModel       string
	OpenAIEmbeddingModel  string
	EmbeddingCacheMaxCost int64

	MemoryHistoryLimit   int
	MemoryTopK           int
	MemoryScanLimit      int
	MemoryRelevanceFloor float64
	MemoryMinConfidence  float64
	MemoryRedactPII      bool

	RateLimitBackend     string
	RateLimitWindow      time.Duration
	RateLimitMaxRequests int

	SystemPrompt string
	BusyReply    string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:             envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:     envOrDefault("APP_METRICS_NAMESPACE", "memorybot"),
		LogLevel:             strings.ToLower(envOrDefault("APP_LOG_LEVEL", "info")),
		WebhookSecret:        stringsTrimSpace("WEBHOOK_SECRET"),
		StoreBackend:         strings.ToLower(stringsTrimSpace("STORE_BACKEND")),
		DatabaseURL:          stringsTrimSpace("DATABASE_URL"),
		RedisAddr:            envOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisPrefix:          envOrDefault("REDIS_PREFIX", "memorybot:"),
		SQLitePath:           envOrDefault("SQLITE_PATH", "memorybot.db"),
		LLMProvider:          strings.ToLower(envOrDefault("LLM_PROVIDER", "auto")),
		OpenAIAPIKey:         stringsTrimSpace("OPENAI_API_KEY"),
		OpenAIBaseURL:        stringsTrimSpace("OPENAI_BASE_URL"),
		OpenAIChatModel:      envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),
		OpenAIEmbeddingModel: envOrDefault("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		// Roughly 4k cached 1536-dim embeddings.
		EmbeddingCacheMaxCost: 25 << 20,
		MemoryHistoryLimit:    20,
		MemoryTopK:            5,
		MemoryScanLimit:       300,
		MemoryRelevanceFloor:  0.25,
		MemoryMinConfidence:   0.6,
		MemoryRedactPII:       true,
		RateLimitBackend:      strings.ToLower(envOrDefault("RATE_LIMIT_BACKEND", "local")),
		RateLimitWindow:       time.Minute,
		RateLimitMaxRequests:  60,
		SystemPrompt:          stringsTrimSpace("ASSISTANT_SYSTEM_PROMPT"),
		BusyReply:             envOrDefault("ASSISTANT_BUSY_REPLY", "Sorry, I'm having trouble right now. Please try again in a moment."),
		ShutdownTimeout:       15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RedisDB, err = intFromEnv("REDIS_DB", cfg.RedisDB)
	if err != nil {
		return Config{}, err
	}
	cacheCost, err := intFromEnv("EMBEDDING_CACHE_MAX_COST", int(cfg.EmbeddingCacheMaxCost))
	if err != nil {
		return Config{}, err
	}
	cfg.EmbeddingCacheMaxCost = int64(cacheCost)
	cfg.MemoryHistoryLimit, err = intFromEnv("MEMORY_HISTORY_LIMIT", cfg.MemoryHistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryTopK, err = intFromEnv("MEMORY_TOP_K", cfg.MemoryTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryScanLimit, err = intFromEnv("MEMORY_SCAN_LIMIT", cfg.MemoryScanLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRelevanceFloor, err = floatFromEnv("MEMORY_RELEVANCE_FLOOR", cfg.MemoryRelevanceFloor)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryMinConfidence, err = floatFromEnv("MEMORY_MIN_CONFIDENCE", cfg.MemoryMinConfidence)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRedactPII, err = boolFromEnv("MEMORY_REDACT_PII", cfg.MemoryRedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitWindow, err = durationFromEnv("RATE_LIMIT_WINDOW", cfg.RateLimitWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitMaxRequests, err = intFromEnv("RATE_LIMIT_MAX_REQUESTS", cfg.RateLimitMaxRequests)
	if err != nil {
		return Config{}, err
	}

	switch cfg.StoreBackend {
	case "", "memory", "redis", "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("STORE_BACKEND must be one of memory, redis, postgres, sqlite")
	}
	if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("STORE_BACKEND=postgres requires DATABASE_URL")
	}
	switch cfg.LLMProvider {
	case "auto", "openai", "mock":
	default:
		return Config{}, fmt.Errorf("LLM_PROVIDER must be one of auto, openai, mock")
	}
	if cfg.LLMProvider == "openai" && cfg.OpenAIAPIKey == "" {
		return Config{}, fmt.Errorf("LLM_PROVIDER=openai requires OPENAI_API_KEY")
	}
	switch cfg.RateLimitBackend {
	case "local", "distributed":
	default:
		return Config{}, fmt.Errorf("RATE_LIMIT_BACKEND must be local or distributed")
	}
	if cfg.RateLimitWindow < time.Second {
		return Config{}, fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s")
	}
	if cfg.RateLimitMaxRequests <= 0 {
		return Config{}, fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be positive")
	}
	if cfg.MemoryHistoryLimit <= 0 {
		return Config{}, fmt.Errorf("MEMORY_HISTORY_LIMIT must be positive")
	}
	if cfg.MemoryTopK <= 0 {
		return Config{}, fmt.Errorf("MEMORY_TOP_K must be positive")
	}
	if cfg.MemoryScanLimit <= 0 {
		return Config{}, fmt.Errorf("MEMORY_SCAN_LIMIT must be positive")
	}
	if cfg.MemoryRelevanceFloor < -1 || cfg.MemoryRelevanceFloor > 1 {
		return Config{}, fmt.Errorf("MEMORY_RELEVANCE_FLOOR must be within [-1,1]")
	}
	if cfg.MemoryMinConfidence < 0 || cfg.MemoryMinConfidence > 1 {
		return Config{}, fmt.Errorf("MEMORY_MIN_CONFIDENCE must be within [0,1]")
	}
	if cfg.EmbeddingCacheMaxCost < 0 {
		return Config{}, fmt.Errorf("EMBEDDING_CACHE_MAX_COST must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
