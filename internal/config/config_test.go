package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.BindAddr)
	assert.Equal(t, 20, cfg.MemoryHistoryLimit)
	assert.Equal(t, 5, cfg.MemoryTopK)
	assert.Equal(t, 300, cfg.MemoryScanLimit)
	assert.Equal(t, 0.25, cfg.MemoryRelevanceFloor)
	assert.Equal(t, 0.6, cfg.MemoryMinConfidence)
	assert.Equal(t, "local", cfg.RateLimitBackend)
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, 60, cfg.RateLimitMaxRequests)
	assert.Equal(t, "auto", cfg.LLMProvider)
	assert.True(t, cfg.MemoryRedactPII)
	assert.NotEmpty(t, cfg.BusyReply)
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9191")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MEMORY_RELEVANCE_FLOOR", "0.4")
	t.Setenv("RATE_LIMIT_BACKEND", "distributed")
	t.Setenv("RATE_LIMIT_WINDOW", "30s")
	t.Setenv("MEMORY_REDACT_PII", "off")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9191", cfg.BindAddr)
	assert.Equal(t, "redis", cfg.StoreBackend)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 0.4, cfg.MemoryRelevanceFloor)
	assert.Equal(t, "distributed", cfg.RateLimitBackend)
	assert.Equal(t, 30*time.Second, cfg.RateLimitWindow)
	assert.False(t, cfg.MemoryRedactPII)
}

func TestLoadKeepsZeroAndNegativeThresholds(t *testing.T) {
	cases := []struct {
		floor, confidence string
		wantFloor         float64
		wantConfidence    float64
	}{
		{floor: "0", confidence: "0", wantFloor: 0, wantConfidence: 0},
		{floor: "-0.5", confidence: "0", wantFloor: -0.5, wantConfidence: 0},
		{floor: "-1", confidence: "1", wantFloor: -1, wantConfidence: 1},
	}
	for _, tc := range cases {
		t.Run(tc.floor+"/"+tc.confidence, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv("MEMORY_RELEVANCE_FLOOR", tc.floor)
			t.Setenv("MEMORY_MIN_CONFIDENCE", tc.confidence)

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tc.wantFloor, cfg.MemoryRelevanceFloor)
			assert.Equal(t, tc.wantConfidence, cfg.MemoryMinConfidence)
		})
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"STORE_BACKEND":           "mongo",
		"LLM_PROVIDER":            "gemini",
		"RATE_LIMIT_MAX_REQUESTS": "0",
		"RATE_LIMIT_WINDOW":       "soon",
		"MEMORY_MIN_CONFIDENCE":   "1.5",
		"MEMORY_RELEVANCE_FLOOR":  "-1.5",
		"MEMORY_TOP_K":            "-1",
		"APP_ALLOW_ANY_ORIGIN":    "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			_, err := Load()
			assert.Error(t, err, "%s=%q", key, value)
		})
	}
	t.Run("negative confidence", func(t *testing.T) {
		setCoreEnvEmpty(t)
		t.Setenv("MEMORY_MIN_CONFIDENCE", "-0.1")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestLoadPostgresRequiresURL(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("STORE_BACKEND", "postgres")
	_, err := Load()
	assert.Error(t, err)
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_LOG_LEVEL",
		"APP_ALLOW_ANY_ORIGIN",
		"WEBHOOK_SECRET",
		"STORE_BACKEND",
		"DATABASE_URL",
		"REDIS_ADDR",
		"REDIS_PASSWORD",
		"REDIS_DB",
		"REDIS_PREFIX",
		"SQLITE_PATH",
		"LLM_PROVIDER",
		"OPENAI_API_KEY",
		"OPENAI_BASE_URL",
		"OPENAI_CHAT_MODEL",
		"OPENAI_EMBEDDING_MODEL",
		"EMBEDDING_CACHE_MAX_COST",
		"MEMORY_HISTORY_LIMIT",
		"MEMORY_TOP_K",
		"MEMORY_SCAN_LIMIT",
		"MEMORY_RELEVANCE_FLOOR",
		"MEMORY_MIN_CONFIDENCE",
		"MEMORY_REDACT_PII",
		"RATE_LIMIT_BACKEND",
		"RATE_LIMIT_WINDOW",
		"RATE_LIMIT_MAX_REQUESTS",
		"ASSISTANT_SYSTEM_PROMPT",
		"ASSISTANT_BUSY_REPLY",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
