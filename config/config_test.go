package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/feichai0017/receipt-analyzer/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, int64(10<<20), cfg.Upload.MaxFileSize)
	assert.Equal(t, 1200, cfg.Preprocess.MaxWidth)
	assert.Equal(t, int64(5<<20), cfg.Analysis.MaxPayloadSize)
	assert.Equal(t, models.DefaultRetryPolicy(), cfg.RetryPolicy())

	types, err := cfg.AllowedTypes()
	require.NoError(t, err)
	assert.Equal(t, []models.DetectedType{models.TypeJPEG, models.TypePNG, models.TypePDF}, types)
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
analysis:
  retry:
    maxAttempts: 5
    initialDelay: 250ms
llm:
  provider: ollama
  model: llava
`))
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Analysis.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Analysis.Retry.InitialDelay)
	assert.Equal(t, 2.0, cfg.Analysis.Retry.Multiplier)
	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "llava", cfg.LLM.Model)
	assert.Equal(t, 1200, cfg.Preprocess.MaxWidth)
}

func TestLoad_RepoConfigFile(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"LLM_PROVIDER":   "ollama",
		"OPENAI_API_KEY": "sk-fallback",
		"REDIS_ADDR":     "redis:6379",
		"LOG_LEVEL":      "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	applyEnv(cfg, lookup)

	assert.Equal(t, ProviderOllama, cfg.LLM.Provider)
	assert.Equal(t, "sk-fallback", cfg.LLM.APIKey)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestApplyEnv_PrimaryKeyWins(t *testing.T) {
	env := map[string]string{"LLM_API_KEY": "primary", "OPENAI_API_KEY": "secondary"}
	cfg := Default()
	applyEnv(cfg, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.Equal(t, "primary", cfg.LLM.APIKey)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Upload.AllowedTypes = []string{"GIF"}
	cfg.Analysis.Retry.MaxAttempts = 0
	cfg.LLM.Provider = "bard"
	cfg.Store.Backend = "disk"

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"GIF", "maxAttempts", "bard", "disk"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_Timeouts(t *testing.T) {
	cfg := Default()
	cfg.Server.WriteTimeout = 120 * time.Second
	cfg.Queue.ProcessTimeout = time.Minute
	cfg.Store.CleanupInterval = 0
	cfg.Preprocess.MaxPixels = 0
	cfg.Queue.Priority = 7

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"server.writeTimeout 2m0s", "3m1.5s", "queue.processTimeout", "store.cleanupInterval", "preprocess.maxPixels", "queue.priority 7"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_ZeroTimeoutsDisableBudgetCheck(t *testing.T) {
	cfg := Default()
	cfg.Server.WriteTimeout = 0
	cfg.Queue.ProcessTimeout = 0
	assert.NoError(t, cfg.Validate())
}

func TestLoad_RepoConfigFileQueueAndLimits(t *testing.T) {
	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Queue.Priority)
	assert.Equal(t, 5*time.Minute, cfg.Queue.ProcessTimeout)
	assert.Equal(t, int64(40_000_000), cfg.Preprocess.MaxPixels)
	assert.Greater(t, cfg.Server.WriteTimeout, cfg.RetryPolicy().Budget(cfg.LLM.Timeout))
}
