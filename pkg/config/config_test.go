package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/book-metadata-client/pkg/client"
	"github.com/Sternrassler/book-metadata-client/pkg/logging"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "isbn-fetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 1, cfg.MaxConcurrent)
	assert.Equal(t, 15*time.Second, cfg.Timeout)
	assert.Equal(t, 20, cfg.BatchCooldownInterval)
	assert.Equal(t, []int{1287, 1284}, cfg.PermanentCodes)
	assert.NotEmpty(t, cfg.UserAgents)
	assert.False(t, cfg.Cache.Enabled)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, def.BaseURL, cfg.BaseURL)
	assert.Equal(t, def.RetryBackoff, cfg.RetryBackoff)
	assert.Equal(t, def.BatchCooldownMin, cfg.BatchCooldownMin)
	assert.Equal(t, def.Cache.TTL, cfg.Cache.TTL)
	assert.Equal(t, def.UserAgents, cfg.UserAgents)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
base_url: http://localhost:8080/v2/book/isbn
timeout: 5s
qps: 0.5
max_concurrent: 2
retry_max_times: 5
retry_backoff: [1, 1.5, 2s]
random_delay_enabled: false
batch_cooldown_interval: 10
batch_cooldown_min: 1m
batch_cooldown_max: 2m
user_agents:
  - agent-one
  - agent-two
permanent_codes: [42]
cache:
  enabled: true
  redis_addr: redis:6379
  negative_ttl: 24h
log:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/v2/book/isbn", cfg.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 0.5, cfg.QPS)
	assert.Equal(t, 2, cfg.MaxConcurrent)
	assert.Equal(t, 5, cfg.RetryMaxTimes)
	assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond, 2 * time.Second}, cfg.RetryBackoff)
	assert.False(t, cfg.RandomDelayEnabled)
	assert.Equal(t, 10, cfg.BatchCooldownInterval)
	assert.Equal(t, time.Minute, cfg.BatchCooldownMin)
	assert.Equal(t, []string{"agent-one", "agent-two"}, cfg.UserAgents)
	assert.Equal(t, []int{42}, cfg.PermanentCodes)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, 24*time.Hour, cfg.Cache.NegativeTTL)
	assert.Equal(t, Default().Cache.TTL, cfg.Cache.TTL, "unset keys keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("BOOKMETA_QPS", "3")
	t.Setenv("BOOKMETA_RETRY_MAX_TIMES", "7")
	t.Setenv("BOOKMETA_CACHE_REDIS_ADDR", "cache.internal:6379")
	t.Setenv("BOOKMETA_USER_AGENTS", "a,b,c")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3.0, cfg.QPS)
	assert.Equal(t, 7, cfg.RetryMaxTimes)
	assert.Equal(t, "cache.internal:6379", cfg.Cache.RedisAddr)
	assert.Equal(t, []string{"a", "b", "c"}, cfg.UserAgents)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero concurrency", "max_concurrent: 0"},
		{"negative qps", "qps: -1"},
		{"zero retries", "retry_max_times: 0"},
		{"inverted delay range", "random_delay_min: 5s\nrandom_delay_max: 1s"},
		{"zero cooldown interval", "batch_cooldown_interval: 0"},
		{"empty base url", `base_url: ""`},
		{"bad log level", "log:\n  level: loud"},
		{"cache without address", "cache:\n  enabled: true\n  redis_addr: \"\""},
		{"bad duration", "timeout: soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestMarshal_LoadsBack(t *testing.T) {
	orig := Default()
	orig.QPS = 2.5
	orig.RetryBackoff = []time.Duration{time.Second, 3 * time.Second}
	orig.Cache.Enabled = true
	orig.Metrics.Addr = ":9090"

	data, err := Marshal(orig)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dump.yaml")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, orig.QPS, loaded.QPS)
	assert.Equal(t, orig.RetryBackoff, loaded.RetryBackoff)
	assert.Equal(t, orig.BatchCooldownMax, loaded.BatchCooldownMax)
	assert.Equal(t, orig.Cache, loaded.Cache)
	assert.Equal(t, orig.Metrics, loaded.Metrics)
	assert.Equal(t, orig.UserAgents, loaded.UserAgents)
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.RetryMaxTimes = 4
	cfg.BatchCooldownInterval = 7
	cfg.Cache.Namespace = "test"
	cfg.Log.Level = "warn"

	api := cfg.ClientConfig()
	assert.Equal(t, client.RetryPolicy{MaxAttempts: 4, Backoff: cfg.RetryBackoff}, api.Retry)
	assert.Equal(t, cfg.BaseURL, api.BaseURL)

	assert.Equal(t, 7, cfg.BatchConfig().CooldownInterval)
	assert.Equal(t, "test", cfg.CacheConfig().Namespace)
	assert.Equal(t, logging.LevelWarn, cfg.LoggingConfig().Level)
}
