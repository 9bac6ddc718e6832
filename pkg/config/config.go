// Package config loads the isbn-fetch configuration from defaults, an
// optional YAML file and BOOKMETA_* environment variables.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Sternrassler/book-metadata-client/pkg/batch"
	"github.com/Sternrassler/book-metadata-client/pkg/cache"
	"github.com/Sternrassler/book-metadata-client/pkg/client"
	"github.com/Sternrassler/book-metadata-client/pkg/identity"
	"github.com/Sternrassler/book-metadata-client/pkg/logging"
)

// EnvPrefix prefixes every environment override, e.g. BOOKMETA_QPS or
// BOOKMETA_CACHE_REDIS_ADDR.
const EnvPrefix = "BOOKMETA"

// Config is the complete run configuration.
type Config struct {
	BaseURL        string            `mapstructure:"base_url"`
	Timeout        time.Duration     `mapstructure:"timeout"`
	Referer        string            `mapstructure:"referer"`
	AcceptLanguage string            `mapstructure:"accept_language"`
	Headers        map[string]string `mapstructure:"headers"`

	MaxConcurrent int     `mapstructure:"max_concurrent"`
	QPS           float64 `mapstructure:"qps"`

	RandomDelayEnabled bool          `mapstructure:"random_delay_enabled"`
	RandomDelayMin     time.Duration `mapstructure:"random_delay_min"`
	RandomDelayMax     time.Duration `mapstructure:"random_delay_max"`

	BatchCooldownEnabled  bool          `mapstructure:"batch_cooldown_enabled"`
	BatchCooldownInterval int           `mapstructure:"batch_cooldown_interval"`
	BatchCooldownMin      time.Duration `mapstructure:"batch_cooldown_min"`
	BatchCooldownMax      time.Duration `mapstructure:"batch_cooldown_max"`

	RetryMaxTimes int             `mapstructure:"retry_max_times"`
	RetryBackoff  []time.Duration `mapstructure:"retry_backoff"`
	RetryJitter   float64         `mapstructure:"retry_jitter"`

	UserAgents         []string `mapstructure:"user_agents"`
	PermanentCodes     []int    `mapstructure:"permanent_codes"`
	PermanentSentinels []string `mapstructure:"permanent_sentinels"`

	Cache   CacheSettings   `mapstructure:"cache"`
	Log     LogSettings     `mapstructure:"log"`
	Metrics MetricsSettings `mapstructure:"metrics"`
}

// CacheSettings configures the Redis result cache.
type CacheSettings struct {
	Enabled     bool          `mapstructure:"enabled"`
	RedisAddr   string        `mapstructure:"redis_addr"`
	RedisDB     int           `mapstructure:"redis_db"`
	Namespace   string        `mapstructure:"namespace"`
	TTL         time.Duration `mapstructure:"ttl"`
	NegativeTTL time.Duration `mapstructure:"negative_ttl"`
}

// LogSettings configures logging.
type LogSettings struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// MetricsSettings configures the Prometheus listener. An empty Addr disables it.
type MetricsSettings struct {
	Addr string `mapstructure:"addr"`
}

// Default returns the default configuration.
func Default() Config {
	api := client.DefaultConfig()
	pacing := batch.DefaultConfig()
	cacheCfg := cache.DefaultConfig()

	return Config{
		BaseURL:        api.BaseURL,
		Timeout:        api.Timeout,
		Referer:        api.Referer,
		AcceptLanguage: api.AcceptLanguage,
		Headers:        map[string]string{},

		MaxConcurrent: 1,
		QPS:           1,

		RandomDelayEnabled: pacing.RandomDelayEnabled,
		RandomDelayMin:     pacing.RandomDelayMin,
		RandomDelayMax:     pacing.RandomDelayMax,

		BatchCooldownEnabled:  pacing.CooldownEnabled,
		BatchCooldownInterval: pacing.CooldownInterval,
		BatchCooldownMin:      pacing.CooldownMin,
		BatchCooldownMax:      pacing.CooldownMax,

		RetryMaxTimes: api.Retry.MaxAttempts,
		RetryBackoff:  api.Retry.Backoff,
		RetryJitter:   api.Retry.Jitter,

		UserAgents:         append([]string(nil), identity.DefaultUserAgents...),
		PermanentCodes:     api.PermanentCodes,
		PermanentSentinels: api.PermanentSentinels,

		Cache: CacheSettings{
			Enabled:     false,
			RedisAddr:   "localhost:6379",
			Namespace:   cacheCfg.Namespace,
			TTL:         cacheCfg.TTL,
			NegativeTTL: cacheCfg.NegativeTTL,
		},
		Log: LogSettings{
			Level: string(logging.LevelInfo),
		},
	}
}

// Load reads the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (Config, error) {
	v := viper.New()
	for key, value := range flatten("", Default().settings()) {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDurationHook(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be > 0 (got %v)", c.Timeout)
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be >= 1 (got %d)", c.MaxConcurrent)
	}
	if c.QPS < 0 {
		return fmt.Errorf("qps must be >= 0 (got %v)", c.QPS)
	}
	if len(c.UserAgents) == 0 {
		return fmt.Errorf("user_agents must not be empty")
	}
	if err := c.ClientConfig().Retry.Validate(); err != nil {
		return err
	}
	if err := c.BatchConfig().Validate(); err != nil {
		return err
	}
	if c.Cache.Enabled && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required when the cache is enabled")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// ClientConfig returns the API client configuration.
func (c Config) ClientConfig() client.Config {
	return client.Config{
		BaseURL:        c.BaseURL,
		Timeout:        c.Timeout,
		Referer:        c.Referer,
		AcceptLanguage: c.AcceptLanguage,
		Headers:        c.Headers,
		Retry: client.RetryPolicy{
			MaxAttempts: c.RetryMaxTimes,
			Backoff:     c.RetryBackoff,
			Jitter:      c.RetryJitter,
		},
		PermanentCodes:     c.PermanentCodes,
		PermanentSentinels: c.PermanentSentinels,
	}
}

// BatchConfig returns the batch pacing configuration.
func (c Config) BatchConfig() batch.Config {
	return batch.Config{
		RandomDelayEnabled: c.RandomDelayEnabled,
		RandomDelayMin:     c.RandomDelayMin,
		RandomDelayMax:     c.RandomDelayMax,
		CooldownEnabled:    c.BatchCooldownEnabled,
		CooldownInterval:   c.BatchCooldownInterval,
		CooldownMin:        c.BatchCooldownMin,
		CooldownMax:        c.BatchCooldownMax,
	}
}

// CacheConfig returns the cache manager configuration.
func (c Config) CacheConfig() cache.Config {
	return cache.Config{
		Namespace:   c.Cache.Namespace,
		TTL:         c.Cache.TTL,
		NegativeTTL: c.Cache.NegativeTTL,
	}
}

// LoggingConfig returns the logger configuration. Output is left to the caller.
func (c Config) LoggingConfig() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level, _ = logging.ParseLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}

// Marshal renders the configuration as YAML that Load accepts.
func Marshal(c Config) ([]byte, error) {
	return yaml.Marshal(c.settings())
}

// settings returns the configuration keyed like the YAML file, with
// durations as strings.
func (c Config) settings() map[string]any {
	return map[string]any{
		"base_url":                c.BaseURL,
		"timeout":                 c.Timeout.String(),
		"referer":                 c.Referer,
		"accept_language":         c.AcceptLanguage,
		"headers":                 c.Headers,
		"max_concurrent":          c.MaxConcurrent,
		"qps":                     c.QPS,
		"random_delay_enabled":    c.RandomDelayEnabled,
		"random_delay_min":        c.RandomDelayMin.String(),
		"random_delay_max":        c.RandomDelayMax.String(),
		"batch_cooldown_enabled":  c.BatchCooldownEnabled,
		"batch_cooldown_interval": c.BatchCooldownInterval,
		"batch_cooldown_min":      c.BatchCooldownMin.String(),
		"batch_cooldown_max":      c.BatchCooldownMax.String(),
		"retry_max_times":         c.RetryMaxTimes,
		"retry_backoff":           durationStrings(c.RetryBackoff),
		"retry_jitter":            c.RetryJitter,
		"user_agents":             c.UserAgents,
		"permanent_codes":         c.PermanentCodes,
		"permanent_sentinels":     c.PermanentSentinels,
		"cache": map[string]any{
			"enabled":      c.Cache.Enabled,
			"redis_addr":   c.Cache.RedisAddr,
			"redis_db":     c.Cache.RedisDB,
			"namespace":    c.Cache.Namespace,
			"ttl":          c.Cache.TTL.String(),
			"negative_ttl": c.Cache.NegativeTTL.String(),
		},
		"log": map[string]any{
			"level":  c.Log.Level,
			"pretty": c.Log.Pretty,
		},
		"metrics": map[string]any{
			"addr": c.Metrics.Addr,
		},
	}
}

func durationStrings(ds []time.Duration) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = d.String()
	}
	return out
}

// flatten turns nested maps into dotted viper keys. The headers map is a
// value, not a section.
func flatten(prefix string, m map[string]any) map[string]any {
	out := make(map[string]any)
	for k, v := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := v.(map[string]any); ok {
			for nk, nv := range flatten(key, nested) {
				out[nk] = nv
			}
			continue
		}
		out[key] = v
	}
	return out
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDurationHook reads bare numbers as seconds, so
// "retry_backoff: [2, 5, 10]" means 2s, 5s and 10s.
func secondsToDurationHook() mapstructure.DecodeHookFuncType {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != durationType || f == durationType {
			return data, nil
		}
		switch v := data.(type) {
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case uint64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		case float32:
			return time.Duration(float64(v) * float64(time.Second)), nil
		}
		return data, nil
	}
}
