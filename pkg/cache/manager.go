package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/book-metadata-client/pkg/isbn"
	"github.com/Sternrassler/book-metadata-client/pkg/logging"
)

const (
	// DefaultTTL is how long found entries are kept (30 days).
	DefaultTTL = 720 * time.Hour

	// DefaultNegativeTTL is how long not-found entries are kept (7 days).
	DefaultNegativeTTL = 168 * time.Hour
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Config holds cache settings.
type Config struct {
	// Namespace prefixes every Redis key (default "bookmeta").
	Namespace string

	// TTL applies to found entries.
	TTL time.Duration

	// NegativeTTL applies to not-found entries.
	NegativeTTL time.Duration
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		Namespace:   DefaultNamespace,
		TTL:         DefaultTTL,
		NegativeTTL: DefaultNegativeTTL,
	}
}

// Manager handles caching operations with Redis backend.
type Manager struct {
	redis  *redis.Client
	config Config
	logger zerolog.Logger
}

// NewManager creates a new cache manager with Redis backend.
// Zero-valued config fields fall back to the defaults.
func NewManager(redisClient *redis.Client, cfg Config) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = DefaultNamespace
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.NegativeTTL <= 0 {
		cfg.NegativeTTL = DefaultNegativeTTL
	}
	return &Manager{
		redis:  redisClient,
		config: cfg,
		logger: logging.NewLogger(logging.ComponentCache),
	}
}

// TTLFor returns the configured lifetime for an entry kind.
func (m *Manager) TTLFor(kind Kind) time.Duration {
	if kind == KindNotFound {
		return m.config.NegativeTTL
	}
	return m.config.TTL
}

// Get retrieves a cache entry by key.
// Returns ErrCacheMiss if the key doesn't exist or entry is expired.
func (m *Manager) Get(ctx context.Context, key isbn.Key) (*Entry, error) {
	cacheKey := KeyFor(m.config.Namespace, key)

	data, err := m.redis.Get(ctx, cacheKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.Kind != KindFound && entry.Kind != KindNotFound {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, entry.Kind)
	}

	if entry.IsExpired() {
		if err := m.Delete(ctx, key); err != nil {
			m.logger.Warn().Err(err).Str("key", key.String()).Msg("Failed to remove expired entry")
		}
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.WithLabelValues(string(entry.Kind)).Inc()
	return &entry, nil
}

// Set stores a cache entry with TTL based on the entry's Expires field.
// Entries that are already expired are silently skipped.
func (m *Manager) Set(ctx context.Context, key isbn.Key, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, KeyFor(m.config.Namespace, key), data, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key isbn.Key) error {
	if err := m.redis.Del(ctx, KeyFor(m.config.Namespace, key)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
