// Package cache stores terminal ISBN lookup results in Redis.
//
// Only results that will not change on a retry are cached: successful
// payloads and definitive not-found answers. Permanent business errors and
// exhausted transient failures are never stored, so a later run can try
// those keys again.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, cache.DefaultConfig())
//
//	entry, err := manager.Get(ctx, isbn.Key("9787121123456"))
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// Cache miss - fetch from the API
//	}
//
//	// Store a successful payload for Config.TTL
//	err = manager.Set(ctx, key, cache.NewEntry(cache.KindFound, payload, manager.TTLFor(cache.KindFound)))
//
// # TTLs
//
// Found entries live for Config.TTL (default 30 days), not-found entries for
// Config.NegativeTTL (default 7 days). Redis expires the keys itself; Get
// also treats an entry past its Expires time as a miss.
//
// # Metrics
//
//   - book_cache_hits_total - Cache hits
//   - book_cache_misses_total - Cache misses
//   - book_cache_errors_total{operation} - Cache operation errors
package cache
