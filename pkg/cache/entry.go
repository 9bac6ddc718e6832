package cache

import (
	"encoding/json"
	"time"
)

// Kind identifies what a cache entry records.
type Kind string

const (
	// KindFound is a successful lookup with a payload.
	KindFound Kind = "found"

	// KindNotFound is a definitive "no such key" answer from the API.
	KindNotFound Kind = "not_found"
)

// Entry represents a cached lookup result.
type Entry struct {
	// Kind is the recorded outcome.
	Kind Kind `json:"kind"`

	// Payload is the raw JSON object returned by the API (found entries only).
	Payload json.RawMessage `json:"payload,omitempty"`

	// CachedAt is when we cached this result.
	CachedAt time.Time `json:"cached_at"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`
}

// NewEntry builds an entry that expires ttl from now.
func NewEntry(kind Kind, payload json.RawMessage, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Kind:     kind,
		Payload:  payload,
		CachedAt: now,
		Expires:  now.Add(ttl),
	}
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// Age returns how long ago the entry was cached.
func (e *Entry) Age() time.Duration {
	return time.Since(e.CachedAt)
}
