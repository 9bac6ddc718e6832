package cache

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewEntry_Lifetime(t *testing.T) {
	tests := []struct {
		name        string
		kind        Kind
		ttl         time.Duration
		wantExpired bool
		wantTTLMin  time.Duration
		wantTTLMax  time.Duration
	}{
		{
			name:       "found entry with default ttl",
			kind:       KindFound,
			ttl:        DefaultTTL,
			wantTTLMin: DefaultTTL - time.Minute,
			wantTTLMax: DefaultTTL,
		},
		{
			name:       "not-found entry with negative-cache ttl",
			kind:       KindNotFound,
			ttl:        DefaultNegativeTTL,
			wantTTLMin: DefaultNegativeTTL - time.Minute,
			wantTTLMax: DefaultNegativeTTL,
		},
		{
			name:        "not-found entry created already stale",
			kind:        KindNotFound,
			ttl:         -time.Hour,
			wantExpired: true,
		},
		{
			name:        "found entry with negative ttl",
			kind:        KindFound,
			ttl:         -time.Second,
			wantExpired: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := NewEntry(tt.kind, nil, tt.ttl)

			if got := entry.IsExpired(); got != tt.wantExpired {
				t.Errorf("IsExpired() = %v, want %v", got, tt.wantExpired)
			}
			got := entry.TTL()
			if got < tt.wantTTLMin || got > tt.wantTTLMax {
				t.Errorf("TTL() = %v, want between %v and %v", got, tt.wantTTLMin, tt.wantTTLMax)
			}
			if got < 0 {
				t.Errorf("TTL() = %v, must never be negative", got)
			}
		})
	}
}

func TestEntry_JSONRoundTripKeepsKind(t *testing.T) {
	entries := []*Entry{
		NewEntry(KindFound, json.RawMessage(`{"isbn13":"9787121123456","title":"Go"}`), DefaultTTL),
		NewEntry(KindNotFound, nil, DefaultNegativeTTL),
	}

	for _, entry := range entries {
		t.Run(string(entry.Kind), func(t *testing.T) {
			data, err := json.Marshal(entry)
			if err != nil {
				t.Fatalf("Marshal() error: %v", err)
			}
			var got Entry
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("Unmarshal() error: %v", err)
			}

			if got.Kind != entry.Kind {
				t.Errorf("Kind = %q, want %q", got.Kind, entry.Kind)
			}
			if entry.Kind == KindNotFound && len(got.Payload) != 0 {
				t.Errorf("not-found entry Payload = %s, want empty", got.Payload)
			}
			if !got.Expires.Equal(entry.Expires) {
				t.Errorf("Expires = %v, want %v", got.Expires, entry.Expires)
			}
		})
	}
}

func TestNewEntry(t *testing.T) {
	payload := json.RawMessage(`{"title":"Go"}`)
	entry := NewEntry(KindFound, payload, 10*time.Minute)

	if entry.Kind != KindFound {
		t.Errorf("Kind = %q, want %q", entry.Kind, KindFound)
	}
	if string(entry.Payload) != string(payload) {
		t.Errorf("Payload = %s, want %s", entry.Payload, payload)
	}
	if entry.Age() > time.Second {
		t.Errorf("Age() = %v, want a fresh entry", entry.Age())
	}
	if ttl := entry.TTL(); ttl < 9*time.Minute || ttl > 10*time.Minute {
		t.Errorf("TTL() = %v, want ~10m", ttl)
	}
}
