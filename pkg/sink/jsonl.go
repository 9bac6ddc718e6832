package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Sternrassler/book-metadata-client/pkg/client"
	"github.com/Sternrassler/book-metadata-client/pkg/isbn"
)

// JSONLines writes one JSON object per result.
type JSONLines struct {
	mu     sync.Mutex
	enc    *json.Encoder
	closer io.Closer
	now    func() time.Time
}

// NewJSONLines writes to w. Close does not close w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{
		enc: json.NewEncoder(w),
		now: time.Now,
	}
}

// CreateJSONLines creates (or truncates) path and writes to it.
func CreateJSONLines(path string) (*JSONLines, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	s := NewJSONLines(f)
	s.closer = f
	return s, nil
}

// OnResult implements Sink.
func (s *JSONLines) OnResult(_ context.Context, key isbn.Key, result client.FetchResult) error {
	rec := NewRecord(key, result, s.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("write record %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying file when the sink owns it.
func (s *JSONLines) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}
