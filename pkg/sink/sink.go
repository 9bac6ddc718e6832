// Package sink persists lookup results as they are produced.
package sink

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Sternrassler/book-metadata-client/pkg/client"
	"github.com/Sternrassler/book-metadata-client/pkg/isbn"
)

// Sink receives one result per processed key.
type Sink interface {
	OnResult(ctx context.Context, key isbn.Key, result client.FetchResult) error
	Close() error
}

// Record is the flattened, serializable form of a result.
type Record struct {
	Key        string          `json:"key"`
	Kind       string          `json:"kind"`
	StatusCode int             `json:"status_code,omitempty"`
	Code       int             `json:"code,omitempty"`
	Message    string          `json:"message,omitempty"`
	Error      string          `json:"error,omitempty"`
	Title      string          `json:"title,omitempty"`
	Attempts   int             `json:"attempts"`
	Cached     bool            `json:"cached,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

// NewRecord flattens a result.
func NewRecord(key isbn.Key, r client.FetchResult, now time.Time) Record {
	rec := Record{
		Key:        key.String(),
		Kind:       string(r.Kind),
		StatusCode: r.StatusCode,
		Code:       r.Code,
		Message:    r.Message,
		Title:      r.Title(),
		Attempts:   r.Attempts,
		Cached:     r.Cached,
		FetchedAt:  now.UTC(),
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}

	switch {
	case len(r.Raw) > 0 && json.Valid(r.Raw):
		rec.Payload = r.Raw
	case r.Payload != nil:
		if data, err := json.Marshal(r.Payload); err == nil {
			rec.Payload = data
		}
	}
	return rec
}

type multi []Sink

// Multi fans results out to every sink. All sinks are called even when
// one fails; the errors are joined.
func Multi(sinks ...Sink) Sink {
	out := make(multi, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multi) OnResult(ctx context.Context, key isbn.Key, result client.FetchResult) error {
	var errs []error
	for _, s := range m {
		if err := s.OnResult(ctx, key, result); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
