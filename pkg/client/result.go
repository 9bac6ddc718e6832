package client

import (
	"encoding/json"

	"github.com/Sternrassler/book-metadata-client/pkg/isbn"
)

// Kind is the terminal classification of a lookup.
type Kind string

const (
	// KindSuccess is a 200 response with a usable payload.
	KindSuccess Kind = "success"

	// KindNotFound is a definitive "no such key" answer (HTTP 404).
	KindNotFound Kind = "not_found"

	// KindPermanentError is a failure that must not be retried.
	KindPermanentError Kind = "permanent_error"

	// KindTransientError is a retryable failure. As a final result it means
	// every attempt failed or the lookup was cancelled.
	KindTransientError Kind = "transient_error"
)

// FetchResult is the outcome of looking up one key.
type FetchResult struct {
	Key  isbn.Key `json:"key"`
	Kind Kind     `json:"kind"`

	// Payload is the decoded JSON object for KindSuccess.
	Payload map[string]any `json:"payload,omitempty"`

	// Raw is the undecoded response body for KindSuccess.
	Raw json.RawMessage `json:"-"`

	// StatusCode is the HTTP status of the final attempt (0 for transport errors).
	StatusCode int `json:"status_code,omitempty"`

	// Code and Message carry the API's business error, if any.
	Code    int    `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// Err is the last error for failed lookups.
	Err error `json:"-"`

	// Attempts is the number of HTTP calls made (0 when served from cache).
	Attempts int  `json:"attempts"`
	Cached   bool `json:"cached,omitempty"`
}

// Succeeded reports whether the lookup produced a payload.
func (r FetchResult) Succeeded() bool {
	return r.Kind == KindSuccess
}

// Terminal reports whether the result is definitive and may be cached.
func (r FetchResult) Terminal() bool {
	return r.Kind == KindSuccess || r.Kind == KindNotFound
}

// AsError returns the failure as an *APIError, or nil for KindSuccess.
func (r FetchResult) AsError() error {
	if r.Kind == KindSuccess {
		return nil
	}
	return &APIError{
		StatusCode: r.StatusCode,
		Kind:       r.Kind,
		Code:       r.Code,
		Message:    r.Message,
		Err:        r.Err,
	}
}

// Title returns the payload's "title" field when present.
func (r FetchResult) Title() string {
	if r.Payload == nil {
		return ""
	}
	title, _ := r.Payload["title"].(string)
	return title
}
