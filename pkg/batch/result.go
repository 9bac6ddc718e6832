package batch

import (
	"github.com/Sternrassler/book-metadata-client/pkg/client"
	"github.com/Sternrassler/book-metadata-client/pkg/isbn"
)

// Result is the outcome of a batch run.
type Result struct {
	// Results holds one entry per processed key.
	Results map[isbn.Key]client.FetchResult

	// Order lists processed keys in processing order.
	Order []isbn.Key

	// Invalid holds raw inputs that could not be normalized.
	Invalid []any

	// Duplicates counts raw inputs that repeated an earlier key.
	Duplicates int

	// Total is the number of unique valid keys submitted.
	Total int
}

func newResult(d isbn.Deduped) *Result {
	return &Result{
		Results:    make(map[isbn.Key]client.FetchResult, len(d.Keys)),
		Order:      make([]isbn.Key, 0, len(d.Keys)),
		Invalid:    d.Invalid,
		Duplicates: d.Duplicates,
		Total:      len(d.Keys),
	}
}

func (r *Result) add(key isbn.Key, fr client.FetchResult) {
	r.Results[key] = fr
	r.Order = append(r.Order, key)
}

// Lookup returns the result for a raw input value. Duplicate inputs share
// the result of their key.
func (r *Result) Lookup(raw any) (client.FetchResult, bool) {
	key, ok := isbn.Normalize(raw)
	if !ok {
		return client.FetchResult{}, false
	}
	fr, ok := r.Results[key]
	return fr, ok
}

// Len returns the number of processed keys.
func (r *Result) Len() int {
	return len(r.Order)
}

// Complete reports whether every submitted key was processed.
func (r *Result) Complete() bool {
	return len(r.Order) == r.Total
}

// Succeeded returns the number of successful lookups.
func (r *Result) Succeeded() int {
	n := 0
	for _, fr := range r.Results {
		if fr.Succeeded() {
			n++
		}
	}
	return n
}

// Failed returns the number of processed keys without a payload.
func (r *Result) Failed() int {
	return len(r.Results) - r.Succeeded()
}

// Counts returns the number of results per kind.
func (r *Result) Counts() map[client.Kind]int {
	counts := make(map[client.Kind]int)
	for _, fr := range r.Results {
		counts[fr.Kind]++
	}
	return counts
}
