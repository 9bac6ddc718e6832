package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Sternrassler/book-metadata-client/pkg/isbn"
)

// openInput opens path for reading. An empty path or "-" means stdin.
func openInput(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	return f, nil
}

// readKeys returns the field at column (0-based) of every record in r.
// Plain text with one ISBN per line is a single-column CSV. Rows shorter
// than column yield an empty string, and a header row is kept as is; both
// normalize as invalid keys.
func readKeys(r io.Reader, column int) ([]any, error) {
	if column < 0 {
		return nil, fmt.Errorf("column must be >= 0 (got %d)", column)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var raws []any
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return raws, fmt.Errorf("read input: %w", err)
		}
		if column < len(record) {
			raws = append(raws, record[column])
		} else {
			raws = append(raws, "")
		}
	}
	return raws, nil
}

// toISBN13 replaces every valid ISBN-10 in raws with its ISBN-13 form.
// Invalid values are left untouched so they are still reported.
func toISBN13(raws []any) []any {
	out := make([]any, len(raws))
	for i, raw := range raws {
		out[i] = raw
		key, ok := isbn.Normalize(raw)
		if !ok {
			continue
		}
		if k13, ok := isbn.ToISBN13(key); ok {
			out[i] = k13
		}
	}
	return out
}

// withoutDone drops raws whose key is in done.
func withoutDone(raws []any, done map[isbn.Key]bool) ([]any, int) {
	if len(done) == 0 {
		return raws, 0
	}
	out := make([]any, 0, len(raws))
	skipped := 0
	for _, raw := range raws {
		if key, ok := isbn.Normalize(raw); ok && done[key] {
			skipped++
			continue
		}
		out = append(out, raw)
	}
	return out, skipped
}
