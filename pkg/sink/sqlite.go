package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Sternrassler/book-metadata-client/pkg/client"
	"github.com/Sternrassler/book-metadata-client/pkg/isbn"
)

const resultsSchema = `CREATE TABLE IF NOT EXISTS isbn_results (
	isbn        TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	status_code INTEGER,
	code        INTEGER,
	message     TEXT,
	error       TEXT,
	title       TEXT,
	payload     TEXT,
	attempts    INTEGER NOT NULL DEFAULT 0,
	cached      INTEGER NOT NULL DEFAULT 0,
	fetched_at  TEXT NOT NULL
)`

// A stored success is never replaced by a later failure.
const upsertResult = `INSERT INTO isbn_results
	(isbn, kind, status_code, code, message, error, title, payload, attempts, cached, fetched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(isbn) DO UPDATE SET
	kind = excluded.kind,
	status_code = excluded.status_code,
	code = excluded.code,
	message = excluded.message,
	error = excluded.error,
	title = excluded.title,
	payload = excluded.payload,
	attempts = excluded.attempts,
	cached = excluded.cached,
	fetched_at = excluded.fetched_at
WHERE isbn_results.kind != 'success' OR excluded.kind = 'success'`

// SQLite stores results in a local SQLite database, one row per key.
type SQLite struct {
	db     *sql.DB
	upsert *sql.Stmt
	now    func() time.Time
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, resultsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	stmt, err := db.PrepareContext(ctx, upsertResult)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	return &SQLite{db: db, upsert: stmt, now: time.Now}, nil
}

// OnResult implements Sink.
func (s *SQLite) OnResult(ctx context.Context, key isbn.Key, result client.FetchResult) error {
	rec := NewRecord(key, result, s.now())

	var payload any
	if len(rec.Payload) > 0 {
		payload = string(rec.Payload)
	}

	_, err := s.upsert.ExecContext(ctx,
		rec.Key, rec.Kind, rec.StatusCode, rec.Code, rec.Message, rec.Error,
		rec.Title, payload, rec.Attempts, rec.Cached, rec.FetchedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to store result %s: %w", key, err)
	}
	return nil
}

// Get returns the stored record for key.
func (s *SQLite) Get(ctx context.Context, key isbn.Key) (Record, bool, error) {
	var (
		rec                     Record
		statusCode, code        sql.NullInt64
		message, errText, title sql.NullString
		payload                 sql.NullString
		fetchedAt               string
	)
	err := s.db.QueryRowContext(ctx, `SELECT isbn, kind, status_code, code, message, error, title, payload, attempts, cached, fetched_at
		FROM isbn_results WHERE isbn = ?`, key.String()).
		Scan(&rec.Key, &rec.Kind, &statusCode, &code, &message, &errText, &title, &payload, &rec.Attempts, &rec.Cached, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read result %s: %w", key, err)
	}

	rec.StatusCode = int(statusCode.Int64)
	rec.Code = int(code.Int64)
	rec.Message = message.String
	rec.Error = errText.String
	rec.Title = title.String
	if payload.Valid {
		rec.Payload = []byte(payload.String)
	}
	rec.FetchedAt, _ = time.Parse(time.RFC3339Nano, fetchedAt)
	return rec, true, nil
}

// Succeeded returns every key stored with a successful lookup.
func (s *SQLite) Succeeded(ctx context.Context) (map[isbn.Key]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT isbn FROM isbn_results WHERE kind = ?`, string(client.KindSuccess))
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	done := make(map[isbn.Key]bool)
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		done[isbn.Key(k)] = true
	}
	return done, rows.Err()
}

// Count returns the number of stored results.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM isbn_results`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.upsert != nil {
		_ = s.upsert.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
