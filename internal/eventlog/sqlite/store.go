// Package sqlite provides a SQLite-backed implementation of eventlog.Log.
//
// WAL mode is enabled on Open so readers never block the appending writer:
// the projector and the event-store API read while the saga engine appends.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/magasin/saga-orchestrator/internal/eventlog"

	// Register the pure-Go SQLite driver; no CGO, builds on Alpine.
	_ "modernc.org/sqlite"
)

// schema is append-only DDL: rows are immutable once written. The unique
// (stream, sequence_id) index is what makes per-stream ordering durable.
const schema = `
CREATE TABLE IF NOT EXISTS event_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    stream      TEXT    NOT NULL,
    sequence_id INTEGER NOT NULL,
    event_type  TEXT    NOT NULL,
    created_at  TEXT    NOT NULL,
    payload     TEXT    NOT NULL DEFAULT '{}'
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_event_log_stream_seq
    ON event_log(stream, sequence_id);
`

// Store is the SQLite implementation of eventlog.Log.
type Store struct {
	db *sql.DB
}

var _ eventlog.Log = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: open %q: %w", path, err)
	}

	// Single writer connection; SQLite serialises writes anyway and this
	// keeps the MAX(sequence_id)+1 assignment race-free.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("eventlog sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Append(ctx context.Context, stream, eventType string, payload map[string]any) (int64, error) {
	if stream == "" {
		return 0, fmt.Errorf("eventlog sqlite: stream name is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("eventlog sqlite: encode payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("eventlog sqlite: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var seq int64
	row := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence_id), 0) + 1 FROM event_log WHERE stream = ?`, stream)
	if err := row.Scan(&seq); err != nil {
		return 0, fmt.Errorf("eventlog sqlite: next sequence for %q: %w", stream, err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO event_log (stream, sequence_id, event_type, created_at, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		stream, seq, eventType,
		time.Now().UTC().Format(time.RFC3339Nano), string(raw))
	if err != nil {
		return 0, fmt.Errorf("eventlog sqlite: append to %q: %w", stream, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("eventlog sqlite: commit append: %w", err)
	}
	return seq, nil
}

func (s *Store) Range(ctx context.Context, stream string, from, to int64, limit int) ([]eventlog.Entry, error) {
	if from <= 0 {
		from = 1
	}
	q := `SELECT sequence_id, event_type, created_at, payload
	      FROM event_log
	      WHERE stream = ? AND sequence_id >= ?`
	args := []any{stream, from}
	if to > 0 {
		q += ` AND sequence_id <= ?`
		args = append(args, to)
	}
	q += ` ORDER BY sequence_id`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("eventlog sqlite: range %q: %w", stream, err)
	}
	defer rows.Close()

	var out []eventlog.Entry
	for rows.Next() {
		var (
			seq       int64
			eventType string
			createdAt string
			payload   string
		)
		if err := rows.Scan(&seq, &eventType, &createdAt, &payload); err != nil {
			return nil, fmt.Errorf("eventlog sqlite: scan entry: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("eventlog sqlite: parse time %q: %w", createdAt, err)
		}
		out = append(out, eventlog.Entry{
			Stream:    stream,
			Sequence:  seq,
			Type:      eventType,
			Timestamp: ts,
			Payload:   eventlog.DecodePayload([]byte(payload)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("eventlog sqlite: range %q: %w", stream, err)
	}
	return out, nil
}
