// Package sqlite provides a SQLite-backed implementation of sagastore.Store.
//
// Each saga is stored as a single JSON document alongside a handful of
// indexed columns (state, termination flag, version). That keeps reads to
// one row per aggregate, no joins to reassemble the object graph, while
// still supporting the "list active by state" query through an index.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/magasin/saga-orchestrator/internal/saga"
	"github.com/magasin/saga-orchestrator/internal/sagastore"

	// Register the pure-Go SQLite driver; no CGO, builds on Alpine.
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sagas (
    id          TEXT    PRIMARY KEY,
    client_id   TEXT    NOT NULL,
    state       TEXT    NOT NULL,
    terminated  INTEGER NOT NULL DEFAULT 0,
    version     INTEGER NOT NULL,
    created_at  TEXT    NOT NULL,
    updated_at  TEXT    NOT NULL,
    document    TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_sagas_state ON sagas(state, created_at);
CREATE INDEX IF NOT EXISTS idx_sagas_client ON sagas(client_id);
`

// Store is the SQLite implementation of sagastore.Store.
type Store struct {
	db *sql.DB
}

var _ sagastore.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// WAL mode lets the status API read while the engine writes.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sagastore sqlite: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sagastore sqlite: apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Create(ctx context.Context, ag *saga.Saga) error {
	ag.Version = 1
	doc, err := json.Marshal(ag)
	if err != nil {
		return fmt.Errorf("sagastore sqlite: encode saga %s: %w", ag.ID, err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sagas (id, client_id, state, terminated, version, created_at, updated_at, document)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ag.ID, ag.ClientID, string(ag.State), boolInt(ag.IsTerminated), ag.Version,
		formatTime(ag.CreatedAt), formatTime(ag.UpdatedAt), string(doc))
	if err != nil {
		return fmt.Errorf("sagastore sqlite: create saga %s: %w", ag.ID, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, ag *saga.Saga) error {
	oldVersion := ag.Version
	ag.Version++
	doc, err := json.Marshal(ag)
	if err != nil {
		ag.Version = oldVersion
		return fmt.Errorf("sagastore sqlite: encode saga %s: %w", ag.ID, err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE sagas
		 SET state = ?, terminated = ?, version = ?, updated_at = ?, document = ?
		 WHERE id = ? AND version = ?`,
		string(ag.State), boolInt(ag.IsTerminated), ag.Version,
		formatTime(ag.UpdatedAt), string(doc), ag.ID, oldVersion)
	if err != nil {
		ag.Version = oldVersion
		return fmt.Errorf("sagastore sqlite: update saga %s: %w", ag.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		ag.Version = oldVersion
		return fmt.Errorf("sagastore sqlite: update saga %s: %w", ag.ID, err)
	}
	if affected == 0 {
		ag.Version = oldVersion
		var exists int
		row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM sagas WHERE id = ?`, ag.ID)
		if err := row.Scan(&exists); err == nil && exists == 0 {
			return saga.NewNotFound(ag.ID)
		}
		return saga.NewConflict(ag.ID)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*saga.Saga, error) {
	row := s.db.QueryRowContext(ctx, `SELECT document FROM sagas WHERE id = ?`, id)

	var doc string
	if err := row.Scan(&doc); err != nil {
		if err == sql.ErrNoRows {
			return nil, saga.NewNotFound(id)
		}
		return nil, fmt.Errorf("sagastore sqlite: get saga %s: %w", id, err)
	}
	return decode(id, doc)
}

func (s *Store) ListByState(ctx context.Context, state saga.State) ([]*saga.Saga, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document FROM sagas WHERE state = ? ORDER BY created_at`, string(state))
	if err != nil {
		return nil, fmt.Errorf("sagastore sqlite: list by state %s: %w", state, err)
	}
	defer rows.Close()

	var out []*saga.Saga
	for rows.Next() {
		var id, doc string
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("sagastore sqlite: scan saga: %w", err)
		}
		ag, err := decode(id, doc)
		if err != nil {
			return nil, err
		}
		out = append(out, ag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sagastore sqlite: list by state %s: %w", state, err)
	}
	return out, nil
}

func decode(id, doc string) (*saga.Saga, error) {
	var ag saga.Saga
	if err := json.Unmarshal([]byte(doc), &ag); err != nil {
		return nil, fmt.Errorf("sagastore sqlite: decode saga %s: %w", id, err)
	}
	return &ag, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
