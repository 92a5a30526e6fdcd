// Package sqlite persists conversation and user records in a single SQLite file.
//
// Each record field is one row keyed by (record id, field), holding the JSON encoded
// value. A commit runs in one transaction, so a turn's diffs land together or not at all.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	id    TEXT NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	PRIMARY KEY (id, field)
);
CREATE INDEX IF NOT EXISTS records_id ON records (id);
`

// Store implements ports.StateStore on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// The special path ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := ":memory:"
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One writer at a time; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load reads every field of the record.
func (s *Store) Load(ctx context.Context, id string) (domain.Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT field, value FROM records WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	defer rows.Close()

	rec := domain.Record{}
	for rows.Next() {
		var field, raw string
		if err := rows.Scan(&field, &raw); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode field %s of %s: %w", field, id, err)
		}
		rec[field] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load record: %w", err)
	}
	if len(rec) == 0 {
		return nil, domain.ErrStateNotFound
	}
	return rec, nil
}

// Commit applies all diffs inside one transaction.
func (s *Store) Commit(ctx context.Context, diffs ...domain.StateDiff) error {
	type row struct{ id, field, value string }
	var upserts []row
	for _, d := range diffs {
		if d.ID == "" {
			return fmt.Errorf("record id cannot be empty")
		}
		for k, v := range d.Set {
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("encode field %s of %s: %w", k, d.ID, err)
			}
			upserts = append(upserts, row{d.ID, k, string(data)})
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range diffs {
		for _, k := range d.Deleted {
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE id = ? AND field = ?`, d.ID, k); err != nil {
				return fmt.Errorf("delete field %s of %s: %w", k, d.ID, err)
			}
		}
	}
	for _, r := range upserts {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO records (id, field, value) VALUES (?, ?, ?)
			 ON CONFLICT (id, field) DO UPDATE SET value = excluded.value`,
			r.id, r.field, r.value,
		); err != nil {
			return fmt.Errorf("write field %s of %s: %w", r.field, r.id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// List returns all record ids in lexical order.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT id FROM records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
