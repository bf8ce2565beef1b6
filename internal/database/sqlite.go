package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite stores every document in a single table keyed by (collection, id).
type SQLite struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", p, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("database initialized", "driver", "sqlite", "path", path)
	return s, nil
}

// NewSQLiteMemory creates an in-memory store for tests.
func NewSQLiteMemory() (*SQLite, error) {
	return NewSQLite(":memory:")
}

func (s *SQLite) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) NewID() string {
	return newID()
}

func (s *SQLite) Get(ctx context.Context, docPath string) (Document, error) {
	collection, id, err := SplitPath(docPath)
	if err != nil {
		return nil, err
	}

	var data string
	err = s.db.QueryRowContext(ctx,
		"SELECT data FROM documents WHERE collection = ? AND id = ?", collection, id,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(docPath)
	}
	if err != nil {
		return nil, storeErr("get", docPath, err)
	}
	return decodeJSON(docPath, data)
}

func (s *SQLite) Set(ctx context.Context, docPath string, doc Document) error {
	collection, id, err := SplitPath(docPath)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", docPath, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`, collection, id, string(data), time.Now())
	return storeErr("set", docPath, err)
}

func (s *SQLite) Delete(ctx context.Context, docPath string) error {
	collection, id, err := SplitPath(docPath)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, "DELETE FROM documents WHERE collection = ? AND id = ?", collection, id)
	return storeErr("delete", docPath, err)
}

func (s *SQLite) List(ctx context.Context, collection string) ([]Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, data FROM documents WHERE collection = ? ORDER BY id", collection)
	if err != nil {
		return nil, storeErr("list", collection, err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var id, data string
		if err := rows.Scan(&id, &data); err != nil {
			return nil, storeErr("list", collection, err)
		}
		doc, err := decodeJSON(Path(collection, id), data)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, Snapshot{ID: id, Data: doc})
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list", collection, err)
	}
	return snapshots, nil
}

func decodeJSON(docPath, data string) (Document, error) {
	doc := Document{}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", docPath, err)
	}
	return doc, nil
}
