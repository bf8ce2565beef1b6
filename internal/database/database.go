package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/charlie0129/daytracker/internal/config"
)

// Document is a schemaless stored document. Backends normalise decoded
// values to map[string]any, []any, string, bool, float64/int64 and nil.
type Document = map[string]any

// Snapshot is a document read from a collection scan.
type Snapshot struct {
	ID   string
	Data Document
}

// ErrNotFound is returned by Get when the document does not exist.
var ErrNotFound = errors.New("document not found")

// StoreError wraps a failed store operation. Callers treat it as a
// transient I/O failure: the whole unit of work is retried.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Store is a hierarchical key-document store. Paths alternate collection
// and document segments: "users/u1/today" is a collection,
// "users/u1/today/abc" a document in it. Each call is independent; there
// are no multi-document transactions.
type Store interface {
	// Get returns ErrNotFound when the document is missing.
	Get(ctx context.Context, docPath string) (Document, error)
	// Set overwrites the document (last write wins).
	Set(ctx context.Context, docPath string, doc Document) error
	// Delete removes the document; deleting a missing document is a no-op.
	Delete(ctx context.Context, docPath string) error
	// List returns the documents directly inside collection, ordered by id.
	List(ctx context.Context, collection string) ([]Snapshot, error)
	// NewID returns a fresh document identifier.
	NewID() string
	Close() error
}

// Path joins path segments with "/".
func Path(segments ...string) string {
	return strings.Join(segments, "/")
}

// SplitPath splits a document path into its collection and id.
func SplitPath(docPath string) (collection, id string, err error) {
	i := strings.LastIndex(docPath, "/")
	if i <= 0 || i == len(docPath)-1 {
		return "", "", fmt.Errorf("invalid document path %q", docPath)
	}
	return docPath[:i], docPath[i+1:], nil
}

func newID() string {
	return uuid.NewString()
}

func storeErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Path: path, Err: err}
}

func notFound(path string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, path)
}

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch cfg.Driver {
	case "", config.DriverSQLite:
		return NewSQLite(cfg.SQLitePath)
	case config.DriverMongoDB:
		return NewMongo(ctx, cfg.MongoDB)
	case config.DriverPostgres:
		return NewPostgres(ctx, cfg.Postgres)
	}
	return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
}
