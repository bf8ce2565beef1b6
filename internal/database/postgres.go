package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/charlie0129/daytracker/internal/config"
)

// Postgres stores documents as JSONB rows keyed by (collection, id).
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("error creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error connecting to postgres: %w", err)
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	slog.Info("database initialized", "driver", "postgres")
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection TEXT NOT NULL,
			id TEXT NOT NULL,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (collection, id)
		)`,
	}
	for _, m := range migrations {
		if _, err := p.pool.Exec(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

func (p *Postgres) NewID() string {
	return newID()
}

func (p *Postgres) Get(ctx context.Context, docPath string) (Document, error) {
	collection, id, err := SplitPath(docPath)
	if err != nil {
		return nil, err
	}

	var data string
	err = p.pool.QueryRow(ctx,
		`SELECT data::text FROM documents WHERE collection = $1 AND id = $2`, collection, id,
	).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(docPath)
	}
	if err != nil {
		return nil, storeErr("get", docPath, err)
	}
	return decodeJSON(docPath, data)
}

func (p *Postgres) Set(ctx context.Context, docPath string, doc Document) error {
	collection, id, err := SplitPath(docPath)
	if err != nil {
		return err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s: %w", docPath, err)
	}

	_, err = p.pool.Exec(ctx, `
		INSERT INTO documents (collection, id, data, updated_at)
		VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		collection, id, string(data), time.Now(),
	)
	return storeErr("set", docPath, err)
}

func (p *Postgres) Delete(ctx context.Context, docPath string) error {
	collection, id, err := SplitPath(docPath)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	return storeErr("delete", docPath, err)
}

func (p *Postgres) List(ctx context.Context, collection string) ([]Snapshot, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, data::text FROM documents WHERE collection = $1 ORDER BY id`, collection)
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
