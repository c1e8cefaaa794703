// Package postgres implements the postgres storage plugin on pgx.
package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/procurement-bridge/internal/config"
	"github.com/fairyhunter13/procurement-bridge/internal/domain"
	"github.com/fairyhunter13/procurement-bridge/internal/plugin"
)

func init() {
	plugin.RegisterStorage("postgres", func(cfg *config.Config) (domain.Storage, error) {
		return New(context.Background(), cfg)
	})
}

const schema = `CREATE TABLE IF NOT EXISTS resource_items (
	id TEXT PRIMARY KEY,
	date_modified TEXT NOT NULL,
	body JSONB
)`

// Storage is a postgres-backed filter/persistence backend.
type Storage struct {
	pool *pgxpool.Pool
}

// New connects using storage_config.dsn and ensures the schema exists.
func New(ctx context.Context, cfg *config.Config) (*Storage, error) {
	pc, err := pgxpool.ParseConfig(cfg.StorageConfig.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres storage: parse dsn: %w", err)
	}
	pc.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("postgres storage: connect: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres storage: ensure schema: %w", err)
	}
	slog.Info("connected postgres storage")
	return &Storage{pool: pool}, nil
}

// Close releases the connection pool.
func (s *Storage) Close() { s.pool.Close() }

// Filter keeps the items whose dateModified is newer than the stored copy.
func (s *Storage) Filter(ctx context.Context, items []domain.ResourceItem) ([]domain.ResourceItem, error) {
	if len(items) == 0 {
		return nil, nil
	}
	ids := make([]string, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, date_modified FROM resource_items WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres storage: select: %w", err)
	}
	defer rows.Close()
	stored := make(map[string]string, len(items))
	for rows.Next() {
		var id, dm string
		if err := rows.Scan(&id, &dm); err != nil {
			return nil, fmt.Errorf("postgres storage: scan: %w", err)
		}
		stored[id] = dm
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres storage: rows: %w", err)
	}
	var out []domain.ResourceItem
	for _, item := range items {
		if prev, ok := stored[item.ID]; !ok || prev < item.DateModified {
			out = append(out, item)
		}
	}
	return out, nil
}

// Upsert writes the item, replacing any older copy.
func (s *Storage) Upsert(ctx context.Context, item domain.ResourceItem) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO resource_items (id, date_modified, body) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET date_modified = EXCLUDED.date_modified, body = EXCLUDED.body`,
		item.ID, item.DateModified, item.Raw)
	if err != nil {
		return fmt.Errorf("postgres storage: upsert: %w", err)
	}
	return nil
}
