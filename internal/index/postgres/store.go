// Package postgres provides a Postgres-backed article metadata index.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/fulltext-fetcher/internal/article"
	"github.com/JakeFAU/fulltext-fetcher/internal/index"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "article_metadata"

// Config controls the Postgres connection pool used for metadata rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// Store writes article metadata into Postgres.
type Store struct {
	pool  pool
	table string
}

// New creates a Store from cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("index.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: p, table: table}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p, table: table}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the metadata table when it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	cache_key      TEXT PRIMARY KEY,
	source         TEXT NOT NULL,
	url            TEXT NOT NULL,
	title          TEXT NOT NULL DEFAULT '',
	site_name      TEXT NOT NULL DEFAULT '',
	length         INTEGER NOT NULL,
	byline         TEXT NOT NULL DEFAULT '',
	published_time TEXT NOT NULL DEFAULT '',
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_updated_at_idx ON %[1]s (updated_at DESC)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Upsert inserts meta, or replaces the existing row only when meta is longer.
func (s *Store) Upsert(ctx context.Context, meta article.Metadata) error {
	if meta.Key == "" {
		return fmt.Errorf("metadata key is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (
	cache_key,
	source,
	url,
	title,
	site_name,
	length,
	byline,
	published_time,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (cache_key) DO UPDATE SET
	title = EXCLUDED.title,
	site_name = EXCLUDED.site_name,
	length = EXCLUDED.length,
	byline = EXCLUDED.byline,
	published_time = EXCLUDED.published_time,
	updated_at = EXCLUDED.updated_at
WHERE EXCLUDED.length > %[1]s.length`, s.table)

	args := []any{
		meta.Key,
		string(meta.Source),
		meta.URL,
		meta.Title,
		meta.SiteName,
		meta.Length,
		meta.Byline,
		meta.PublishedTime,
		meta.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert metadata: %w", err)
	}
	return nil
}

// Recent lists up to limit rows, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]article.Metadata, error) {
	query := fmt.Sprintf(`
SELECT cache_key, source, url, title, site_name, length, byline, published_time, updated_at
FROM %s
ORDER BY updated_at DESC, cache_key
LIMIT $1`, s.table)

	rows, err := s.pool.Query(ctx, query, index.ClampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query recent metadata: %w", err)
	}
	defer rows.Close()

	var out []article.Metadata
	for rows.Next() {
		var (
			m   article.Metadata
			src string
		)
		if err := rows.Scan(&m.Key, &src, &m.URL, &m.Title, &m.SiteName, &m.Length, &m.Byline, &m.PublishedTime, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan metadata: %w", err)
		}
		m.Source = article.Source(src)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metadata: %w", err)
	}
	return out, nil
}
