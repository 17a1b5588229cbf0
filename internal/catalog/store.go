// Package catalog provides Postgres-backed persistence for archive index
// records, so operators can query archive state with SQL instead of walking
// index files in the object store.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/openjudiciary/ecourts-archiver/internal/archive"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// StoreConfig controls the Postgres connection pool used for catalog rows.
type StoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store mirrors archive index records into Postgres. It implements
// archive.RecordSink.
type Store struct {
	pool  execCloser
	table string
}

// New creates a Postgres-backed Store using the provided config.
func New(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("catalog.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "archive_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, table: table}, nil
}

// NewWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewWithPool(pool execCloser, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "archive_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertRecord inserts or replaces the row for the record's key. One row
// exists per archive key; repeated upserts after each sealed part keep the
// row current.
func (s *Store) UpsertRecord(ctx context.Context, record *archive.IndexRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("catalog store is not configured")
	}
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	partsJSON, err := json.Marshal(record.Parts)
	if err != nil {
		return fmt.Errorf("marshal parts: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	archive_key,
	year,
	state_code,
	district_code,
	complex_code,
	archive_type,
	file_count,
	total_size,
	parts,
	created_at,
	updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (archive_key) DO UPDATE SET
	file_count = EXCLUDED.file_count,
	total_size = EXCLUDED.total_size,
	parts = EXCLUDED.parts,
	updated_at = EXCLUDED.updated_at`, s.table)

	key := record.Key()
	args := []any{
		key.String(),
		key.Year,
		key.StateCode,
		key.DistrictCode,
		key.ComplexCode,
		string(key.Type),
		record.FileCount,
		record.TotalSize,
		partsJSON,
		record.CreatedAt,
		record.UpdatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert archive record: %w", err)
	}
	return nil
}
