// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tubemeta/tubemeta/internal/tube"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// RecordStoreConfig controls the Postgres connection pool used for video rows.
type RecordStoreConfig struct {
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

// RecordStore writes fetched video rows into Postgres.
type RecordStore struct {
	pool  execCloser
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the provided config.
func NewRecordStore(ctx context.Context, cfg RecordStoreConfig) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "video_records"
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
	return &RecordStore{
		pool:  pool,
		table: table,
	}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRecordStoreWithPool(pool execCloser, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "video_records"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreRecord inserts a video row into Postgres.
func (s *RecordStore) StoreRecord(ctx context.Context, record tube.StoredRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("record store is not configured")
	}
	if record.VideoID == "" {
		return fmt.Errorf("video id is required")
	}
	errorsJSON, err := json.Marshal(normalizeTags(record.Errors))
	if err != nil {
		return fmt.Errorf("marshal failure tags: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	video_id,
	length_seconds,
	thumbnail_url,
	description_blob,
	caption_blob,
	content_type,
	fetch_errors,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)

	args := []any{
		record.VideoID,
		record.Length,
		record.Thumbnail,
		record.DescriptionURI,
		record.CaptionURI,
		record.ContentType,
		errorsJSON,
		record.FetchedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert video record: %w", err)
	}
	return nil
}

func normalizeTags(tags []tube.FailureTag) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		out = append(out, string(tag))
	}
	return out
}
