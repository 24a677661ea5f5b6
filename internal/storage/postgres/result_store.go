// Package postgres provides Postgres-backed persistence for fetch results
// and the completed-targets index.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webgrove/fetchd/internal/fetchd"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool builds a pgx pool shared by the result store and target index.
func NewPool(ctx context.Context, dsn string, maxConns, minConns int32) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("storage dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return p, nil
}

// ResultStore upserts fetch results keyed by target. It assumes a schema like:
//
//	CREATE TABLE fetch_results (
//		target TEXT PRIMARY KEY,
//		job_id UUID NOT NULL,
//		status_code INT NOT NULL,
//		content_hash TEXT NOT NULL,
//		blob_uri TEXT,
//		headers JSONB,
//		fetched_at TIMESTAMPTZ NOT NULL,
//		duration_ms BIGINT NOT NULL
//	);
type ResultStore struct {
	pool  pool
	table string
}

// NewResultStore creates a Postgres-backed ResultStore on an existing pool.
func NewResultStore(p pool, table string) (*ResultStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "fetch_results"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ResultStore{pool: p, table: table}, nil
}

// Upsert writes the result row for a target. Re-executing the same target
// overwrites the previous row; the target key guarantees no duplicates.
func (s *ResultStore) Upsert(ctx context.Context, record fetchd.ResultRecord) error {
	if record.Target == "" {
		return fmt.Errorf("record target is required")
	}
	headersJSON, err := json.Marshal(normalizeHeaders(record.Headers))
	if err != nil {
		return fmt.Errorf("marshal headers: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (target, job_id, status_code, content_hash, blob_uri, headers, fetched_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (target) DO UPDATE SET
	job_id = EXCLUDED.job_id,
	status_code = EXCLUDED.status_code,
	content_hash = EXCLUDED.content_hash,
	blob_uri = EXCLUDED.blob_uri,
	headers = EXCLUDED.headers,
	fetched_at = EXCLUDED.fetched_at,
	duration_ms = EXCLUDED.duration_ms`, s.table)

	args := []any{
		record.Target,
		record.JobID,
		record.StatusCode,
		record.ContentHash,
		record.BlobURI,
		headersJSON,
		record.FetchedAt,
		record.DurationMs,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert result: %w", err)
	}
	return nil
}

// TargetIndex is the append-only completed-targets table:
//
//	CREATE TABLE completed_targets (
//		target TEXT PRIMARY KEY,
//		completed_at TIMESTAMPTZ NOT NULL
//	);
//
// Rows are never deleted; the index grows monotonically.
type TargetIndex struct {
	pool  pool
	table string
}

// NewTargetIndex creates a Postgres-backed TargetIndex on an existing pool.
func NewTargetIndex(p pool, table string) (*TargetIndex, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "completed_targets"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &TargetIndex{pool: p, table: table}, nil
}

// IsCompleted reports whether a completed record exists for the target.
func (s *TargetIndex) IsCompleted(ctx context.Context, target string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE target = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, target).Scan(&exists); err != nil {
		return false, fmt.Errorf("check completed target: %w", err)
	}
	return exists, nil
}

// MarkCompleted appends the target record. A replayed completion keeps the
// earliest timestamp.
func (s *TargetIndex) MarkCompleted(ctx context.Context, target string, at time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (target, completed_at)
VALUES ($1, $2)
ON CONFLICT (target) DO NOTHING`, s.table)
	if _, err := s.pool.Exec(ctx, query, target, at); err != nil {
		return fmt.Errorf("mark target completed: %w", err)
	}
	return nil
}

func normalizeHeaders(h http.Header) map[string][]string {
	if len(h) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(h))
	for k, values := range h {
		out[k] = append([]string(nil), values...)
	}
	return out
}
