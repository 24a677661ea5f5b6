// Package postgres provides the Postgres-backed durable job queue.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webgrove/fetchd/internal/fetchd"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the job queue.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Queue implements fetchd.Queue over a Postgres table. It assumes a schema
// like:
//
//	CREATE TABLE fetch_jobs (
//		id UUID PRIMARY KEY,
//		target TEXT NOT NULL,
//		priority INT NOT NULL DEFAULT 0,
//		status TEXT NOT NULL DEFAULT 'pending',
//		retries INT NOT NULL DEFAULT 0,
//		scheduled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//		last_error TEXT,
//		metadata JSONB,
//		claimed_at TIMESTAMPTZ,
//		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
// All cross-process coordination happens through this table; no in-memory
// locking is trusted across dispatcher instances.
type Queue struct {
	pool  pool
	table string
	ids   fetchd.IDGenerator
}

// New creates a Postgres-backed Queue using the provided config.
func New(ctx context.Context, cfg Config, ids fetchd.IDGenerator) (*Queue, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("queue.dsn is required")
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
	return NewWithPool(p, cfg.Table, ids)
}

// NewWithPool constructs a Queue from an existing pool (primarily for testing).
func NewWithPool(p pool, table string, ids fetchd.IDGenerator) (*Queue, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if table == "" {
		table = "fetch_jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Queue{pool: p, table: table, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (q *Queue) Close() {
	if q == nil || q.pool == nil {
		return
	}
	q.pool.Close()
}

// Enqueue inserts a new pending job and returns the queue-assigned ID.
func (q *Queue) Enqueue(ctx context.Context, job fetchd.Job) (string, error) {
	if job.Target == "" {
		return "", fmt.Errorf("job target is required")
	}
	id, err := q.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	scheduledAt := job.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = time.Now().UTC()
	}
	metadataJSON, err := json.Marshal(job.Metadata)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, target, priority, status, retries, scheduled_at, metadata)
VALUES ($1, $2, $3, 'pending', 0, $4, $5)`, q.table)
	if _, err := q.pool.Exec(ctx, query, id, job.Target, job.Priority, scheduledAt, metadataJSON); err != nil {
		return "", fmt.Errorf("insert job: %w", err)
	}
	return id, nil
}

// ClaimNext atomically claims the highest-priority eligible pending job.
// FOR UPDATE SKIP LOCKED makes concurrent claimers ignore rows already
// locked by an in-flight claim, so no two dispatchers ever win the same
// row and none blocks behind another's transaction.
func (q *Queue) ClaimNext(ctx context.Context) (*fetchd.Job, error) {
	query := fmt.Sprintf(`
UPDATE %[1]s SET status = 'in_progress', claimed_at = NOW()
WHERE id = (
	SELECT id FROM %[1]s
	WHERE status = 'pending' AND scheduled_at <= NOW()
	ORDER BY priority DESC, scheduled_at ASC, created_at ASC
	FOR UPDATE SKIP LOCKED
	LIMIT 1
)
RETURNING id, target, priority, status, retries, scheduled_at, last_error, metadata, claimed_at`, q.table)

	var (
		job          fetchd.Job
		lastError    *string
		metadataJSON []byte
		claimedAt    *time.Time
	)
	err := q.pool.QueryRow(ctx, query).Scan(
		&job.ID,
		&job.Target,
		&job.Priority,
		&job.Status,
		&job.Retries,
		&job.ScheduledAt,
		&lastError,
		&metadataJSON,
		&claimedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	if lastError != nil {
		job.LastError = *lastError
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &job.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal job metadata: %w", err)
		}
	}
	job.ClaimedAt = claimedAt
	return &job, nil
}

// MarkCompleted transitions an in_progress job to completed.
func (q *Queue) MarkCompleted(ctx context.Context, jobID string) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'completed', last_error = NULL
WHERE id = $1 AND status = 'in_progress'`, q.table)
	return q.guardedExec(ctx, query, jobID)
}

// MarkSkipped transitions an in_progress job to skipped, recording why.
func (q *Queue) MarkSkipped(ctx context.Context, jobID string, reason string) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'skipped', last_error = $2
WHERE id = $1 AND status = 'in_progress'`, q.table)
	return q.guardedExec(ctx, query, jobID, reason)
}

// MarkFailed transitions an in_progress job to its terminal failed state.
func (q *Queue) MarkFailed(ctx context.Context, jobID string, errText string) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'failed', last_error = $2
WHERE id = $1 AND status = 'in_progress'`, q.table)
	return q.guardedExec(ctx, query, jobID, errText)
}

// Requeue returns an in_progress job to pending, incrementing retries and
// deferring its next eligibility by delay.
func (q *Queue) Requeue(ctx context.Context, jobID string, errText string, delay time.Duration) error {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'pending', retries = retries + 1, last_error = $2,
	scheduled_at = NOW() + make_interval(secs => $3), claimed_at = NULL
WHERE id = $1 AND status = 'in_progress'`, q.table)
	return q.guardedExec(ctx, query, jobID, errText, delay.Seconds())
}

// ReclaimStale flips abandoned in_progress rows back to pending so a
// future dispatcher can claim them after a crashed or force-drained peer.
func (q *Queue) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := fmt.Sprintf(`
UPDATE %s SET status = 'pending', claimed_at = NULL
WHERE status = 'in_progress' AND claimed_at < NOW() - make_interval(secs => $1)`, q.table)
	tag, err := q.pool.Exec(ctx, query, olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reclaim stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

// guardedExec runs an update that must touch exactly the still-claimed row.
// Zero rows affected means the job left in_progress under someone else's
// hand, which the claim primitive is supposed to make impossible.
func (q *Queue) guardedExec(ctx context.Context, query string, args ...any) error {
	tag, err := q.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fetchd.ErrClaimConflict
	}
	return nil
}
