// Package engine executes claimed jobs: fetch, persist, and mark complete.
package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/webgrove/fetchd/internal/fetchd"
)

// Config controls Engine persistence behavior.
type Config struct {
	BlobPrefix  string
	ContentType string
}

// Engine wraps the injected fetch capability with the persistence envelope:
// on success it stores the raw body, upserts the result row, appends the
// completed-target record, and marks the job completed. On failure it
// persists nothing and returns the error for the dispatcher's retry policy.
type Engine struct {
	fetcher fetchd.Fetcher
	queue   fetchd.Queue
	results fetchd.ResultStore
	targets fetchd.TargetIndex
	blobs   fetchd.BlobStore
	hasher  fetchd.Hasher
	clock   fetchd.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs an Engine.
func New(
	fetcher fetchd.Fetcher,
	queue fetchd.Queue,
	results fetchd.ResultStore,
	targets fetchd.TargetIndex,
	blobs fetchd.BlobStore,
	hasher fetchd.Hasher,
	clock fetchd.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Engine{
		fetcher: fetcher,
		queue:   queue,
		results: results,
		targets: targets,
		blobs:   blobs,
		hasher:  hasher,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// Execute runs one claimed job end to end. The returned record is only
// valid when err is nil.
func (e *Engine) Execute(ctx context.Context, job fetchd.Job) (fetchd.ResultRecord, error) {
	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	resp, err := e.fetcher.Fetch(fetchCtx, fetchd.FetchRequest{
		JobID:    job.ID,
		Target:   job.Target,
		Metadata: job.Metadata,
	})
	if err != nil {
		return fetchd.ResultRecord{}, fmt.Errorf("fetch %s: %w", job.Target, err)
	}

	record, err := e.persist(ctx, job, resp)
	if err != nil {
		return fetchd.ResultRecord{}, err
	}

	if err := e.queue.MarkCompleted(ctx, job.ID); err != nil {
		return fetchd.ResultRecord{}, fmt.Errorf("mark completed: %w", err)
	}
	e.logger.Debug("job executed",
		zap.String("job_id", job.ID),
		zap.String("target", job.Target),
		zap.Int("status", resp.StatusCode),
	)
	return record, nil
}

func (e *Engine) persist(ctx context.Context, job fetchd.Job, resp fetchd.FetchResult) (fetchd.ResultRecord, error) {
	hash, err := e.hasher.Hash(resp.Body)
	if err != nil {
		return fetchd.ResultRecord{}, fmt.Errorf("hash body: %w", err)
	}

	uri, err := e.blobs.PutObject(ctx, e.blobPath(job.ID, hash), e.cfg.ContentType, resp.Body)
	if err != nil {
		return fetchd.ResultRecord{}, fmt.Errorf("put object: %w", err)
	}

	record := fetchd.ResultRecord{
		Target:      job.Target,
		JobID:       job.ID,
		StatusCode:  resp.StatusCode,
		ContentHash: hash,
		BlobURI:     uri,
		Headers:     resp.Headers,
		FetchedAt:   e.clock.Now(),
		DurationMs:  resp.Duration.Milliseconds(),
	}
	if err := e.results.Upsert(ctx, record); err != nil {
		return fetchd.ResultRecord{}, fmt.Errorf("upsert result: %w", err)
	}
	if err := e.targets.MarkCompleted(ctx, job.Target, record.FetchedAt); err != nil {
		return fetchd.ResultRecord{}, fmt.Errorf("record completed target: %w", err)
	}
	return record, nil
}

func (e *Engine) blobPath(jobID, hash string) string {
	prefix := strings.Trim(e.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s.html", jobID, hash)
	}
	return fmt.Sprintf("%s/%s/%s.html", prefix, jobID, hash)
}
