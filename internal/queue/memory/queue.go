// Package memory provides an in-memory job queue for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/webgrove/fetchd/internal/fetchd"
)

// Queue implements fetchd.Queue with an in-process table. Claim atomicity
// comes from a single mutex, which is equivalent to the SKIP LOCKED
// primitive when every dispatcher shares one process.
type Queue struct {
	mu    sync.Mutex
	jobs  map[string]*fetchd.Job
	order int64
	seq   map[string]int64
	ids   fetchd.IDGenerator
	clock fetchd.Clock
}

// New creates an empty Queue.
func New(ids fetchd.IDGenerator, clock fetchd.Clock) *Queue {
	return &Queue{
		jobs:  make(map[string]*fetchd.Job),
		seq:   make(map[string]int64),
		ids:   ids,
		clock: clock,
	}
}

// Enqueue inserts a new pending job.
func (q *Queue) Enqueue(_ context.Context, job fetchd.Job) (string, error) {
	if job.Target == "" {
		return "", fmt.Errorf("job target is required")
	}
	id, err := q.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	stored := job
	stored.ID = id
	stored.Status = fetchd.JobStatusPending
	stored.Retries = 0
	if stored.ScheduledAt.IsZero() {
		stored.ScheduledAt = q.clock.Now()
	}
	q.jobs[id] = &stored
	q.order++
	q.seq[id] = q.order
	return id, nil
}

// ClaimNext claims the highest-priority eligible pending job, breaking
// ties by scheduled_at then insertion order.
func (q *Queue) ClaimNext(_ context.Context) (*fetchd.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.clock.Now()
	var eligible []*fetchd.Job
	for _, job := range q.jobs {
		if job.Status == fetchd.JobStatusPending && !job.ScheduledAt.After(now) {
			eligible = append(eligible, job)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.ScheduledAt.Equal(b.ScheduledAt) {
			return a.ScheduledAt.Before(b.ScheduledAt)
		}
		return q.seq[a.ID] < q.seq[b.ID]
	})

	job := eligible[0]
	job.Status = fetchd.JobStatusInProgress
	claimedAt := now
	job.ClaimedAt = &claimedAt

	copied := *job
	return &copied, nil
}

// MarkCompleted transitions an in_progress job to completed.
func (q *Queue) MarkCompleted(_ context.Context, jobID string) error {
	return q.transition(jobID, func(job *fetchd.Job) {
		job.Status = fetchd.JobStatusCompleted
		job.LastError = ""
	})
}

// MarkSkipped transitions an in_progress job to skipped.
func (q *Queue) MarkSkipped(_ context.Context, jobID string, reason string) error {
	return q.transition(jobID, func(job *fetchd.Job) {
		job.Status = fetchd.JobStatusSkipped
		job.LastError = reason
	})
}

// MarkFailed transitions an in_progress job to failed.
func (q *Queue) MarkFailed(_ context.Context, jobID string, errText string) error {
	return q.transition(jobID, func(job *fetchd.Job) {
		job.Status = fetchd.JobStatusFailed
		job.LastError = errText
	})
}

// Requeue returns an in_progress job to pending with retries incremented.
func (q *Queue) Requeue(_ context.Context, jobID string, errText string, delay time.Duration) error {
	return q.transition(jobID, func(job *fetchd.Job) {
		job.Status = fetchd.JobStatusPending
		job.Retries++
		job.LastError = errText
		job.ScheduledAt = q.clock.Now().Add(delay)
		job.ClaimedAt = nil
	})
}

// ReclaimStale flips abandoned claims back to pending.
func (q *Queue) ReclaimStale(_ context.Context, olderThan time.Duration) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cutoff := q.clock.Now().Add(-olderThan)
	var n int64
	for _, job := range q.jobs {
		if job.Status == fetchd.JobStatusInProgress && job.ClaimedAt != nil && job.ClaimedAt.Before(cutoff) {
			job.Status = fetchd.JobStatusPending
			job.ClaimedAt = nil
			n++
		}
	}
	return n, nil
}

// Get returns a copy of the stored job, for assertions and inspection.
func (q *Queue) Get(jobID string) (fetchd.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return fetchd.Job{}, false
	}
	return *job, true
}

func (q *Queue) transition(jobID string, apply func(*fetchd.Job)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok || job.Status != fetchd.JobStatusInProgress {
		return fetchd.ErrClaimConflict
	}
	apply(job)
	return nil
}
