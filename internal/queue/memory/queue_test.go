package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webgrove/fetchd/internal/fetchd"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("job-%d", s.n), nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestQueue() (*Queue, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0).UTC()}
	return New(&seqIDs{}, clock), clock
}

func TestClaimNextPriorityOrder(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, fetchd.Job{Target: "low.example", Priority: 1})
	require.NoError(t, err)
	highID, err := q.Enqueue(ctx, fetchd.Job{Target: "high.example", Priority: 9})
	require.NoError(t, err)

	job, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, highID, job.ID)
	require.Equal(t, fetchd.JobStatusInProgress, job.Status)
}

func TestClaimNextHonorsScheduledAt(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue()
	ctx := context.Background()

	_, err := q.Enqueue(ctx, fetchd.Job{
		Target:      "later.example",
		ScheduledAt: clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	job, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.Nil(t, job)

	clock.Advance(2 * time.Hour)

	job, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestClaimNextNeverDoubleClaims(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue()
	ctx := context.Background()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		_, err := q.Enqueue(ctx, fetchd.Job{Target: fmt.Sprintf("t%d.example", i)})
		require.NoError(t, err)
	}

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := q.ClaimNext(ctx)
				require.NoError(t, err)
				if job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, jobs)
	for id, count := range seen {
		require.Equal(t, 1, count, "job %s claimed more than once", id)
	}
}

func TestRequeueIncrementsRetriesAndDefers(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, fetchd.Job{Target: "a.example"})
	require.NoError(t, err)
	_, err = q.ClaimNext(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Requeue(ctx, id, "boom", 5*time.Minute))

	job, ok := q.Get(id)
	require.True(t, ok)
	require.Equal(t, fetchd.JobStatusPending, job.Status)
	require.Equal(t, 1, job.Retries)
	require.Equal(t, "boom", job.LastError)

	// Not claimable until the deferral elapses.
	claimed, err := q.ClaimNext(ctx)
	require.NoError(t, err)
	require.Nil(t, claimed)

	clock.Advance(6 * time.Minute)
	claimed, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, 1, claimed.Retries)
}

func TestTransitionsRequireInProgress(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, fetchd.Job{Target: "a.example"})
	require.NoError(t, err)

	// Still pending: every terminal transition is a claim conflict.
	require.ErrorIs(t, q.MarkCompleted(ctx, id), fetchd.ErrClaimConflict)
	require.ErrorIs(t, q.MarkSkipped(ctx, id, "dup"), fetchd.ErrClaimConflict)
	require.ErrorIs(t, q.MarkFailed(ctx, id, "boom"), fetchd.ErrClaimConflict)
	require.ErrorIs(t, q.Requeue(ctx, id, "boom", time.Minute), fetchd.ErrClaimConflict)

	_, err = q.ClaimNext(ctx)
	require.NoError(t, err)
	require.NoError(t, q.MarkCompleted(ctx, id))

	// Completed is terminal; a second transition conflicts.
	require.ErrorIs(t, q.MarkFailed(ctx, id, "late"), fetchd.ErrClaimConflict)
}

func TestReclaimStaleFlipsAbandonedClaims(t *testing.T) {
	t.Parallel()

	q, clock := newTestQueue()
	ctx := context.Background()

	id, err := q.Enqueue(ctx, fetchd.Job{Target: "a.example"})
	require.NoError(t, err)
	_, err = q.ClaimNext(ctx)
	require.NoError(t, err)

	clock.Advance(20 * time.Minute)

	n, err := q.ReclaimStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	job, ok := q.Get(id)
	require.True(t, ok)
	require.Equal(t, fetchd.JobStatusPending, job.Status)
	require.Nil(t, job.ClaimedAt)
}
