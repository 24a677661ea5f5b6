package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/webgrove/fetchd/internal/fetchd"
)

type fixedIDs struct {
	id string
}

func (f *fixedIDs) NewID() (string, error) { return f.id, nil }

func newTestQueue(t *testing.T) (*Queue, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	q, err := NewWithPool(mock, "fetch_jobs", &fixedIDs{id: "job-1"})
	require.NoError(t, err)
	return q, mock
}

func TestEnqueueInsertsPendingRow(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t)

	mock.ExpectExec("INSERT INTO fetch_jobs").
		WithArgs("job-1", "https://a.example", 5, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, err := q.Enqueue(context.Background(), fetchd.Job{
		Target:   "https://a.example",
		Priority: 5,
		Metadata: map[string]any{"country": "us"},
	})
	require.NoError(t, err)
	require.Equal(t, "job-1", id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueRejectsEmptyTarget(t *testing.T) {
	t.Parallel()

	q, _ := newTestQueue(t)

	_, err := q.Enqueue(context.Background(), fetchd.Job{})
	require.Error(t, err)
}

func TestClaimNextReturnsClaimedJob(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t)

	now := time.Unix(1700000000, 0).UTC()
	claimed := now.Add(time.Second)
	rows := pgxmock.NewRows([]string{
		"id", "target", "priority", "status", "retries",
		"scheduled_at", "last_error", "metadata", "claimed_at",
	}).AddRow(
		"job-1", "https://a.example", 5, fetchd.JobStatusInProgress, 0,
		now, (*string)(nil), []byte(`{"country":"us"}`), &claimed,
	)
	mock.ExpectQuery("UPDATE fetch_jobs SET status = 'in_progress'").
		WillReturnRows(rows)

	job, err := q.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, "job-1", job.ID)
	require.Equal(t, fetchd.JobStatusInProgress, job.Status)
	require.Equal(t, "us", job.Metadata["country"])
	require.NotNil(t, job.ClaimedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextEmptyQueueIsNotAnError(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t)

	mock.ExpectQuery("UPDATE fetch_jobs SET status = 'in_progress'").
		WillReturnError(pgx.ErrNoRows)

	job, err := q.ClaimNext(context.Background())
	require.NoError(t, err)
	require.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompletedGuardsOnInProgress(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t)

	mock.ExpectExec("UPDATE fetch_jobs SET status = 'completed'").
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, q.MarkCompleted(context.Background(), "job-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompletedConflictWhenRowNotClaimed(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t)

	mock.ExpectExec("UPDATE fetch_jobs SET status = 'completed'").
		WithArgs("job-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := q.MarkCompleted(context.Background(), "job-1")
	require.ErrorIs(t, err, fetchd.ErrClaimConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSkippedRecordsReason(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t)

	mock.ExpectExec("UPDATE fetch_jobs SET status = 'skipped'").
		WithArgs("job-1", "duplicate target").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, q.MarkSkipped(context.Background(), "job-1", "duplicate target"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueIncrementsRetriesAndDefers(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t)

	mock.ExpectExec("UPDATE fetch_jobs SET status = 'pending', retries = retries \\+ 1").
		WithArgs("job-1", "connection reset", float64(300)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := q.Requeue(context.Background(), "job-1", "connection reset", 5*time.Minute)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReclaimStaleReturnsReclaimedCount(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t)

	mock.ExpectExec("UPDATE fetch_jobs SET status = 'pending', claimed_at = NULL").
		WithArgs(float64(600)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	n, err := q.ReclaimStale(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkFailedPropagatesExecError(t *testing.T) {
	t.Parallel()

	q, mock := newTestQueue(t)

	mock.ExpectExec("UPDATE fetch_jobs SET status = 'failed'").
		WithArgs("job-1", "retries exhausted: boom").
		WillReturnError(errors.New("connection closed"))

	err := q.MarkFailed(context.Background(), "job-1", "retries exhausted: boom")
	require.Error(t, err)
	require.NotErrorIs(t, err, fetchd.ErrClaimConflict)
}
