package postgres

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/webgrove/fetchd/internal/fetchd"
)

func TestUpsertWritesResultRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResultStore(mock, "fetch_results")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := fetchd.ResultRecord{
		Target:      "https://a.example",
		JobID:       "job-1",
		StatusCode:  200,
		ContentHash: "abc123",
		BlobURI:     "gs://bucket/pages/abc123.html",
		Headers:     http.Header{"Content-Type": {"text/html"}},
		FetchedAt:   now,
		DurationMs:  42,
	}

	mock.ExpectExec("INSERT INTO fetch_results").
		WithArgs(
			rec.Target,
			rec.JobID,
			rec.StatusCode,
			rec.ContentHash,
			rec.BlobURI,
			[]byte(`{"Content-Type":["text/html"]}`),
			rec.FetchedAt,
			rec.DurationMs,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequiresTarget(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewResultStore(mock, "")
	require.NoError(t, err)

	require.Error(t, store.Upsert(context.Background(), fetchd.ResultRecord{}))
}

func TestIsCompletedQueriesIndex(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	idx, err := NewTargetIndex(mock, "completed_targets")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("https://b.example").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	done, err := idx.IsCompleted(context.Background(), "https://b.example")
	require.NoError(t, err)
	require.True(t, done)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkCompletedIsIdempotent(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	idx, err := NewTargetIndex(mock, "completed_targets")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectExec("INSERT INTO completed_targets").
		WithArgs("https://b.example", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	require.NoError(t, idx.MarkCompleted(context.Background(), "https://b.example", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewStoresRejectInvalidTableNames(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewResultStore(mock, "bad;table")
	require.Error(t, err)
	_, err = NewTargetIndex(mock, "drop table")
	require.Error(t, err)
}
