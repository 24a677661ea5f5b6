package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webgrove/fetchd/internal/fetchd"
)

func TestFetchReturnsBodyAndHeaders(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Source", "test")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>hello</html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "fetchd-test", Timeout: 5 * time.Second})
	result, err := f.Fetch(context.Background(), fetchd.FetchRequest{
		JobID:  "job-1",
		Target: srv.URL,
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	require.Equal(t, []byte("<html>hello</html>"), result.Body)
	require.Equal(t, "test", result.Headers.Get("X-Source"))
	require.Positive(t, result.Duration)
}

func TestFetchServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New(Config{Timeout: 5 * time.Second})
	_, err := f.Fetch(context.Background(), fetchd.FetchRequest{Target: srv.URL})
	require.Error(t, err)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	f := New(Config{Timeout: 30 * time.Second})
	_, err := f.Fetch(ctx, fetchd.FetchRequest{Target: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildCollectorAppliesConfig(t *testing.T) {
	t.Parallel()

	f := New(Config{UserAgent: "custom-agent", RespectRobots: true})
	var result fetchd.FetchResult
	collector := f.buildCollector(fetchd.FetchRequest{Target: "https://example.com"},
		time.Unix(0, 0), &result, new(error))
	require.Equal(t, "custom-agent", collector.UserAgent)
	require.False(t, collector.IgnoreRobotsTxt)
}
