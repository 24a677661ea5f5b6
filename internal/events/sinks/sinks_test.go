package sinks_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/webgrove/fetchd/internal/events"
	"github.com/webgrove/fetchd/internal/events/sinks"
	"github.com/webgrove/fetchd/internal/fetchd"
	pubmem "github.com/webgrove/fetchd/internal/publisher/memory"
)

func completedEvent() events.Event {
	return events.Event{
		Kind: events.KindJobCompleted,
		TS:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Job:  fetchd.Job{ID: "job-1", Target: "https://example.com/a", Retries: 1},
		Result: &fetchd.ResultRecord{
			Target:      "https://example.com/a",
			JobID:       "job-1",
			StatusCode:  200,
			ContentHash: "abc123",
			BlobURI:     "memory://pages/job-1/abc123.html",
			DurationMs:  250,
		},
	}
}

func TestPublisherSinkForwardsJobEvents(t *testing.T) {
	t.Parallel()

	pub := pubmem.New()
	sink, err := sinks.NewPublisherSink(pub, "fetch-events")
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), completedEvent()))
	require.NoError(t, sink.Consume(context.Background(), events.Event{
		Kind:      events.KindJobFailed,
		TS:        time.Now(),
		Job:       fetchd.Job{ID: "job-2", Target: "https://example.com/b"},
		ErrorText: "connection reset",
	}))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "fetch-events", msgs[0].Topic)

	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "JOB_COMPLETED", payload["kind"])
	require.Equal(t, "job-1", payload["job_id"])
	require.Equal(t, "memory://pages/job-1/abc123.html", payload["blob_uri"])

	failed, ok := msgs[1].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "connection reset", failed["error"])
}

func TestPublisherSinkIgnoresHealthEvents(t *testing.T) {
	t.Parallel()

	pub := pubmem.New()
	sink, err := sinks.NewPublisherSink(pub, "fetch-events")
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), events.Event{
		Kind:      events.KindHealth,
		TS:        time.Now(),
		Resources: &fetchd.ResourceSnapshot{Available: true},
		Stats:     &fetchd.Stats{},
	}))
	require.Empty(t, pub.Messages())
}

func TestPublisherSinkValidation(t *testing.T) {
	t.Parallel()

	_, err := sinks.NewPublisherSink(nil, "topic")
	require.Error(t, err)

	_, err = sinks.NewPublisherSink(pubmem.New(), "")
	require.Error(t, err)
}

func TestLogSinkLogsPerKind(t *testing.T) {
	t.Parallel()

	core, observed := observer.New(zap.InfoLevel)
	sink := sinks.NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), completedEvent()))
	require.NoError(t, sink.Consume(context.Background(), events.Event{
		Kind:      events.KindJobFailed,
		TS:        time.Now(),
		Job:       fetchd.Job{ID: "job-2", Target: "https://example.com/b"},
		ErrorText: "boom",
	}))

	entries := observed.All()
	require.Len(t, entries, 2)
	require.Equal(t, "job completed", entries[0].Message)
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "job failed", entries[1].Message)
}

func TestPrometheusSinkCounts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := sinks.NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), completedEvent()))
	require.NoError(t, sink.Consume(context.Background(), events.Event{
		Kind: events.KindJobFailed,
		TS:   time.Now(),
		Job:  fetchd.Job{ID: "job-2"},
	}))
	require.NoError(t, sink.Consume(context.Background(), events.Event{
		Kind:      events.KindHealth,
		TS:        time.Now(),
		Resources: &fetchd.ResourceSnapshot{CPUPercent: 42.5, MemoryMB: 512, ActiveJobs: 3},
		Stats:     &fetchd.Stats{ThrottledCount: 7},
	}))

	families, err := reg.Gather()
	require.NoError(t, err)

	byName := map[string]float64{}
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			name := fam.GetName()
			for _, label := range m.GetLabel() {
				name += "/" + label.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				byName[name] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				byName[name] = m.GetGauge().GetValue()
			}
		}
	}
	require.InDelta(t, 1, byName["fetchd_jobs_completed_total/success"], 0.001)
	require.InDelta(t, 1, byName["fetchd_jobs_completed_total/error"], 0.001)
	require.InDelta(t, 42.5, byName["fetchd_health_cpu_percent"], 0.001)
	require.InDelta(t, 3, byName["fetchd_health_active_jobs"], 0.001)
	require.InDelta(t, 7, byName["fetchd_health_throttled_total"], 0.001)
}
