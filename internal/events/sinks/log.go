// Package sinks provides Sink implementations for the event hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/webgrove/fetchd/internal/events"
)

// LogSink emits structured logs for each dispatcher event. It is useful
// during development or audits where no external subscriber is wired up.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt events.Event) error {
	switch evt.Kind {
	case events.KindJobCompleted:
		s.logger.Info("job completed",
			zap.String("job_id", evt.Job.ID),
			zap.String("target", evt.Job.Target),
			zap.Int("retries", evt.Job.Retries),
		)
	case events.KindJobFailed:
		s.logger.Warn("job failed",
			zap.String("job_id", evt.Job.ID),
			zap.String("target", evt.Job.Target),
			zap.Int("retries", evt.Job.Retries),
			zap.String("error", evt.ErrorText),
		)
	case events.KindHealth:
		s.logger.Info("health",
			zap.Float64("cpu_percent", evt.Resources.CPUPercent),
			zap.Float64("memory_mb", evt.Resources.MemoryMB),
			zap.Int("active_jobs", evt.Resources.ActiveJobs),
			zap.Int64("total_scraped", evt.Stats.TotalScraped),
			zap.Int64("errors", evt.Stats.ErrorCount),
			zap.Int64("skipped", evt.Stats.SkippedDuplicates),
			zap.Int64("throttled", evt.Stats.ThrottledCount),
		)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
