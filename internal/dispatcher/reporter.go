package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/webgrove/fetchd/internal/events"
	"github.com/webgrove/fetchd/internal/fetchd"
)

// Reporter periodically publishes a health event with the current resource
// snapshot and counters. It runs on its own goroutine so reporting never
// delays claiming or execution.
type Reporter struct {
	dispatcher *Dispatcher
	monitor    fetchd.Monitor
	emitter    events.Emitter
	interval   time.Duration
	clock      fetchd.Clock
	logger     *zap.Logger
}

// NewReporter constructs a Reporter ticking at interval.
func NewReporter(
	dispatcher *Dispatcher,
	monitor fetchd.Monitor,
	emitter events.Emitter,
	interval time.Duration,
	clock fetchd.Clock,
	logger *zap.Logger,
) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		dispatcher: dispatcher,
		monitor:    monitor,
		emitter:    emitter,
		interval:   interval,
		clock:      clock,
		logger:     logger,
	}
}

// Run emits health events until ctx is canceled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

func (r *Reporter) report(ctx context.Context) {
	snap := r.monitor.Check(ctx)
	stats := r.dispatcher.Stats()
	r.logger.Info("health",
		zap.String("state", string(r.dispatcher.State())),
		zap.Float64("cpu_percent", snap.CPUPercent),
		zap.Float64("memory_mb", snap.MemoryMB),
		zap.Int64("active_jobs", stats.ActiveJobs),
		zap.Int64("total_scraped", stats.TotalScraped),
		zap.Int64("errors", stats.ErrorCount),
		zap.Int64("skipped_duplicates", stats.SkippedDuplicates),
		zap.Int64("throttled", stats.ThrottledCount),
	)
	if r.emitter == nil {
		return
	}
	r.emitter.Emit(events.Event{
		Kind:      events.KindHealth,
		TS:        r.clock.Now(),
		Resources: &snap,
		Stats:     &stats,
	})
}
