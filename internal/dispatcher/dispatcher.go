// Package dispatcher implements the resource-governed dispatch loop.
package dispatcher

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/webgrove/fetchd/internal/events"
	"github.com/webgrove/fetchd/internal/fetchd"
)

// State is the dispatch loop's current position in its lifecycle.
type State string

// Dispatcher states. The loop cycles through checking_resources, claiming,
// and pacing; duplicate_skip and executing are transient; draining is
// entered on shutdown and stopped is terminal.
const (
	StateIdle              State = "idle"
	StateCheckingResources State = "checking_resources"
	StateClaiming          State = "claiming"
	StateDuplicateSkip     State = "duplicate_skip"
	StateExecuting         State = "executing"
	StatePacing            State = "pacing"
	StateDraining          State = "draining"
	StateStopped           State = "stopped"
)

// Executor runs one claimed job end to end. The engine satisfies this.
type Executor interface {
	Execute(ctx context.Context, job fetchd.Job) (fetchd.ResultRecord, error)
}

// Config controls loop pacing and shutdown behavior.
type Config struct {
	// MinDelay and MaxDelay bound the adaptive pacing sleep; the actual
	// delay scales between them with current CPU utilization.
	MinDelay time.Duration
	MaxDelay time.Duration
	// DrainTimeout bounds how long shutdown waits for in-flight
	// executions before abandoning them to queue-side staleness recovery.
	DrainTimeout time.Duration
}

// Dispatcher is the top-level orchestrator: it consults the resource
// monitor, claims work, filters duplicates, fans executions out to
// goroutines, and applies the retry policy on failure. One Dispatcher runs
// per process; cross-process coordination happens only through the queue's
// claim semantics.
type Dispatcher struct {
	queue    fetchd.Queue
	targets  fetchd.TargetIndex
	monitor  fetchd.Monitor
	executor Executor
	policy   fetchd.RetryPolicy
	emitter  events.Emitter
	clock    fetchd.Clock
	cfg      Config
	logger   *zap.Logger

	active       atomic.Int64
	totalScraped atomic.Int64
	successes    atomic.Int64
	errCount     atomic.Int64
	skipped      atomic.Int64
	throttled    atomic.Int64
	lastCPUBits  atomic.Uint64

	mu    sync.Mutex
	state State

	executions sync.WaitGroup
}

// New constructs a Dispatcher.
func New(
	queue fetchd.Queue,
	targets fetchd.TargetIndex,
	monitor fetchd.Monitor,
	executor Executor,
	policy fetchd.RetryPolicy,
	emitter events.Emitter,
	clock fetchd.Clock,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:    queue,
		targets:  targets,
		monitor:  monitor,
		executor: executor,
		policy:   policy,
		emitter:  emitter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
		state:    StateIdle,
	}
}

// Run drives the state machine until ctx is canceled and the drain
// completes. It never returns early on a per-job failure.
func (d *Dispatcher) Run(ctx context.Context) {
	st := StateCheckingResources
	for {
		if ctx.Err() != nil && st != StateDraining && st != StateStopped {
			st = StateDraining
		}
		d.setState(st)

		switch st {
		case StateCheckingResources:
			st = d.checkResources(ctx)
		case StateClaiming:
			st = d.claim(ctx)
		case StatePacing:
			d.sleep(ctx, d.paceDelay())
			st = StateCheckingResources
		case StateDraining:
			d.drain()
			st = StateStopped
		case StateStopped:
			return
		}
	}
}

func (d *Dispatcher) checkResources(ctx context.Context) State {
	snap := d.monitor.Check(ctx)
	d.lastCPUBits.Store(math.Float64bits(snap.CPUPercent))
	fetchd.CPUPercent.Set(snap.CPUPercent)
	fetchd.MemoryMB.Set(snap.MemoryMB)
	if !snap.Available {
		d.throttled.Add(1)
		fetchd.TotalThrottled.Inc()
		d.logger.Debug("throttled by resource pressure",
			zap.Float64("cpu_percent", snap.CPUPercent),
			zap.Float64("memory_mb", snap.MemoryMB),
			zap.Int("active_jobs", snap.ActiveJobs),
		)
		// Throttle pauses are longer than normal pacing.
		d.sleep(ctx, d.cfg.MaxDelay)
		return StateCheckingResources
	}
	return StateClaiming
}

func (d *Dispatcher) claim(ctx context.Context) State {
	job, err := d.queue.ClaimNext(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Error("claim failed", zap.Error(err))
			d.sleep(ctx, d.cfg.MinDelay)
		}
		return StateCheckingResources
	}
	if job == nil {
		// No eligible work; idle is not a failure.
		d.sleep(ctx, d.cfg.MaxDelay)
		return StateCheckingResources
	}

	dup, err := d.isDuplicate(ctx, job.Target)
	if err != nil {
		// The claim is already held and the result upsert is idempotent,
		// so an unreadable index only costs a redundant fetch.
		d.logger.Warn("duplicate check failed, executing anyway",
			zap.String("job_id", job.ID), zap.Error(err))
	}
	if dup {
		d.setState(StateDuplicateSkip)
		d.skipJob(ctx, *job)
		// Duplicates are cheap; skip the pacing delay.
		return StateCheckingResources
	}

	d.setState(StateExecuting)
	d.startExecution(ctx, *job)
	return StatePacing
}

func (d *Dispatcher) isDuplicate(ctx context.Context, target string) (bool, error) {
	return d.targets.IsCompleted(ctx, target)
}

func (d *Dispatcher) skipJob(ctx context.Context, job fetchd.Job) {
	if err := d.queue.MarkSkipped(ctx, job.ID, "duplicate target"); err != nil {
		d.logMarkError("mark skipped", job, err)
		return
	}
	d.skipped.Add(1)
	fetchd.TotalSkipped.Inc()
	d.logger.Debug("duplicate target skipped",
		zap.String("job_id", job.ID),
		zap.String("target", job.Target),
	)
}

// startExecution hands the claimed job to a goroutine so the loop keeps
// claiming while the fetch runs. The goroutine deliberately detaches from
// the loop context: shutdown abandons executions rather than cancelling
// them mid-fetch.
func (d *Dispatcher) startExecution(ctx context.Context, job fetchd.Job) {
	d.active.Add(1)
	fetchd.ActiveJobs.Inc()
	d.executions.Add(1)

	execCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			d.active.Add(-1)
			fetchd.ActiveJobs.Dec()
			d.executions.Done()
		}()
		d.execute(execCtx, job)
	}()
}

func (d *Dispatcher) execute(ctx context.Context, job fetchd.Job) {
	record, err := d.executor.Execute(ctx, job)
	if err == nil {
		d.successes.Add(1)
		d.totalScraped.Add(1)
		fetchd.TotalScrapes.Inc()
		d.emit(events.Event{
			Kind:   events.KindJobCompleted,
			TS:     d.clock.Now(),
			Job:    job,
			Result: &record,
		})
		return
	}

	d.errCount.Add(1)
	fetchd.TotalErrors.Inc()

	decision := d.policy.Decide(job, err)
	switch decision.Action {
	case fetchd.RetryActionRequeue:
		d.logger.Warn("execution failed, requeueing",
			zap.String("job_id", job.ID),
			zap.String("target", job.Target),
			zap.Int("retries", job.Retries),
			zap.Duration("delay", decision.Delay),
			zap.Error(err),
		)
		if qErr := d.queue.Requeue(ctx, job.ID, err.Error(), decision.Delay); qErr != nil {
			d.logMarkError("requeue", job, qErr)
		}
	case fetchd.RetryActionFail:
		d.logger.Error("execution failed terminally",
			zap.String("job_id", job.ID),
			zap.String("target", job.Target),
			zap.Int("retries", job.Retries),
			zap.Error(err),
		)
		if qErr := d.queue.MarkFailed(ctx, job.ID, err.Error()); qErr != nil {
			d.logMarkError("mark failed", job, qErr)
		}
		d.emit(events.Event{
			Kind:      events.KindJobFailed,
			TS:        d.clock.Now(),
			Job:       job,
			ErrorText: err.Error(),
		})
	}
}

func (d *Dispatcher) drain() {
	active := d.active.Load()
	d.logger.Info("draining", zap.Int64("active_jobs", active))

	done := make(chan struct{})
	go func() {
		d.executions.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.logger.Info("drain complete")
	case <-time.After(d.cfg.DrainTimeout):
		// Abandoned executions stay in_progress; a future dispatcher
		// reclaims them once the claim goes stale.
		d.logger.Warn("drain timeout, abandoning active jobs",
			zap.Int64("active_jobs", d.active.Load()),
		)
	}
}

// logMarkError distinguishes a store invariant violation from an ordinary
// store error. A claim conflict should be impossible by construction.
func (d *Dispatcher) logMarkError(op string, job fetchd.Job, err error) {
	if errors.Is(err, fetchd.ErrClaimConflict) {
		d.logger.Error("claim conflict: store invariant violated",
			zap.String("op", op),
			zap.String("job_id", job.ID),
			zap.String("target", job.Target),
		)
		return
	}
	d.logger.Error("queue update failed",
		zap.String("op", op),
		zap.String("job_id", job.ID),
		zap.Error(err),
	)
}

// paceDelay interpolates between MinDelay and MaxDelay by the CPU
// utilization observed at the last resource check.
func (d *Dispatcher) paceDelay() time.Duration {
	cpu := math.Float64frombits(d.lastCPUBits.Load())
	if cpu < 0 {
		cpu = 0
	}
	if cpu > 100 {
		cpu = 100
	}
	spread := float64(d.cfg.MaxDelay - d.cfg.MinDelay)
	return d.cfg.MinDelay + time.Duration(spread*cpu/100)
}

func (d *Dispatcher) sleep(ctx context.Context, dur time.Duration) {
	if dur <= 0 {
		return
	}
	timer := time.NewTimer(dur)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (d *Dispatcher) emit(evt events.Event) {
	if d.emitter == nil {
		return
	}
	d.emitter.Emit(evt)
}

func (d *Dispatcher) setState(st State) {
	d.mu.Lock()
	d.state = st
	d.mu.Unlock()
}

// State returns the loop's current state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ActiveJobs returns the live in-flight execution count; the resource
// monitor consults this for the concurrency ceiling.
func (d *Dispatcher) ActiveJobs() int {
	return int(d.active.Load())
}

// Stats returns a snapshot of the process-lifetime counters.
func (d *Dispatcher) Stats() fetchd.Stats {
	return fetchd.Stats{
		TotalScraped:      d.totalScraped.Load(),
		SuccessCount:      d.successes.Load(),
		ErrorCount:        d.errCount.Load(),
		SkippedDuplicates: d.skipped.Load(),
		ThrottledCount:    d.throttled.Load(),
		ActiveJobs:        d.active.Load(),
	}
}
