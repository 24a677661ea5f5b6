// Package monitor implements the resource governor consulted before each claim.
package monitor

import (
	"context"
	"os"

	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"

	"github.com/webgrove/fetchd/internal/fetchd"
)

// Limits are the governor ceilings. All three are required configuration
// inputs; there is no built-in value that is assumed safe for production.
type Limits struct {
	MaxCPUPercent     float64
	MaxMemoryMB       float64
	MaxConcurrentJobs int
}

// Sampler reads process CPU and memory counters. It exists so tests can
// substitute deterministic readings for the OS-backed implementation.
type Sampler interface {
	Sample(ctx context.Context) (cpuPercent float64, memoryMB float64, err error)
}

// ProcessSampler samples the current process via gopsutil.
type ProcessSampler struct {
	proc *process.Process
}

// NewProcessSampler binds a sampler to the running process.
func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample returns process CPU utilization and resident memory in MB.
func (s *ProcessSampler) Sample(ctx context.Context) (float64, float64, error) {
	cpu, err := s.proc.CPUPercentWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	mem, err := s.proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, 0, err
	}
	return cpu, float64(mem.RSS) / (1024 * 1024), nil
}

// Monitor answers "is it safe to start more work" for the dispatcher.
type Monitor struct {
	limits  Limits
	sampler Sampler
	active  func() int
	logger  *zap.Logger
}

// New constructs a Monitor. active supplies the dispatcher's live
// in-flight execution count.
func New(limits Limits, sampler Sampler, active func() int, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		limits:  limits,
		sampler: sampler,
		active:  active,
		logger:  logger,
	}
}

// Check samples the process and applies the ceilings. A sampling failure
// fails closed: the snapshot reports unavailable with CPU pinned at 100,
// because an unreadable resource state must never be treated as safe.
func (m *Monitor) Check(ctx context.Context) fetchd.ResourceSnapshot {
	active := m.active()
	cpu, mem, err := m.sampler.Sample(ctx)
	if err != nil {
		m.logger.Warn("resource sampling failed, failing closed", zap.Error(err))
		return fetchd.ResourceSnapshot{
			Available:  false,
			CPUPercent: 100,
			MemoryMB:   0,
			ActiveJobs: active,
		}
	}
	available := cpu < m.limits.MaxCPUPercent &&
		mem < m.limits.MaxMemoryMB &&
		active < m.limits.MaxConcurrentJobs
	return fetchd.ResourceSnapshot{
		Available:  available,
		CPUPercent: cpu,
		MemoryMB:   mem,
		ActiveJobs: active,
	}
}
