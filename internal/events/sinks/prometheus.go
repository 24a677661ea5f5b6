package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/webgrove/fetchd/internal/events"
)

// PrometheusSink exports dispatcher health and job outcomes via Prometheus.
type PrometheusSink struct {
	jobsCompleted *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	cpuPercent    prometheus.Gauge
	memoryMB      prometheus.Gauge
	activeJobs    prometheus.Gauge
	throttled     prometheus.Gauge
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fetchd_jobs_completed_total",
			Help: "Total jobs finished partitioned by result.",
		}, []string{"result"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fetchd_job_duration_seconds",
			Help:    "Fetch duration for completed jobs.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetchd_health_cpu_percent",
			Help: "Process CPU utilization from the last health report.",
		}),
		memoryMB: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetchd_health_memory_mb",
			Help: "Process resident memory in MB from the last health report.",
		}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetchd_health_active_jobs",
			Help: "In-flight executions from the last health report.",
		}),
		throttled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "fetchd_health_throttled_total",
			Help: "Lifetime throttled iterations from the last health report.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsCompleted,
		s.jobDuration,
		s.cpuPercent,
		s.memoryMB,
		s.activeJobs,
		s.throttled,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register event collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors. Safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, evt events.Event) error {
	switch evt.Kind {
	case events.KindJobCompleted:
		s.jobsCompleted.WithLabelValues("success").Inc()
		if evt.Result != nil && evt.Result.DurationMs > 0 {
			s.jobDuration.Observe(float64(evt.Result.DurationMs) / 1000)
		}
	case events.KindJobFailed:
		s.jobsCompleted.WithLabelValues("error").Inc()
	case events.KindHealth:
		s.cpuPercent.Set(evt.Resources.CPUPercent)
		s.memoryMB.Set(evt.Resources.MemoryMB)
		s.activeJobs.Set(float64(evt.Resources.ActiveJobs))
		s.throttled.Set(float64(evt.Stats.ThrottledCount))
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
