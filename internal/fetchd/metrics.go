package fetchd

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TotalScrapes tracks the number of targets successfully fetched and persisted.
	TotalScrapes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_scrapes_total",
		Help: "The total number of targets successfully fetched and saved.",
	})
	// TotalErrors tracks failed fetch attempts, including ones later retried.
	TotalErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_errors_total",
		Help: "The total number of failed fetch attempts.",
	})
	// TotalSkipped tracks jobs skipped because the target was already completed.
	TotalSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_skipped_duplicates_total",
		Help: "The total number of jobs skipped as duplicate targets.",
	})
	// TotalThrottled tracks loop iterations paused by the resource governor.
	TotalThrottled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fetchd_throttled_total",
		Help: "The total number of dispatch iterations throttled by resource pressure.",
	})
	// ActiveJobs tracks the number of in-flight executions.
	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fetchd_active_jobs",
		Help: "The number of jobs currently executing.",
	})
	// CPUPercent mirrors the most recent resource snapshot.
	CPUPercent = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fetchd_cpu_percent",
		Help: "Process CPU utilization from the last resource check.",
	})
	// MemoryMB mirrors the most recent resource snapshot.
	MemoryMB = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fetchd_memory_mb",
		Help: "Process resident memory in MB from the last resource check.",
	})
)
