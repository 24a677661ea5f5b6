// Package fetchd defines core types shared across subsystems.
package fetchd

import (
	"net/http"
	"time"
)

// JobStatus represents the lifecycle state of a fetch job.
type JobStatus string

// Job status values persisted in the queue.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusSkipped    JobStatus = "skipped"
)

// Job is one unit of fetch work as persisted in the durable queue.
// Target is the logical identity used for duplicate suppression; ID is
// only the queue row identity.
type Job struct {
	ID          string         `json:"id"`
	Target      string         `json:"target"`
	Priority    int            `json:"priority"`
	Status      JobStatus      `json:"status"`
	Retries     int            `json:"retries"`
	ScheduledAt time.Time      `json:"scheduled_at"`
	LastError   string         `json:"last_error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ClaimedAt   *time.Time     `json:"claimed_at,omitempty"`
}

// FetchRequest captures everything the injected fetcher needs for one job.
type FetchRequest struct {
	JobID    string
	Target   string
	Metadata map[string]any
}

// FetchResult is what a Fetcher implementation returns on success.
type FetchResult struct {
	Target     string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// ResultRecord is the row upserted per completed target. Re-executing the
// same target overwrites the previous row, never duplicates it.
type ResultRecord struct {
	Target      string      `json:"target"`
	JobID       string      `json:"job_id"`
	StatusCode  int         `json:"status_code"`
	ContentHash string      `json:"content_hash"`
	BlobURI     string      `json:"blob_uri"`
	Headers     http.Header `json:"headers"`
	FetchedAt   time.Time   `json:"fetched_at"`
	DurationMs  int64       `json:"duration_ms"`
}

// ResourceSnapshot is recomputed on every loop iteration and never persisted.
type ResourceSnapshot struct {
	Available  bool    `json:"available"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   float64 `json:"memory_mb"`
	ActiveJobs int     `json:"active_jobs"`
}

// Stats is a point-in-time snapshot of the dispatcher's process-lifetime
// counters.
type Stats struct {
	TotalScraped      int64 `json:"total_scraped"`
	SuccessCount      int64 `json:"success_count"`
	ErrorCount        int64 `json:"error_count"`
	SkippedDuplicates int64 `json:"skipped_duplicates"`
	ThrottledCount    int64 `json:"throttled_count"`
	ActiveJobs        int64 `json:"active_jobs"`
}

// RetryAction tells the dispatcher what to do with a failed job.
type RetryAction string

// Retry decisions returned by a RetryPolicy.
const (
	RetryActionRequeue RetryAction = "requeue"
	RetryActionFail    RetryAction = "fail"
)

// RetryDecision is the outcome of RetryPolicy.Decide. Delay is only
// meaningful when Action is RetryActionRequeue.
type RetryDecision struct {
	Action RetryAction
	Delay  time.Duration
}
