package fetchd

import (
	"context"
	"time"
)

// Queue provides the durable claim-and-lock contract. Implementations must
// guarantee that no two concurrent callers ever win ClaimNext for the same
// row, and that every Mark*/Requeue call is a single atomic update guarded
// by the row still being in_progress.
type Queue interface {
	// Enqueue inserts a new pending job and returns its queue-assigned ID.
	Enqueue(ctx context.Context, job Job) (string, error)

	// ClaimNext atomically claims the highest-priority eligible pending job
	// and transitions it to in_progress. It returns (nil, nil) when no row
	// is eligible; absence of work is not a failure.
	ClaimNext(ctx context.Context) (*Job, error)

	MarkCompleted(ctx context.Context, jobID string) error
	MarkSkipped(ctx context.Context, jobID string, reason string) error
	MarkFailed(ctx context.Context, jobID string, errText string) error

	// Requeue returns an in_progress job to pending with retries incremented
	// and scheduled_at deferred by delay.
	Requeue(ctx context.Context, jobID string, errText string, delay time.Duration) error

	// ReclaimStale flips in_progress rows whose claim is older than olderThan
	// back to pending so a future dispatcher can pick up abandoned work.
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// TargetIndex is the append-only completed-targets index consulted for
// duplicate suppression. Records are never deleted.
type TargetIndex interface {
	IsCompleted(ctx context.Context, target string) (bool, error)
	MarkCompleted(ctx context.Context, target string, at time.Time) error
}

// ResultStore persists fetched data keyed by target with idempotent upsert
// semantics.
type ResultStore interface {
	Upsert(ctx context.Context, record ResultRecord) error
}

// BlobStore writes raw fetched bodies and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Fetcher is the injected fetch capability. The dispatcher core has no
// dependency on how fetching actually happens.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResult, error)
}

// Monitor answers whether it is safe to start more work. Implementations
// must fail closed: if sampling errors, the snapshot reports unavailable.
type Monitor interface {
	Check(ctx context.Context) ResourceSnapshot
}

// RetryPolicy decides whether a failed job is requeued or terminally
// failed. Decide is pure; the dispatcher performs the queue mutation.
type RetryPolicy interface {
	Decide(job Job, err error) RetryDecision
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for result integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
