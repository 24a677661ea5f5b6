// Package retry decides whether failed jobs are requeued or terminally failed.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/webgrove/fetchd/internal/fetchd"
)

// FixedDelayPolicy requeues failed jobs with a fixed deferral until the
// retry budget is spent. Decide is pure; the dispatcher applies the
// resulting queue mutation.
type FixedDelayPolicy struct {
	maxRetries   int
	requeueDelay time.Duration
}

// NewFixedDelayPolicy builds a policy from the configured retry budget and
// deferral interval.
func NewFixedDelayPolicy(maxRetries int, requeueDelay time.Duration) *FixedDelayPolicy {
	return &FixedDelayPolicy{
		maxRetries:   maxRetries,
		requeueDelay: requeueDelay,
	}
}

// Decide applies the compare-then-increment convention: a job with
// retries < maxRetries is requeued (the queue increments the counter on
// requeue), anything at or past the budget fails terminally. Context
// cancellation is never worth a retry.
func (p *FixedDelayPolicy) Decide(job fetchd.Job, err error) fetchd.RetryDecision {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fetchd.RetryDecision{Action: fetchd.RetryActionFail}
	}
	if job.Retries < p.maxRetries {
		return fetchd.RetryDecision{
			Action: fetchd.RetryActionRequeue,
			Delay:  p.requeueDelay,
		}
	}
	return fetchd.RetryDecision{Action: fetchd.RetryActionFail}
}
