// Package events defines the dispatcher's outbound event stream and the
// non-blocking hub that fans it out to sinks.
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/webgrove/fetchd/internal/fetchd"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindJobCompleted Kind = "JOB_COMPLETED"
	KindJobFailed    Kind = "JOB_FAILED"
	KindHealth       Kind = "HEALTH"
)

// Event captures one dispatcher milestone. Delivery is fire-and-forget:
// a slow or failing sink never stalls the dispatch loop.
type Event struct {
	// Kind denotes which milestone occurred.
	Kind Kind
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Job carries the job snapshot for job-scoped kinds.
	Job fetchd.Job
	// Result is set on JOB_COMPLETED.
	Result *fetchd.ResultRecord
	// ErrorText is set on JOB_FAILED.
	ErrorText string
	// Resources and Stats are set on HEALTH.
	Resources *fetchd.ResourceSnapshot
	Stats     *fetchd.Stats
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindJobCompleted, KindJobFailed:
		if e.Job.ID == "" {
			return errors.New("job id is required")
		}
	case KindHealth:
		if e.Resources == nil || e.Stats == nil {
			return errors.New("health requires resources and stats")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
