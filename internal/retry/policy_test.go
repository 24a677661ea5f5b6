package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/webgrove/fetchd/internal/fetchd"
)

func TestDecideRequeuesUnderBudget(t *testing.T) {
	t.Parallel()

	p := NewFixedDelayPolicy(3, 5*time.Minute)

	for retries := 0; retries < 3; retries++ {
		d := p.Decide(fetchd.Job{Retries: retries}, errors.New("boom"))
		require.Equal(t, fetchd.RetryActionRequeue, d.Action, "retries=%d", retries)
		require.Equal(t, 5*time.Minute, d.Delay)
	}
}

func TestDecideFailsAtBudget(t *testing.T) {
	t.Parallel()

	p := NewFixedDelayPolicy(3, 5*time.Minute)

	d := p.Decide(fetchd.Job{Retries: 3}, errors.New("boom"))
	require.Equal(t, fetchd.RetryActionFail, d.Action)

	d = p.Decide(fetchd.Job{Retries: 7}, errors.New("boom"))
	require.Equal(t, fetchd.RetryActionFail, d.Action)
}

func TestDecideZeroBudgetNeverRequeues(t *testing.T) {
	t.Parallel()

	p := NewFixedDelayPolicy(0, time.Minute)

	d := p.Decide(fetchd.Job{Retries: 0}, errors.New("boom"))
	require.Equal(t, fetchd.RetryActionFail, d.Action)
}

func TestDecideContextErrorsFailImmediately(t *testing.T) {
	t.Parallel()

	p := NewFixedDelayPolicy(3, time.Minute)

	require.Equal(t, fetchd.RetryActionFail, p.Decide(fetchd.Job{}, context.Canceled).Action)
	require.Equal(t, fetchd.RetryActionFail, p.Decide(fetchd.Job{}, context.DeadlineExceeded).Action)
}
