package analysis

import (
	"context"
	"math"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/feichai0017/receipt-analyzer/internal/agent/llm"
	"github.com/feichai0017/receipt-analyzer/internal/models"
)

// retrier runs an operation under a RetryPolicy. Only transient provider
// failures are retried; waits abort when ctx is done.
type retrier struct {
	policy   models.RetryPolicy
	newTimer func() backoff.Timer
}

// newBackOff yields InitialDelay * Multiplier^(k-1) before attempt k+1, with
// no jitter and at most MaxAttempts-1 retries.
func (r *retrier) newBackOff(ctx context.Context) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.policy.InitialDelay
	eb.Multiplier = r.policy.Multiplier
	eb.RandomizationFactor = 0
	eb.MaxInterval = time.Duration(math.MaxInt64)
	eb.MaxElapsedTime = 0
	eb.Reset()

	maxRetries := 0
	if r.policy.MaxAttempts > 1 {
		maxRetries = r.policy.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(eb, uint64(maxRetries)), ctx)
}

// do calls op until it succeeds, fails non-transiently or the policy is
// exhausted. It returns the number of calls made and the last error.
func (r *retrier) do(ctx context.Context, op func(ctx context.Context) error, notify backoff.Notify) (int, error) {
	attempts := 0
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		attempts++
		err := op(ctx)
		if err == nil || llm.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	var timer backoff.Timer
	if r.newTimer != nil {
		timer = r.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(operation, r.newBackOff(ctx), notify, timer)
	return attempts, err
}
