package projector

import (
	"context"
	"time"

	obsmetrics "github.com/smallbiznis/atlas/internal/observability/metrics"
	"go.uber.org/zap"
)

// RetryPolicy bounds automatic retries of row-store writes that failed on
// lock timeouts, serialization conflicts or unique races.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Backoff: 100 * time.Millisecond}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = d.Attempts
	}
	if p.Backoff <= 0 {
		p.Backoff = d.Backoff
	}
	return p
}

// RetryWrite runs fn until it succeeds, fails with an error that a retry
// cannot fix, or the policy's attempts are spent. The last error is returned
// unwrapped so callers can classify it.
func RetryWrite(ctx context.Context, policy RetryPolicy, sm *obsmetrics.SyncMetrics, log *zap.Logger, op string, fn func(context.Context) error) error {
	policy = policy.withDefaults()
	var err error
	for attempt := 0; attempt < policy.Attempts; attempt++ {
		if attempt > 0 {
			sm.IncRetry(obsmetrics.StageProjecting)
			delay := policy.Backoff * time.Duration(1<<uint(min(attempt-1, 6)))
			if log != nil {
				log.Debug("projector.write.retry",
					zap.String("op", op),
					zap.Int("attempt", attempt+1),
					zap.Duration("delay", delay),
					zap.Error(err),
				)
			}
			if serr := sleepCtx(ctx, delay); serr != nil {
				return err
			}
		}
		err = fn(ctx)
		if err == nil || !obsmetrics.IsRetryableDBError(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
