package ratelimit

import (
	"context"
	"strings"
)

// TriggerLimiter caps sync triggers per caller. A nil limiter allows all.
type TriggerLimiter struct {
	bucket *TokenBucket
	rate   float64
	burst  int
}

func NewTriggerLimiter(bucket *TokenBucket, rate float64, burst int) *TriggerLimiter {
	if bucket == nil || rate <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &TriggerLimiter{bucket: bucket, rate: rate, burst: burst}
}

func (l *TriggerLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *TriggerLimiter) Allow(ctx context.Context, caller string) (Result, error) {
	if !l.Enabled() {
		return Result{Allowed: true}, nil
	}
	caller = strings.TrimSpace(caller)
	if caller == "" {
		caller = "anonymous"
	}
	return l.bucket.Allow(ctx, TriggerKey(caller), l.rate, l.burst)
}

func TriggerKey(caller string) string {
	return "atlas:ratelimit:sync:" + caller
}
