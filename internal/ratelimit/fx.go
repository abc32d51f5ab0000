package ratelimit

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/atlas/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewTriggerLimiterFromConfig),
)

// NewTriggerLimiterFromConfig returns nil unless SYNC_TRIGGER_RATE and
// REDIS_ADDR are both set.
func NewTriggerLimiterFromConfig(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *TriggerLimiter {
	if cfg.HTTP.TriggerRate <= 0 {
		return nil
	}
	if cfg.Lease.RedisAddr == "" {
		log.Warn("sync trigger rate limit disabled: REDIS_ADDR is not set")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Lease.RedisAddr,
		Password: cfg.Lease.RedisPassword,
		DB:       cfg.Lease.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error { return client.Close() },
	})
	log.Info("sync trigger rate limit",
		zap.Float64("rate", cfg.HTTP.TriggerRate),
		zap.Int("burst", cfg.HTTP.TriggerBurst),
	)
	return NewTriggerLimiter(NewTokenBucket(client), cfg.HTTP.TriggerRate, cfg.HTTP.TriggerBurst)
}
