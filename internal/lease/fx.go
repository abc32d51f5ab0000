package lease

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/atlas/internal/clock"
	"github.com/smallbiznis/atlas/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lease",
	fx.Provide(NewLockerFromConfig),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
	Clock     clock.Clock `optional:"true"`
}

// NewLockerFromConfig picks the redis backend when LEASE_BACKEND (or
// REDIS_ADDR) says so, else the in-process one.
func NewLockerFromConfig(p Params) (Locker, error) {
	cfg := p.Config.Lease
	switch cfg.Backend {
	case "", "local":
		p.Log.Info("lease backend", zap.String("backend", "local"))
		return NewLocalLocker(p.Clock), nil
	case "redis":
		if cfg.RedisAddr == "" {
			return nil, fmt.Errorf("lease: redis backend needs REDIS_ADDR")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		p.Lifecycle.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				if err := client.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("lease: redis ping: %w", err)
				}
				return nil
			},
			OnStop: func(context.Context) error { return client.Close() },
		})
		p.Log.Info("lease backend", zap.String("backend", "redis"), zap.String("addr", cfg.RedisAddr))
		return NewRedisLocker(client), nil
	default:
		return nil, fmt.Errorf("lease: unsupported backend %q", cfg.Backend)
	}
}
