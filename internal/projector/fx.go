package projector

import (
	"github.com/smallbiznis/atlas/internal/archive"
	"github.com/smallbiznis/atlas/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("projector",
	fx.Provide(func(m *archive.Merger) ArchiveLoader { return m }),
	fx.Provide(ProvideRetryPolicy),
	fx.Provide(New),
)

func ProvideRetryPolicy(cfg config.Config) RetryPolicy {
	return RetryPolicy{Attempts: cfg.Sync.WriteRetries, Backoff: cfg.Sync.WriteBackoff}
}
