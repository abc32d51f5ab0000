package source

import (
	"net/http"

	"github.com/smallbiznis/atlas/internal/config"
	obsmetrics "github.com/smallbiznis/atlas/internal/observability/metrics"
	obstracing "github.com/smallbiznis/atlas/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config      config.Config
	Log         *zap.Logger
	Metrics     *obsmetrics.Metrics     `optional:"true"`
	SyncMetrics *obsmetrics.SyncMetrics `optional:"true"`
}

var Module = fx.Module("source",
	fx.Provide(func(cfg config.Config) (*Stage, error) {
		return NewStage(cfg.Source.StagePath)
	}),
	fx.Provide(func(p Params, stage *Stage) *Client {
		return NewClient(Options{
			BaseURL:    p.Config.Source.BaseURL,
			DAC:        p.Config.Source.DAC,
			Timeout:    p.Config.Source.Timeout,
			MaxRetries: p.Config.Source.MaxRetries,
			Backoff:    p.Config.Source.Backoff,
		}, obstracing.WrapHTTPClient(&http.Client{}), stage, p.Log, p.Metrics, p.SyncMetrics)
	}),
)
