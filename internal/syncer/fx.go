package syncer

import (
	"context"

	"github.com/smallbiznis/atlas/internal/archive"
	"github.com/smallbiznis/atlas/internal/projector"
	"github.com/smallbiznis/atlas/internal/source"
	"go.uber.org/fx"
)

// Module provides the Syncer. It expects the source, archive, projector,
// float, processinglog and lease modules alongside.
var Module = fx.Module("syncer",
	fx.Provide(ProvideConfig),
	fx.Provide(func(c *source.Client) Fetcher { return c }),
	fx.Provide(func(m *archive.Merger) ArchiveMerger { return m }),
	fx.Provide(func(p *projector.Projector) StatusProjector { return p }),
	fx.Provide(New),
)

// LoopModule runs the update loop for the lifetime of the app.
var LoopModule = fx.Module("syncer.loop",
	fx.Invoke(StartLoop),
)

func StartLoop(lc fx.Lifecycle, s *Syncer) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				s.RunForever(ctx)
			}()

			lc.Append(fx.Hook{
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
			return nil
		},
	})
}
