package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunForever triggers an update run every RunInterval until ctx ends. The
// first run starts immediately.
func (s *Syncer) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now()

	for {
		if lag := s.clock.Now().Sub(nextRun); lag > 0 {
			s.sync.ObserveRunLoopLag(lag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("sync.loop.run_failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single update run.
func (s *Syncer) RunOnce(ctx context.Context) error {
	resp, err := s.Handle(ctx, Request{Operation: OperationUpdate})
	if err != nil {
		return err
	}
	if !resp.Success {
		s.log.Warn("sync.loop.run_unsuccessful",
			zap.String("run_id", resp.RunID),
			zap.Int("error_count", len(resp.Errors)),
		)
	}
	return nil
}
