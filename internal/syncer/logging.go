package syncer

import (
	"context"
	"time"

	obscontext "github.com/smallbiznis/atlas/internal/observability/context"
	obslogger "github.com/smallbiznis/atlas/internal/observability/logger"
	"go.uber.org/zap"
)

type syncRun struct {
	operation Operation
	runID     string
	startedAt time.Time
	total     int
	processed int
	failed    int
}

// startRun tags ctx with a fresh run ID unless the caller already set one.
func (s *Syncer) startRun(ctx context.Context, op Operation) (context.Context, *syncRun) {
	if ctx == nil {
		ctx = context.Background()
	}
	runID := obscontext.RunIDFromContext(ctx)
	if runID == "" {
		runID = s.genID.Generate().String()
		ctx = obscontext.WithRunID(ctx, runID)
	}
	if kind, _ := obscontext.ActorFromContext(ctx); kind == "" {
		ctx = obscontext.WithActor(ctx, "system", "syncer")
	}
	return ctx, &syncRun{
		operation: op,
		runID:     runID,
		startedAt: s.clock.Now(),
	}
}

func (s *Syncer) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Syncer) logRunStart(ctx context.Context, run *syncRun) {
	s.logger(ctx).Info("sync.run.start",
		zap.String("operation", string(run.operation)),
		zap.String("run_id", run.runID),
	)
}

func (s *Syncer) logRunFinish(ctx context.Context, run *syncRun, resp Response) {
	fields := []zap.Field{
		zap.String("operation", string(run.operation)),
		zap.String("run_id", run.runID),
		zap.Int64("duration_ms", resp.ProcessingTimeMs),
		zap.Bool("success", resp.Success),
		zap.Int("floats_processed", resp.FloatsProcessed),
		zap.Int("floats_skipped", len(resp.FloatsSkipped)),
		zap.Int("profiles_synced", resp.ProfilesSynced),
		zap.Int("error_count", len(resp.Errors)),
	}
	if run.total > 0 {
		fields = append(fields, zap.Int("floats_due", run.total))
	}
	log := s.logger(ctx)
	if len(resp.Errors) > 0 {
		log.Warn("sync.run.finish", fields...)
		return
	}
	log.Info("sync.run.finish", fields...)
}
