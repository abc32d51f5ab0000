// Package syncer drives float synchronization: fetch, parse, merge into the
// archive, project the status row and record the attempt.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atlas/internal/archive"
	"github.com/smallbiznis/atlas/internal/clock"
	"github.com/smallbiznis/atlas/internal/config"
	floatdomain "github.com/smallbiznis/atlas/internal/float/domain"
	"github.com/smallbiznis/atlas/internal/lease"
	obsmetrics "github.com/smallbiznis/atlas/internal/observability/metrics"
	plogdomain "github.com/smallbiznis/atlas/internal/processinglog/domain"
	"github.com/smallbiznis/atlas/internal/profile/domain"
	"github.com/smallbiznis/atlas/internal/projector"
	"github.com/smallbiznis/atlas/internal/source"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Fetcher reads float files and the index files from the source mirror.
type Fetcher interface {
	Fetch(ctx context.Context, floatID int64) (source.Files, error)
	WeeklyFloats(ctx context.Context) ([]int64, error)
	// KnownFloats lists every float of the DAC in the global meta index.
	KnownFloats(ctx context.Context) ([]int64, error)
}

type ArchiveMerger interface {
	Merge(ctx context.Context, floatID int64, rows []domain.Measurement) (archive.MergeResult, error)
}

type StatusProjector interface {
	Project(ctx context.Context, floatID int64, opts projector.Options) (projector.Result, error)
}

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Source      Fetcher
	Merger      ArchiveMerger
	Projector   StatusProjector
	Floats      floatdomain.Service
	Logs        plogdomain.Service
	Locker      lease.Locker
	Policy      *config.PolicyHolder    `optional:"true"`
	Stage       *source.Stage           `optional:"true"`
	Clock       clock.Clock             `optional:"true"`
	Metrics     *obsmetrics.Metrics     `optional:"true"`
	SyncMetrics *obsmetrics.SyncMetrics `optional:"true"`
	Config      Config                  `optional:"true"`
	AppConfig   config.Config           `optional:"true"`
}

type Syncer struct {
	log       *zap.Logger
	cfg       Config
	genID     *snowflake.Node
	clock     clock.Clock
	source    Fetcher
	merger    ArchiveMerger
	projector StatusProjector
	floats    floatdomain.Service
	logs      plogdomain.Service
	locker    lease.Locker
	policy    *config.PolicyHolder
	stage     *source.Stage
	metrics   *obsmetrics.Metrics
	sync      *obsmetrics.SyncMetrics
	backend   string
}

var ErrInvalidConfig = errors.New("syncer: invalid config")

func New(p Params) (*Syncer, error) {
	if p.Log == nil || p.GenID == nil || p.Source == nil || p.Merger == nil || p.Projector == nil || p.Floats == nil || p.Logs == nil || p.Locker == nil {
		return nil, ErrInvalidConfig
	}
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	policy := p.Policy
	if policy == nil {
		policy = config.NewStaticPolicyHolder(config.DefaultSyncPolicy())
	}
	backend := p.AppConfig.Archive.Backend
	if backend == "" {
		backend = "fs"
	}
	return &Syncer{
		log:       p.Log.Named("syncer").With(zap.String("component", "syncer")),
		cfg:       p.Config.withDefaults(),
		genID:     p.GenID,
		clock:     c,
		source:    p.Source,
		merger:    p.Merger,
		projector: p.Projector,
		floats:    p.Floats,
		logs:      p.Logs,
		locker:    p.Locker,
		policy:    policy,
		stage:     p.Stage,
		metrics:   p.Metrics,
		sync:      p.SyncMetrics,
		backend:   backend,
	}, nil
}

// Handle runs one trigger request to completion. Float failures are
// reported in the response; the error is for invalid requests only.
func (s *Syncer) Handle(ctx context.Context, req Request) (Response, error) {
	if err := req.Normalize(); err != nil {
		return Response{}, err
	}

	ctx, run := s.startRun(ctx, req.Operation)
	defer func() {
		if err := s.stage.Purge(run.runID); err != nil {
			s.logger(ctx).Warn("sync.stage.purge_failed", zap.Error(err))
		}
	}()
	s.logRunStart(ctx, run)
	s.sync.IncRun(string(req.Operation))

	var resp Response
	switch req.Operation {
	case OperationSync:
		resp = s.handleSync(ctx, int64(*req.FloatID), req.Force)
	case OperationUpdate:
		resp = s.handleUpdate(ctx, run, req.Force)
	}

	elapsed := s.since(run.startedAt)
	resp.ProcessingTimeMs = elapsed.Milliseconds()
	resp.RunID = run.runID
	if resp.Errors == nil {
		resp.Errors = []FloatError{}
	}
	s.sync.ObserveRunDuration(string(req.Operation), elapsed)
	s.logRunFinish(ctx, run, resp)
	return resp, nil
}

func (s *Syncer) handleSync(ctx context.Context, floatID int64, force bool) Response {
	res := s.processFloat(ctx, floatID, force)
	if res.Busy {
		return Response{
			Success:       false,
			Errors:        []FloatError{{FloatID: floatID, Message: lease.ErrHeld.Error()}},
			FloatsSkipped: []int64{floatID},
		}
	}
	s.recordFloat(ctx, plogdomain.OperationSync, res)
	s.observeFloat(ctx, OperationSync, res)

	resp := Response{
		Success:         res.Err == nil,
		ProfilesSynced:  res.ProfilesSynced,
		FloatsProcessed: 1,
	}
	if res.Err != nil {
		resp.Errors = []FloatError{{FloatID: floatID, Message: res.Err.Error()}}
	}
	return resp
}

func (s *Syncer) handleUpdate(parent context.Context, run *syncRun, force bool) Response {
	ctx, cancel := context.WithTimeout(parent, s.cfg.RunTimeout)
	defer cancel()

	ids, err := s.dueFloats(ctx)
	if err != nil {
		s.logger(ctx).Error("sync.due.failed", zap.Error(err))
		s.sync.IncError(stageMetric[StatePending], err)
		_, _ = s.logs.Record(ctx, plogdomain.Entry{
			Operation:      plogdomain.OperationWeeklyUpdate,
			Status:         plogdomain.StatusError,
			ErrorDetails:   map[string]any{"stage": string(StatePending), "message": err.Error()},
			ProcessingTime: s.since(run.startedAt),
		})
		return Response{Success: false, Errors: []FloatError{{Message: err.Error()}}}
	}
	run.total = len(ids)

	results := s.runPool(ctx, ids, force)

	resp := Response{}
	var succeeded, failed []int64
	for _, res := range results {
		if res.Busy {
			resp.FloatsSkipped = append(resp.FloatsSkipped, res.FloatID)
			continue
		}
		resp.FloatsProcessed++
		if res.Err != nil {
			failed = append(failed, res.FloatID)
			resp.Errors = append(resp.Errors, FloatError{FloatID: res.FloatID, Message: res.Err.Error()})
			continue
		}
		succeeded = append(succeeded, res.FloatID)
		resp.ProfilesSynced += res.ProfilesSynced
	}
	// one bad float does not fail the batch
	resp.Success = len(failed) == 0 || len(succeeded) > 0
	run.processed, run.failed = len(succeeded), len(failed)

	entry := plogdomain.Entry{
		Operation:          plogdomain.OperationWeeklyUpdate,
		Status:             plogdomain.StatusSuccess,
		SuccessfulFloatIDs: nonNil(succeeded),
		FailedFloatIDs:     nonNil(failed),
		ProcessingTime:     s.since(run.startedAt),
		ProfilesSynced:     resp.ProfilesSynced,
	}
	if len(failed) > 0 {
		entry.Status = plogdomain.StatusError
		entry.ErrorDetails = map[string]any{
			"process_failed": len(failed),
			"floats_total":   len(ids),
		}
	}
	if _, err := s.logs.Record(ctx, entry); err != nil {
		s.logger(ctx).Error("sync.log.failed", zap.String("operation", string(entry.Operation)), zap.Error(err))
	}
	return resp
}

// runPool processes ids with at most Concurrency floats in flight. Results
// keep the order of ids.
func (s *Syncer) runPool(ctx context.Context, ids []int64, force bool) []floatResult {
	results := make([]floatResult, len(ids))
	jobs := make(chan int)
	var wg sync.WaitGroup

	workers := min(s.cfg.Concurrency, len(ids))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				res := s.processFloat(ctx, ids[i], force)
				if !res.Busy {
					s.recordFloat(ctx, plogdomain.OperationFloatUpdate, res)
					s.observeFloat(ctx, OperationUpdate, res)
				}
				results[i] = res
			}
		}()
	}

feed:
	for i := range ids {
		select {
		case <-ctx.Done():
			// floats never handed to a worker still get their attempt logged
			for j := i; j < len(ids); j++ {
				results[j] = floatResult{FloatID: ids[j], Err: stageError(StatePending, ids[j], ctx.Err())}
				s.sync.IncError(stageMetric[StatePending], ctx.Err())
				s.recordFloat(ctx, plogdomain.OperationFloatUpdate, results[j])
				s.observeFloat(ctx, OperationUpdate, results[j])
			}
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

// dueFloats applies the sync policy. Known floats come from the row store;
// index mode adds the weekly index and all mode adds the global meta index.
func (s *Syncer) dueFloats(ctx context.Context) ([]int64, error) {
	p := s.policy.Get()
	now := s.clock.Now()

	known, err := s.floats.KnownFloatIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("known floats: %w", err)
	}

	due := make(map[int64]struct{})
	switch p.Mode {
	case config.PolicyAll:
		// the global index bootstraps floats the row store has never seen
		catalog, err := s.source.KnownFloats(ctx)
		if err != nil {
			return nil, fmt.Errorf("global meta index: %w", err)
		}
		for _, id := range append(known, catalog...) {
			due[id] = struct{}{}
		}
	case config.PolicyStale, config.PolicyIndex:
		last, err := s.logs.LastSuccess(ctx)
		if err != nil {
			return nil, fmt.Errorf("last success: %w", err)
		}
		for _, id := range known {
			at, ok := last[id]
			if !ok || now.Sub(at) >= p.StaleAfter {
				due[id] = struct{}{}
			}
		}
		if p.Mode == config.PolicyIndex {
			weekly, err := s.source.WeeklyFloats(ctx)
			if err != nil {
				return nil, fmt.Errorf("weekly index: %w", err)
			}
			for _, id := range weekly {
				due[id] = struct{}{}
			}
		}
	default:
		return nil, fmt.Errorf("unknown policy mode %q", p.Mode)
	}

	ids := make([]int64, 0, len(due))
	for id := range due {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if p.MaxFloats > 0 && len(ids) > p.MaxFloats {
		ids = ids[:p.MaxFloats]
	}
	s.logger(ctx).Info("sync.due",
		zap.String("mode", string(p.Mode)),
		zap.Int("known", len(known)),
		zap.Int("due", len(ids)),
	)
	return ids, nil
}

func (s *Syncer) recordFloat(ctx context.Context, op plogdomain.Operation, res floatResult) {
	floatID := res.FloatID
	entry := plogdomain.Entry{
		FloatID:        &floatID,
		Operation:      op,
		Status:         plogdomain.StatusSuccess,
		ProcessingTime: res.Duration,
		ProfilesSynced: res.ProfilesSynced,
	}
	details := map[string]any{}
	if len(res.SkippedCycles) > 0 {
		details["skipped_cycles"] = res.SkippedCycles
	}
	var se *StageError
	if errors.As(res.Err, &se) {
		entry.Status = plogdomain.StatusError
		details["stage"] = string(se.Stage)
		details["kind"] = se.Kind()
		details["retryable"] = se.Retryable()
		details["message"] = se.Err.Error()
	} else if res.Err != nil {
		entry.Status = plogdomain.StatusError
		details["message"] = res.Err.Error()
	}
	if len(details) > 0 {
		entry.ErrorDetails = details
	}
	if _, err := s.logs.Record(ctx, entry); err != nil {
		s.logger(ctx).Error("sync.log.failed",
			zap.Int64("float_id", floatID),
			zap.String("operation", string(op)),
			zap.Error(err),
		)
	}
}

func (s *Syncer) observeFloat(ctx context.Context, op Operation, res floatResult) {
	outcome := obsmetrics.OutcomeSuccess
	if res.Err != nil {
		outcome = obsmetrics.OutcomeError
	}
	s.sync.ObserveFloat(string(op), outcome, res.Duration)
	s.sync.AddProfilesSynced(string(op), res.ProfilesSynced)
	s.metrics.RecordFloatSynced(ctx, string(op), outcome)
	s.metrics.RecordProfilesSynced(ctx, string(op), res.ProfilesSynced)
}

func (s *Syncer) since(t time.Time) time.Duration {
	d := s.clock.Now().Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
