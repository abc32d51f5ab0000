package syncer

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/atlas/internal/float/classify"
	floatdomain "github.com/smallbiznis/atlas/internal/float/domain"
	"github.com/smallbiznis/atlas/internal/lease"
	obscontext "github.com/smallbiznis/atlas/internal/observability/context"
	obsmetrics "github.com/smallbiznis/atlas/internal/observability/metrics"
	obstracing "github.com/smallbiznis/atlas/internal/observability/tracing"
	"github.com/smallbiznis/atlas/internal/profile/domain"
	"github.com/smallbiznis/atlas/internal/profile/normalize"
	"github.com/smallbiznis/atlas/internal/profile/parser"
	"github.com/smallbiznis/atlas/internal/projector"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

type floatResult struct {
	FloatID        int64
	ProfilesSynced int
	SkippedCycles  []int
	// Busy is set when another worker holds the float's lease; nothing
	// was attempted.
	Busy     bool
	Err      error
	Duration time.Duration
}

var stageMetric = map[State]string{
	StatePending:    "pending",
	StateFetching:   obsmetrics.StageFetching,
	StateParsing:    obsmetrics.StageParsing,
	StateMerging:    obsmetrics.StageMerging,
	StateProjecting: obsmetrics.StageProjecting,
}

// processFloat runs one float from FETCHING through PROJECTING under its
// lease and wall-clock budget.
func (s *Syncer) processFloat(parent context.Context, floatID int64, force bool) (res floatResult) {
	res.FloatID = floatID
	start := s.clock.Now()
	parent = obscontext.WithFloatID(parent, floatID)

	ctx, cancel := context.WithTimeout(parent, s.cfg.FloatTimeout)
	defer cancel()
	ctx, span := obstracing.StartSpan(ctx, "sync.float", attribute.Int64("float_id", floatID))
	defer span.End()

	log := s.logger(ctx)
	state := StatePending
	log.Debug("sync.float.start", zap.Bool("force", force))

	defer func() {
		res.Duration = s.since(start)
		if res.Busy {
			return
		}
		if res.Err != nil {
			res.Err = s.classify(ctx, parent, floatID, state, res.Err)
			span.RecordError(obstracing.SafeError(res.Err))
			span.SetStatus(codes.Error, string(state))
			var se *StageError
			if errors.As(res.Err, &se) {
				log.Warn("sync.float.finish",
					zap.String("state", string(StateLogged)),
					zap.String("stage", string(se.Stage)),
					zap.String("kind", se.Kind()),
					zap.Bool("retryable", se.Retryable()),
					zap.Int64("duration_ms", res.Duration.Milliseconds()),
					zap.Error(se.Err),
				)
			}
			return
		}
		log.Info("sync.float.finish",
			zap.String("state", string(StateLogged)),
			zap.Int("profiles_synced", res.ProfilesSynced),
			zap.Ints("skipped_cycles", res.SkippedCycles),
			zap.Int64("duration_ms", res.Duration.Milliseconds()),
		)
	}()

	held, err := lease.Acquire(ctx, s.locker, floatID, s.cfg.LeaseTTL)
	if errors.Is(err, lease.ErrHeld) {
		res.Busy = true
		s.sync.IncLeaseContention()
		log.Info("sync.float.busy")
		return res
	}
	if err != nil {
		res.Err = err
		return res
	}
	defer func() {
		// the float budget may be spent; release on a fresh deadline
		rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer rcancel()
		if err := held.Release(rctx); err != nil {
			log.Warn("sync.lease.release_failed", zap.Error(err))
		}
	}()

	state = StateFetching
	files, err := s.source.Fetch(ctx, floatID)
	if err != nil {
		res.Err = err
		return res
	}

	state = StateParsing
	parsed, err := s.parse(ctx, floatID, files.Meta, files.Tech, files.Prof)
	if err != nil {
		res.Err = err
		return res
	}
	res.SkippedCycles = parsed.skipped

	// fetching can outlast the lease; nothing is written without it
	state = StateMerging
	if err := held.Renew(ctx, s.cfg.LeaseTTL); err != nil {
		log.Warn("sync.lease.lost", zap.Error(err))
		res.Err = err
		return res
	}
	merged, err := s.merger.Merge(ctx, floatID, domain.Rows(floatID, parsed.cycles))
	if err != nil {
		s.metrics.RecordArchiveWrite(ctx, s.backend, obsmetrics.OutcomeError)
		res.Err = err
		return res
	}
	if merged.Skipped {
		s.metrics.RecordArchiveWrite(ctx, s.backend, obsmetrics.OutcomeSkipped)
	} else {
		s.metrics.RecordArchiveWrite(ctx, s.backend, obsmetrics.OutcomeSuccess)
		s.sync.AddArchiveBytes(int64(merged.Bytes))
	}
	res.ProfilesSynced = merged.CyclesWritten()

	state = StateProjecting
	if err := held.Renew(ctx, s.cfg.LeaseTTL); err != nil {
		log.Warn("sync.lease.lost", zap.Error(err))
		res.Err = err
		return res
	}
	if parsed.meta != nil {
		meta := buildMetadata(floatID, *parsed.meta, parsed.cycles, s.clock.Now())
		err := projector.RetryWrite(ctx, s.cfg.Write, s.sync, log, "upsert_metadata", func(ctx context.Context) error {
			return s.floats.UpsertMetadata(ctx, meta)
		})
		if err != nil {
			res.Err = domain.ProjectionError(floatID, "upsert_metadata", err)
			return res
		}
	}
	projected, err := s.projector.Project(ctx, floatID, projector.Options{Force: force})
	if err != nil {
		s.metrics.RecordStatusUpdate(ctx, obsmetrics.OutcomeError)
		res.Err = err
		return res
	}
	switch {
	case projected.NoData:
		s.metrics.RecordStatusUpdate(ctx, "no_data")
	case projected.Applied:
		s.metrics.RecordStatusUpdate(ctx, "applied")
	default:
		s.metrics.RecordStatusUpdate(ctx, "unchanged")
	}
	return res
}

// classify wraps err with its stage. A float deadline becomes a
// TimeoutError; cancellation of the whole run stays a context error.
func (s *Syncer) classify(ctx, parent context.Context, floatID int64, state State, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil && !errors.Is(err, domain.ErrTimeout) {
		err = domain.TimeoutError(floatID, string(state), err)
		s.sync.IncTimeout(stageMetric[state])
	}
	s.sync.IncError(stageMetric[state], err)
	return stageError(state, floatID, err)
}

type parsedFloat struct {
	meta    *parser.Meta
	cycles  []domain.Cycle
	skipped []int
}

func (s *Syncer) parse(ctx context.Context, floatID int64, metaNC, techNC, profNC []byte) (parsedFloat, error) {
	var out parsedFloat

	cycles, err := parser.ParseBytes(floatID, profNC)
	if err != nil {
		return out, err
	}
	if metaNC != nil {
		meta, err := parser.ParseMetaBytes(floatID, metaNC)
		if err != nil {
			return out, err
		}
		out.meta = &meta
	}
	var tech parser.Tech
	if techNC != nil {
		// battery telemetry is optional; a bad tech file only loses it
		tech, err = parser.ParseTechBytes(floatID, techNC)
		if err != nil {
			s.logger(ctx).Warn("sync.tech.unreadable", zap.Error(err))
			tech = parser.Tech{}
		}
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}

	cycles = normalize.Normalize(cycles)
	stampBattery(cycles, out.meta, tech)
	out.cycles = cycles
	out.skipped = normalize.Skipped(cycles)
	return out, nil
}

// stampBattery puts the battery estimate on the latest cycle with levels
// only. Empty cycles write no rows and must not move it.
func stampBattery(cycles []domain.Cycle, meta *parser.Meta, tech parser.Tech) {
	latest := -1
	for i, c := range cycles {
		if len(c.Levels) == 0 {
			continue
		}
		if latest < 0 || c.CycleNumber > cycles[latest].CycleNumber {
			latest = i
		}
	}
	if latest < 0 {
		return
	}
	c := &cycles[latest]

	in := classify.BatteryInput{CycleNumber: c.CycleNumber}
	if meta != nil {
		in.PlatformType = meta.PlatformType
		in.LaunchDate = meta.LaunchDate
	}
	if v, ok := tech.Voltages[c.CycleNumber]; ok {
		in.Voltage = &v
	} else if _, v, ok := tech.Latest(); ok {
		in.Voltage = &v
	}
	if pct := classify.BatteryPercent(in); pct != nil {
		c.BatteryPercent = pct
	}
}

func buildMetadata(floatID int64, m parser.Meta, cycles []domain.Cycle, now time.Time) floatdomain.FloatMetadata {
	var lastProfile *time.Time
	for _, c := range cycles {
		if c.Timestamp.IsZero() {
			continue
		}
		if lastProfile == nil || c.Timestamp.After(*lastProfile) {
			ts := c.Timestamp
			lastProfile = &ts
		}
	}
	return floatdomain.FloatMetadata{
		FloatID:              floatID,
		WMONumber:            m.PlatformNumber,
		Status:               classify.Status(m.EndMissionDate, lastProfile, now),
		FloatType:            classify.Type(m.PlatformFamily, m.Parameters, m.Sensors),
		DataCentre:           m.DataCentre,
		ProjectName:          m.ProjectName,
		OperatingInstitution: m.OperatingInstitution,
		PIName:               m.PIName,
		PlatformType:         m.PlatformType,
		PlatformMaker:        m.PlatformMaker,
		FloatSerialNo:        m.FloatSerialNo,
		LaunchDate:           m.LaunchDate,
		LaunchLat:            m.LaunchLatitude,
		LaunchLon:            m.LaunchLongitude,
		StartMissionDate:     m.StartMissionDate,
		EndMissionDate:       m.EndMissionDate,
	}
}
