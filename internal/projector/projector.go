// Package projector derives a float's current status row from its full
// archive and applies it with a monotonic conditional upsert.
package projector

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/atlas/internal/archive"
	"github.com/smallbiznis/atlas/internal/clock"
	"github.com/smallbiznis/atlas/internal/float/classify"
	floatdomain "github.com/smallbiznis/atlas/internal/float/domain"
	obsmetrics "github.com/smallbiznis/atlas/internal/observability/metrics"
	"github.com/smallbiznis/atlas/internal/profile/domain"
	"github.com/smallbiznis/atlas/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ArchiveLoader returns a float's whole dataset.
type ArchiveLoader interface {
	Load(ctx context.Context, floatID int64) ([]domain.Measurement, error)
}

type Options struct {
	// Force applies the computed status even when it is not newer than
	// the stored one.
	Force bool
}

type Result struct {
	FloatID int64
	// NoData is set when the float has no archive yet; nothing is written.
	NoData   bool
	Applied  bool
	Inserted bool
	Status   floatdomain.FloatStatus
	Label    floatdomain.Status
}

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Repo        floatdomain.Repository
	Archive     ArchiveLoader
	Clock       clock.Clock             `optional:"true"`
	Retry       RetryPolicy             `optional:"true"`
	SyncMetrics *obsmetrics.SyncMetrics `optional:"true"`
}

type Projector struct {
	db      *gorm.DB
	log     *zap.Logger
	repo    floatdomain.Repository
	archive ArchiveLoader
	clock   clock.Clock
	retry   RetryPolicy
	sync    *obsmetrics.SyncMetrics
}

func New(p Params) *Projector {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Projector{
		db:      p.DB,
		log:     p.Log.Named("projector"),
		repo:    p.Repo,
		archive: p.Archive,
		clock:   c,
		retry:   p.Retry.withDefaults(),
		sync:    p.SyncMetrics,
	}
}

// Project recomputes the status of floatID from its archive. Without Force
// the stored row only moves forward under the (cycleNumber, lastUpdate)
// ordering. Write failures are ProjectionErrors; the archive is left as is.
func (p *Projector) Project(ctx context.Context, floatID int64, opts Options) (Result, error) {
	res := Result{FloatID: floatID}

	rows, err := p.archive.Load(ctx, floatID)
	switch {
	case errors.Is(err, archive.ErrArchiveNotFound):
		res.NoData = true
		return res, nil
	case err != nil:
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, domain.ProjectionError(floatID, "load_archive", err)
	}

	latest := latestCycle(rows)
	if len(latest) == 0 {
		res.NoData = true
		return res, nil
	}

	now := p.clock.Now().UTC()
	var (
		next floatdomain.FloatStatus
		op   string
	)
	err = RetryWrite(ctx, p.retry, p.sync, p.log, "status", func(ctx context.Context) error {
		op = "find_status"
		prior, err := p.repo.FindStatus(ctx, p.db, floatID)
		if err != nil {
			return err
		}
		next = summarize(floatID, latest, prior, now)
		res.Applied, res.Inserted, op, err = p.apply(ctx, prior, &next, opts.Force)
		return err
	})
	if err != nil {
		return res, p.fail(ctx, floatID, op, err)
	}
	res.Status = next

	var label floatdomain.Status
	err = RetryWrite(ctx, p.retry, p.sync, p.log, "label", func(ctx context.Context) error {
		var err error
		label, err = p.relabel(ctx, floatID, next.LastUpdate, now)
		return err
	})
	if err != nil {
		return res, p.fail(ctx, floatID, "update_label", err)
	}
	res.Label = label

	p.log.Info("projector.status",
		zap.Int64("float_id", floatID),
		zap.Int("cycle_number", next.CycleNumber),
		zap.Bool("applied", res.Applied),
		zap.Bool("inserted", res.Inserted),
		zap.Bool("force", opts.Force),
		zap.String("label", string(label)),
	)
	return res, nil
}

// apply inserts the first status row or moves an existing one forward. A
// lost insert race falls back to the conditional update.
func (p *Projector) apply(ctx context.Context, prior *floatdomain.FloatStatus, next *floatdomain.FloatStatus, force bool) (applied, inserted bool, op string, err error) {
	if prior == nil {
		err = p.repo.InsertStatus(ctx, p.db, next)
		if err == nil {
			return true, true, "insert_status", nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return false, false, "insert_status", err
		}
	}
	applied, err = p.update(ctx, next, force)
	return applied, false, "update_status", err
}

func (p *Projector) update(ctx context.Context, next *floatdomain.FloatStatus, force bool) (bool, error) {
	if force {
		if err := p.repo.ReplaceStatus(ctx, p.db, next); err != nil {
			return false, err
		}
		return true, nil
	}
	return p.repo.UpdateStatusIfNewer(ctx, p.db, next)
}

// relabel refreshes the activity label of the metadata row from the latest
// profile date. Floats without metadata keep no label.
func (p *Projector) relabel(ctx context.Context, floatID int64, lastProfile *time.Time, now time.Time) (floatdomain.Status, error) {
	meta, err := p.repo.FindMetadata(ctx, p.db, floatID)
	if err != nil || meta == nil {
		return "", err
	}
	label := classify.Status(meta.EndMissionDate, lastProfile, now)
	if label == meta.Status {
		return label, nil
	}
	return label, p.repo.UpdateStatusLabel(ctx, p.db, floatID, label)
}

func (p *Projector) fail(ctx context.Context, floatID int64, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return domain.ProjectionError(floatID, op, err)
}

// latestCycle returns the rows of the highest cycle number. Rows of that
// cycle with an older profile timestamp are dropped.
func latestCycle(rows []domain.Measurement) []domain.Measurement {
	if len(rows) == 0 {
		return nil
	}
	best := rows[0]
	for _, r := range rows[1:] {
		if r.CycleNumber > best.CycleNumber ||
			(r.CycleNumber == best.CycleNumber && r.ProfileTimestamp.After(best.ProfileTimestamp)) {
			best = r
		}
	}
	out := make([]domain.Measurement, 0, 64)
	for _, r := range rows {
		if r.CycleNumber == best.CycleNumber && r.ProfileTimestamp.Equal(best.ProfileTimestamp) {
			out = append(out, r)
		}
	}
	return out
}

func summarize(floatID int64, latest []domain.Measurement, prior *floatdomain.FloatStatus, now time.Time) floatdomain.FloatStatus {
	head := latest[0]
	ts := head.ProfileTimestamp.UTC()
	next := floatdomain.FloatStatus{
		FloatID:     floatID,
		CycleNumber: int(head.CycleNumber),
		UpdatedAt:   now,
	}
	if !ts.IsZero() {
		next.LastUpdate = &ts
	}

	if surface := surfaceLevel(latest); surface != nil {
		next.LastTemperature = surface.Temperature
		next.LastSalinity = surface.Salinity
		next.LastDepth = surface.Pressure
	}

	for _, r := range latest {
		if r.Latitude != nil && r.Longitude != nil {
			next.Latitude, next.Longitude = r.Latitude, r.Longitude
			break
		}
	}
	for _, r := range latest {
		if r.BatteryPercent != nil {
			v := int(*r.BatteryPercent)
			next.BatteryPercent = &v
			break
		}
	}

	if prior != nil {
		if next.Latitude == nil || next.Longitude == nil {
			next.Latitude, next.Longitude = prior.Latitude, prior.Longitude
		}
		if next.BatteryPercent == nil {
			next.BatteryPercent = prior.BatteryPercent
		}
		if next.CycleNumber > prior.CycleNumber && prior.LastUpdate != nil &&
			(next.LastUpdate == nil || prior.LastUpdate.After(*next.LastUpdate)) {
			last := *prior.LastUpdate
			next.LastUpdate = &last
		}
	}
	return next
}

// surfaceLevel is the shallowest level by canonical pressure, falling back
// to the lowest level index when no level has a pressure.
func surfaceLevel(rows []domain.Measurement) *domain.Measurement {
	var best *domain.Measurement
	for i := range rows {
		r := &rows[i]
		if r.Pressure == nil {
			continue
		}
		if best == nil || *r.Pressure < *best.Pressure {
			best = r
		}
	}
	if best != nil {
		return best
	}
	for i := range rows {
		if best == nil || rows[i].Level < best.Level {
			best = &rows[i]
		}
	}
	return best
}
