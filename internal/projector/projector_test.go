package projector

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/atlas/internal/archive"
	"github.com/smallbiznis/atlas/internal/clock"
	floatdomain "github.com/smallbiznis/atlas/internal/float/domain"
	floatrepo "github.com/smallbiznis/atlas/internal/float/repository"
	obsmetrics "github.com/smallbiznis/atlas/internal/observability/metrics"
	"github.com/smallbiznis/atlas/internal/profile/domain"
	"github.com/smallbiznis/atlas/internal/profile/normalize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type memArchive map[int64][]domain.Measurement

func (m memArchive) Load(_ context.Context, floatID int64) ([]domain.Measurement, error) {
	rows, ok := m[floatID]
	if !ok {
		return nil, archive.ErrArchiveNotFound
	}
	return rows, nil
}

var baseTime = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func f64(v float64) *float64 { return &v }
func i32(v int32) *int32     { return &v }

func row(floatID int64, cycle, level int32, pres, temp float64) domain.Measurement {
	return domain.Measurement{
		FloatID:          floatID,
		CycleNumber:      cycle,
		Level:            level,
		ProfileTimestamp: baseTime.Add(time.Duration(cycle) * 24 * time.Hour),
		Latitude:         f64(10 + float64(cycle)),
		Longitude:        f64(80),
		Pressure:         f64(pres),
		Temperature:      f64(temp),
		Salinity:         f64(35),
	}
}

func setup(t *testing.T, loader ArchiveLoader) (*gorm.DB, *Projector, *clock.FakeClock) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&floatdomain.FloatMetadata{}, &floatdomain.FloatStatus{}))

	clk := clock.NewFakeClock(baseTime.Add(30 * 24 * time.Hour))
	p := New(Params{DB: db, Log: zap.NewNop(), Repo: floatrepo.Provide(), Archive: loader, Clock: clk})
	return db, p, clk
}

func stored(t *testing.T, db *gorm.DB, floatID int64) floatdomain.FloatStatus {
	t.Helper()
	var s floatdomain.FloatStatus
	require.NoError(t, db.Where("float_id = ?", floatID).First(&s).Error)
	return s
}

func TestScenarioSingleCycleFromEmptyArchive(t *testing.T) {
	ctx := context.Background()
	fs, err := archive.NewFSStore(t.TempDir())
	require.NoError(t, err)
	codec, err := archive.NewCodec("snappy")
	require.NoError(t, err)
	merger := archive.NewMerger(fs, codec, zap.NewNop(), 3)
	db, p, _ := setup(t, merger)

	cycles := normalize.Normalize([]domain.Cycle{{
		FloatID:     2902226,
		CycleNumber: 1,
		Timestamp:   baseTime,
		DataMode:    domain.DataModeRealtime,
		Levels: []domain.Level{{
			Level:       0,
			Pressure:    f64(5),
			Temperature: f64(28.5),
			Salinity:    f64(34.2),
			PresQC:      "1",
			TempQC:      "1",
			PsalQC:      "1",
		}},
	}})
	merged, err := merger.Merge(ctx, 2902226, domain.Rows(2902226, cycles))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, merged.CyclesAppended)

	rows, err := merger.Load(ctx, 2902226)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int32(1), rows[0].CycleNumber)
	assert.Equal(t, int32(0), rows[0].Level)

	res, err := p.Project(ctx, 2902226, Options{})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.True(t, res.Inserted)

	s := stored(t, db, 2902226)
	assert.Equal(t, 1, s.CycleNumber)
	require.NotNil(t, s.LastTemperature)
	require.NotNil(t, s.LastSalinity)
	assert.Equal(t, 28.5, *s.LastTemperature)
	assert.Equal(t, 34.2, *s.LastSalinity)
	assert.Equal(t, 5.0, *s.LastDepth)
}

func TestProjectPicksLatestCycleAndSurface(t *testing.T) {
	arch := memArchive{
		1: {
			row(1, 1, 0, 4, 29),
			row(1, 3, 0, 12, 27),
			row(1, 3, 1, 3, 28.7),
			row(1, 3, 2, 50, 20),
			row(1, 2, 0, 2, 30),
		},
	}
	db, p, _ := setup(t, arch)

	_, err := p.Project(context.Background(), 1, Options{})
	require.NoError(t, err)

	s := stored(t, db, 1)
	assert.Equal(t, 3, s.CycleNumber)
	assert.Equal(t, 3.0, *s.LastDepth)
	assert.Equal(t, 28.7, *s.LastTemperature)
	assert.Equal(t, 13.0, *s.Latitude)
	require.NotNil(t, s.LastUpdate)
	assert.True(t, baseTime.Add(3*24*time.Hour).Equal(*s.LastUpdate))
}

func TestProjectNeverRegresses(t *testing.T) {
	arch := memArchive{2: {row(2, 5, 0, 5, 25)}}
	db, p, _ := setup(t, arch)
	ctx := context.Background()

	_, err := p.Project(ctx, 2, Options{})
	require.NoError(t, err)

	arch[2] = []domain.Measurement{row(2, 3, 0, 5, 99)}
	res, err := p.Project(ctx, 2, Options{})
	require.NoError(t, err)
	assert.False(t, res.Applied)
	s := stored(t, db, 2)
	assert.Equal(t, 5, s.CycleNumber)
	assert.Equal(t, 25.0, *s.LastTemperature)

	res, err = p.Project(ctx, 2, Options{Force: true})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	s = stored(t, db, 2)
	assert.Equal(t, 3, s.CycleNumber)
	assert.Equal(t, 99.0, *s.LastTemperature)
}

func TestProjectSameCycleNeedsNewerTimestamp(t *testing.T) {
	arch := memArchive{6: {row(6, 4, 0, 5, 21)}}
	db, p, _ := setup(t, arch)
	ctx := context.Background()

	_, err := p.Project(ctx, 6, Options{})
	require.NoError(t, err)

	same := row(6, 4, 0, 5, 22)
	arch[6] = []domain.Measurement{same}
	res, err := p.Project(ctx, 6, Options{})
	require.NoError(t, err)
	assert.False(t, res.Applied, "equal (cycle, timestamp) is not newer")
	assert.Equal(t, 21.0, *stored(t, db, 6).LastTemperature)

	later := row(6, 4, 0, 5, 23)
	later.ProfileTimestamp = later.ProfileTimestamp.Add(time.Hour)
	arch[6] = []domain.Measurement{later}
	res, err = p.Project(ctx, 6, Options{})
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, 23.0, *stored(t, db, 6).LastTemperature)
}

func TestProjectRetainsLocationAndBattery(t *testing.T) {
	first := row(3, 1, 0, 5, 25)
	first.BatteryPercent = i32(80)
	arch := memArchive{3: {first}}
	db, p, _ := setup(t, arch)
	ctx := context.Background()

	_, err := p.Project(ctx, 3, Options{})
	require.NoError(t, err)

	next := row(3, 2, 0, 5, 24)
	next.Latitude, next.Longitude = nil, nil
	arch[3] = []domain.Measurement{first, next}

	_, err = p.Project(ctx, 3, Options{})
	require.NoError(t, err)
	s := stored(t, db, 3)
	assert.Equal(t, 2, s.CycleNumber)
	require.NotNil(t, s.Latitude)
	assert.Equal(t, 11.0, *s.Latitude)
	require.NotNil(t, s.BatteryPercent)
	assert.Equal(t, 80, *s.BatteryPercent)
}

func TestProjectRelabelsMetadata(t *testing.T) {
	arch := memArchive{4: {row(4, 1, 0, 5, 25)}}
	db, p, clk := setup(t, arch)
	ctx := context.Background()
	require.NoError(t, db.Create(&floatdomain.FloatMetadata{
		FloatID:   4,
		WMONumber: "4",
		Status:    floatdomain.StatusUnknown,
		FloatType: floatdomain.FloatTypeCore,
		CreatedAt: clk.Now(),
		UpdatedAt: clk.Now(),
	}).Error)

	res, err := p.Project(ctx, 4, Options{})
	require.NoError(t, err)
	assert.Equal(t, floatdomain.StatusActive, res.Label)

	var meta floatdomain.FloatMetadata
	require.NoError(t, db.First(&meta, "float_id = ?", 4).Error)
	assert.Equal(t, floatdomain.StatusActive, meta.Status)
}

func TestProjectWithoutArchive(t *testing.T) {
	db, p, _ := setup(t, memArchive{})
	res, err := p.Project(context.Background(), 77, Options{})
	require.NoError(t, err)
	assert.True(t, res.NoData)

	var count int64
	require.NoError(t, db.Model(&floatdomain.FloatStatus{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestProjectWriteFailureIsProjectionError(t *testing.T) {
	db, p, _ := setup(t, memArchive{5: {row(5, 1, 0, 5, 25)}})
	require.NoError(t, db.Migrator().DropTable(&floatdomain.FloatStatus{}))

	_, err := p.Project(context.Background(), 5, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProjection)
}

func TestProjectLastUpdateNeverMovesBack(t *testing.T) {
	arch := memArchive{8: {row(8, 3, 0, 5, 21)}}
	db, p, _ := setup(t, arch)
	ctx := context.Background()

	_, err := p.Project(ctx, 8, Options{})
	require.NoError(t, err)
	before := stored(t, db, 8).LastUpdate
	require.NotNil(t, before)

	// cycle 4 reports a clock earlier than cycle 3
	next := row(8, 4, 0, 5, 22)
	next.ProfileTimestamp = baseTime
	arch[8] = []domain.Measurement{row(8, 3, 0, 5, 21), next}

	res, err := p.Project(ctx, 8, Options{})
	require.NoError(t, err)
	assert.True(t, res.Applied)

	s := stored(t, db, 8)
	assert.Equal(t, 4, s.CycleNumber)
	assert.Equal(t, 22.0, *s.LastTemperature)
	require.NotNil(t, s.LastUpdate)
	assert.True(t, before.Equal(*s.LastUpdate), "last_update went from %v to %v", before, s.LastUpdate)
	assert.True(t, before.Equal(*res.Status.LastUpdate))
}

type flakyRepo struct {
	floatdomain.Repository
	err      error
	failures int
	calls    int
}

func (r *flakyRepo) InsertStatus(ctx context.Context, db *gorm.DB, status *floatdomain.FloatStatus) error {
	r.calls++
	if r.calls <= r.failures {
		return r.err
	}
	return r.Repository.InsertStatus(ctx, db, status)
}

func setupFlaky(t *testing.T, repo *flakyRepo) (*gorm.DB, *Projector, *prometheus.Registry) {
	t.Helper()
	db, _, _ := setup(t, memArchive{})
	repo.Repository = floatrepo.Provide()
	reg := prometheus.NewRegistry()
	p := New(Params{
		DB:          db,
		Log:         zap.NewNop(),
		Repo:        repo,
		Archive:     memArchive{12: {row(12, 1, 0, 5, 25)}},
		Clock:       clock.NewFakeClock(baseTime),
		Retry:       RetryPolicy{Attempts: 3, Backoff: time.Millisecond},
		SyncMetrics: obsmetrics.NewSyncMetricsForRegistry(reg, obsmetrics.Config{}),
	})
	return db, p, reg
}

func retries(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != "atlas_sync_retries_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestProjectRetriesTransientWriteFailure(t *testing.T) {
	repo := &flakyRepo{err: &pgconn.PgError{Code: "40001"}, failures: 2}
	db, p, reg := setupFlaky(t, repo)

	res, err := p.Project(context.Background(), 12, Options{})
	require.NoError(t, err)
	assert.True(t, res.Inserted)
	assert.Equal(t, 3, repo.calls)
	assert.Equal(t, 2.0, retries(t, reg))
	assert.Equal(t, 1, stored(t, db, 12).CycleNumber)
}

func TestProjectGivesUpAfterRetryBudget(t *testing.T) {
	repo := &flakyRepo{err: &pgconn.PgError{Code: "55P03"}, failures: 10}
	_, p, reg := setupFlaky(t, repo)

	_, err := p.Project(context.Background(), 12, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrProjection)
	assert.Equal(t, 3, repo.calls)
	assert.Equal(t, 2.0, retries(t, reg))
}

func TestProjectDoesNotRetryPermanentFailure(t *testing.T) {
	repo := &flakyRepo{err: errors.New("no such table"), failures: 10}
	_, p, reg := setupFlaky(t, repo)

	_, err := p.Project(context.Background(), 12, Options{})
	assert.ErrorIs(t, err, domain.ErrProjection)
	assert.Equal(t, 1, repo.calls)
	assert.Zero(t, retries(t, reg))
}
