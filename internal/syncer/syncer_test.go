package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/smallbiznis/atlas/internal/archive"
	"github.com/smallbiznis/atlas/internal/clock"
	"github.com/smallbiznis/atlas/internal/config"
	floatdomain "github.com/smallbiznis/atlas/internal/float/domain"
	floatrepo "github.com/smallbiznis/atlas/internal/float/repository"
	floatservice "github.com/smallbiznis/atlas/internal/float/service"
	"github.com/smallbiznis/atlas/internal/lease"
	"github.com/smallbiznis/atlas/internal/netcdf/netcdftest"
	obsmetrics "github.com/smallbiznis/atlas/internal/observability/metrics"
	plogdomain "github.com/smallbiznis/atlas/internal/processinglog/domain"
	plogrepo "github.com/smallbiznis/atlas/internal/processinglog/repository"
	plogservice "github.com/smallbiznis/atlas/internal/processinglog/service"
	"github.com/smallbiznis/atlas/internal/profile/domain"
	"github.com/smallbiznis/atlas/internal/projector"
	"github.com/smallbiznis/atlas/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const fill = 99999

// 2023-12-04T12:00Z and 2023-12-14T00:00Z
func profBytes() []byte {
	return netcdftest.New().
		Dim("N_PROF", 2).
		Dim("N_LEVELS", 3).
		Int("CYCLE_NUMBER", []string{"N_PROF"}, []int32{1, 2}, fill).
		Char("DATA_MODE", []string{"N_PROF"}, "RR").
		Char("POSITION_QC", []string{"N_PROF"}, "11").
		Double("JULD", []string{"N_PROF"}, []float64{27000.5, 27010}, 999999).
		Double("LATITUDE", []string{"N_PROF"}, []float64{10.25, 10.5}, fill).
		Double("LONGITUDE", []string{"N_PROF"}, []float64{88.5, 88.75}, fill).
		Float("PRES", []string{"N_PROF", "N_LEVELS"}, []float32{5, 10, 20, 4, 8, fill}, fill).
		Float("TEMP", []string{"N_PROF", "N_LEVELS"}, []float32{28.5, 27, 26, 29, 28, fill}, fill).
		Float("PSAL", []string{"N_PROF", "N_LEVELS"}, []float32{34.25, 34.5, 34.75, 35, 35.5, fill}, fill).
		Char("PRES_QC", []string{"N_PROF", "N_LEVELS"}, "111", "11").
		Char("TEMP_QC", []string{"N_PROF", "N_LEVELS"}, "111", "11").
		Char("PSAL_QC", []string{"N_PROF", "N_LEVELS"}, "111", "11").
		Bytes()
}

// cycleBytes is a single-profile prof.nc for one cycle.
func cycleBytes(cycle int32, juld float64) []byte {
	return netcdftest.New().
		Dim("N_PROF", 1).
		Dim("N_LEVELS", 2).
		Int("CYCLE_NUMBER", []string{"N_PROF"}, []int32{cycle}, fill).
		Char("DATA_MODE", []string{"N_PROF"}, "R").
		Double("JULD", []string{"N_PROF"}, []float64{juld}, 999999).
		Double("LATITUDE", []string{"N_PROF"}, []float64{11}, fill).
		Double("LONGITUDE", []string{"N_PROF"}, []float64{87}, fill).
		Float("PRES", []string{"N_PROF", "N_LEVELS"}, []float32{5, 15}, fill).
		Float("TEMP", []string{"N_PROF", "N_LEVELS"}, []float32{float32(cycle), 20}, fill).
		Bytes()
}

// profWithEmptyCycle repeats profBytes and adds cycle 3 with no valid levels.
func profWithEmptyCycle() []byte {
	return netcdftest.New().
		Dim("N_PROF", 3).
		Dim("N_LEVELS", 3).
		Int("CYCLE_NUMBER", []string{"N_PROF"}, []int32{1, 2, 3}, fill).
		Char("DATA_MODE", []string{"N_PROF"}, "RRR").
		Char("POSITION_QC", []string{"N_PROF"}, "111").
		Double("JULD", []string{"N_PROF"}, []float64{27000.5, 27010, 27020}, 999999).
		Double("LATITUDE", []string{"N_PROF"}, []float64{10.25, 10.5, 10.75}, fill).
		Double("LONGITUDE", []string{"N_PROF"}, []float64{88.5, 88.75, 89}, fill).
		Float("PRES", []string{"N_PROF", "N_LEVELS"}, []float32{5, 10, 20, 4, 8, fill, fill, fill, fill}, fill).
		Float("TEMP", []string{"N_PROF", "N_LEVELS"}, []float32{28.5, 27, 26, 29, 28, fill, fill, fill, fill}, fill).
		Float("PSAL", []string{"N_PROF", "N_LEVELS"}, []float32{34.25, 34.5, 34.75, 35, 35.5, fill, fill, fill, fill}, fill).
		Char("PRES_QC", []string{"N_PROF", "N_LEVELS"}, "111", "11", "").
		Char("TEMP_QC", []string{"N_PROF", "N_LEVELS"}, "111", "11", "").
		Char("PSAL_QC", []string{"N_PROF", "N_LEVELS"}, "111", "11", "").
		Bytes()
}

func metaBytes(wmo string) []byte {
	return netcdftest.New().
		Dim("STRING8", 8).
		Dim("STRING2", 2).
		Dim("STRING64", 64).
		Dim("DATE_TIME", 14).
		Dim("N_PARAM", 3).
		Dim("STRING16", 16).
		Char("PLATFORM_NUMBER", []string{"STRING8"}, wmo).
		Char("DATA_CENTRE", []string{"STRING2"}, "IN").
		Char("PROJECT_NAME", []string{"STRING64"}, "Argo India").
		Char("PLATFORM_TYPE", []string{"STRING64"}, "ARVOR").
		Char("LAUNCH_DATE", []string{"DATE_TIME"}, "20210315083000").
		Char("PARAMETER", []string{"N_PARAM", "STRING16"}, "PRES", "TEMP", "PSAL").
		Bytes()
}

type fakeSource struct {
	mu      sync.Mutex
	files   map[int64]source.Files
	weekly  []int64
	catalog []int64
	calls   map[int64]int
	block   bool
	// onFetch runs before the files are returned
	onFetch func(floatID int64)
}

func newFakeSource() *fakeSource {
	return &fakeSource{files: map[int64]source.Files{}, calls: map[int64]int{}}
}

func (f *fakeSource) Fetch(ctx context.Context, floatID int64) (source.Files, error) {
	if err := ctx.Err(); err != nil {
		return source.Files{}, err
	}
	f.mu.Lock()
	f.calls[floatID]++
	files, ok := f.files[floatID]
	block := f.block
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return source.Files{}, ctx.Err()
	}
	if f.onFetch != nil {
		f.onFetch(floatID)
	}
	if !ok {
		return source.Files{}, fmt.Errorf("fetch prof: %w", source.ErrSourceNotFound)
	}
	return files, nil
}

func (f *fakeSource) WeeklyFloats(context.Context) ([]int64, error) {
	return f.weekly, nil
}

func (f *fakeSource) KnownFloats(context.Context) ([]int64, error) {
	return f.catalog, nil
}

type harness struct {
	db     *gorm.DB
	syncer *Syncer
	src    *fakeSource
	merger *archive.Merger
	locker *lease.LocalLocker
	clock  *clock.FakeClock
	floats floatdomain.Service
	logs   plogdomain.Service
	reg    *prometheus.Registry
}

func setup(t *testing.T, policy config.SyncPolicy, cfg Config) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&floatdomain.FloatMetadata{}, &floatdomain.FloatStatus{}, &plogdomain.ProcessingLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	store, err := archive.NewFSStore(t.TempDir())
	require.NoError(t, err)
	codec, err := archive.NewCodec("snappy")
	require.NoError(t, err)
	merger := archive.NewMerger(store, codec, log, 3)

	floats := floatservice.New(floatservice.Params{DB: db, Log: log, Repo: floatrepo.Provide(), Clock: clk})
	logs := plogservice.New(plogservice.Params{DB: db, Log: log, GenID: node, Repo: plogrepo.Provide(), Clock: clk})
	proj := projector.New(projector.Params{DB: db, Log: log, Repo: floatrepo.Provide(), Archive: merger, Clock: clk})
	locker := lease.NewLocalLocker(clk)
	src := newFakeSource()
	reg := prometheus.NewRegistry()
	sm := obsmetrics.NewSyncMetricsForRegistry(reg, obsmetrics.Config{})

	s, err := New(Params{
		Log:         log,
		GenID:       node,
		Source:      src,
		Merger:      merger,
		Projector:   proj,
		Floats:      floats,
		Logs:        logs,
		Locker:      locker,
		Policy:      config.NewStaticPolicyHolder(policy),
		Clock:       clk,
		SyncMetrics: sm,
		Config:      cfg,
	})
	require.NoError(t, err)
	return &harness{db: db, syncer: s, src: src, merger: merger, locker: locker, clock: clk, floats: floats, logs: logs, reg: reg}
}

func (h *harness) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := h.reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func (h *harness) entries(t *testing.T) []plogdomain.ProcessingLog {
	t.Helper()
	var out []plogdomain.ProcessingLog
	require.NoError(t, h.db.Order("id asc").Find(&out).Error)
	return out
}

func syncReq(id int64) Request {
	f := FloatID(id)
	return Request{Operation: OperationSync, FloatID: &f}
}

func TestSyncFloatIsIdempotent(t *testing.T) {
	h := setup(t, config.DefaultSyncPolicy(), Config{})
	ctx := context.Background()
	h.src.files[2902226] = source.Files{Meta: metaBytes("2902226"), Prof: profBytes()}

	resp, err := h.syncer.Handle(ctx, syncReq(2902226))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.ProfilesSynced)
	assert.Equal(t, 1, resp.FloatsProcessed)
	assert.Empty(t, resp.Errors)
	assert.NotEmpty(t, resp.RunID)

	rows, err := h.merger.Load(ctx, 2902226)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	var status floatdomain.FloatStatus
	require.NoError(t, h.db.First(&status, "float_id = ?", 2902226).Error)
	assert.Equal(t, 2, status.CycleNumber)
	require.NotNil(t, status.LastTemperature)
	assert.Equal(t, 29.0, *status.LastTemperature)

	var meta floatdomain.FloatMetadata
	require.NoError(t, h.db.First(&meta, "float_id = ?", 2902226).Error)
	assert.Equal(t, "2902226", meta.WMONumber)
	assert.Equal(t, floatdomain.StatusActive, meta.Status)
	assert.Equal(t, "Argo India", meta.ProjectName)

	again, err := h.syncer.Handle(ctx, syncReq(2902226))
	require.NoError(t, err)
	assert.True(t, again.Success)
	assert.Zero(t, again.ProfilesSynced)

	rows, err = h.merger.Load(ctx, 2902226)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	require.NoError(t, h.db.First(&status, "float_id = ?", 2902226).Error)
	assert.Equal(t, 2, status.CycleNumber)

	logs := h.entries(t)
	require.Len(t, logs, 2)
	for _, l := range logs {
		assert.Equal(t, plogdomain.OperationSync, l.Operation)
		assert.Equal(t, plogdomain.StatusSuccess, l.Status)
		require.NotNil(t, l.FloatID)
		assert.Equal(t, int64(2902226), *l.FloatID)
	}
	assert.Equal(t, 2, logs[0].ProfilesSynced)
	assert.Zero(t, logs[1].ProfilesSynced)
	assert.NotEqual(t, logs[0].RunID, logs[1].RunID)
}

func TestSyncOutOfOrderCycleKeepsLatestStatus(t *testing.T) {
	h := setup(t, config.DefaultSyncPolicy(), Config{})
	ctx := context.Background()
	const id = 2902226

	// 2023-08-25 and 2022-07-21
	h.src.files[id] = source.Files{Meta: metaBytes("2902226"), Prof: cycleBytes(50, 26900)}
	resp, err := h.syncer.Handle(ctx, syncReq(id))
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Errors)
	assert.Equal(t, 1, resp.ProfilesSynced)

	h.src.files[id] = source.Files{Meta: metaBytes("2902226"), Prof: cycleBytes(10, 26500)}
	resp, err = h.syncer.Handle(ctx, syncReq(id))
	require.NoError(t, err)
	require.True(t, resp.Success, resp.Errors)
	assert.Equal(t, 1, resp.ProfilesSynced)

	rows, err := h.merger.Load(ctx, id)
	require.NoError(t, err)
	cycles := map[int32]int{}
	for _, r := range rows {
		cycles[r.CycleNumber]++
	}
	assert.Equal(t, map[int32]int{10: 2, 50: 2}, cycles)

	var status floatdomain.FloatStatus
	require.NoError(t, h.db.First(&status, "float_id = ?", id).Error)
	assert.Equal(t, 50, status.CycleNumber)
	require.NotNil(t, status.LastTemperature)
	assert.Equal(t, 50.0, *status.LastTemperature)
}

func TestSyncEmptyCycleLeavesArchiveAndStatus(t *testing.T) {
	h := setup(t, config.DefaultSyncPolicy(), Config{})
	ctx := context.Background()
	const id = 2902226

	h.src.files[id] = source.Files{Meta: metaBytes("2902226"), Prof: profBytes()}
	first, err := h.syncer.Handle(ctx, syncReq(id))
	require.NoError(t, err)
	require.True(t, first.Success, first.Errors)
	before, err := h.merger.Load(ctx, id)
	require.NoError(t, err)
	var prior floatdomain.FloatStatus
	require.NoError(t, h.db.First(&prior, "float_id = ?", id).Error)

	h.src.files[id] = source.Files{Meta: metaBytes("2902226"), Prof: profWithEmptyCycle()}
	resp, err := h.syncer.Handle(ctx, syncReq(id))
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Zero(t, resp.ProfilesSynced)

	after, err := h.merger.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	var status floatdomain.FloatStatus
	require.NoError(t, h.db.First(&status, "float_id = ?", id).Error)
	assert.Equal(t, prior.CycleNumber, status.CycleNumber)
	assert.Equal(t, prior.LastTemperature, status.LastTemperature)
	assert.Equal(t, prior.BatteryPercent, status.BatteryPercent)

	logs := h.entries(t)
	require.Len(t, logs, 2)
	last := logs[1]
	assert.Equal(t, plogdomain.StatusSuccess, last.Status)
	assert.Zero(t, last.ProfilesSynced)
	assert.Equal(t, []any{3.0}, last.ErrorDetails["skipped_cycles"])
	assert.Equal(t, 2.0, h.counter(t, "atlas_sync_profiles_synced_total"))
}

func TestSyncParseFailureIsLoggedWithStage(t *testing.T) {
	h := setup(t, config.DefaultSyncPolicy(), Config{})
	h.src.files[7] = source.Files{Prof: []byte("not netcdf")}

	resp, err := h.syncer.Handle(context.Background(), syncReq(7))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, int64(7), resp.Errors[0].FloatID)

	logs := h.entries(t)
	require.Len(t, logs, 1)
	assert.Equal(t, plogdomain.StatusError, logs[0].Status)
	assert.Equal(t, string(StateParsing), logs[0].ErrorDetails["stage"])
	assert.Equal(t, string(domain.KindParse), logs[0].ErrorDetails["kind"])
	assert.Equal(t, false, logs[0].ErrorDetails["retryable"])

	_, err = h.merger.Load(context.Background(), 7)
	assert.ErrorIs(t, err, archive.ErrArchiveNotFound)
}

func TestSyncMissingSource(t *testing.T) {
	h := setup(t, config.DefaultSyncPolicy(), Config{})

	resp, err := h.syncer.Handle(context.Background(), syncReq(404))
	require.NoError(t, err)
	assert.False(t, resp.Success)

	logs := h.entries(t)
	require.Len(t, logs, 1)
	assert.Equal(t, string(StateFetching), logs[0].ErrorDetails["stage"])
	assert.Equal(t, "source_not_found", logs[0].ErrorDetails["kind"])
}

func TestSyncSkipsFloatUnderLease(t *testing.T) {
	h := setup(t, config.DefaultSyncPolicy(), Config{})
	ctx := context.Background()
	h.src.files[5] = source.Files{Prof: profBytes()}

	_, ok, err := h.locker.TryLock(ctx, lease.FloatKey(5), time.Hour)
	require.NoError(t, err)
	require.True(t, ok)

	resp, err := h.syncer.Handle(ctx, syncReq(5))
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, []int64{5}, resp.FloatsSkipped)
	assert.Zero(t, resp.FloatsProcessed)
	assert.Zero(t, h.src.calls[5])
	assert.Empty(t, h.entries(t))
}

func TestSyncFloatTimeout(t *testing.T) {
	h := setup(t, config.DefaultSyncPolicy(), Config{FloatTimeout: 20 * time.Millisecond})
	h.src.block = true

	resp, err := h.syncer.Handle(context.Background(), syncReq(9))
	require.NoError(t, err)
	assert.False(t, resp.Success)

	logs := h.entries(t)
	require.Len(t, logs, 1)
	assert.Equal(t, string(StateFetching), logs[0].ErrorDetails["stage"])
	assert.Equal(t, string(domain.KindTimeout), logs[0].ErrorDetails["kind"])
	assert.Equal(t, true, logs[0].ErrorDetails["retryable"])

	// the lease is released after a timeout
	_, ok, err := h.locker.TryLock(context.Background(), lease.FloatKey(9), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSyncStopsWhenLeaseIsLost(t *testing.T) {
	h := setup(t, config.DefaultSyncPolicy(), Config{})
	ctx := context.Background()
	h.src.files[31] = source.Files{Meta: metaBytes("31"), Prof: profBytes()}
	h.src.onFetch = func(floatID int64) {
		// the lease expires during the download and another worker takes it
		h.clock.Advance(20 * time.Minute)
		_, ok, err := h.locker.TryLock(context.Background(), lease.FloatKey(floatID), time.Hour)
		assert.NoError(t, err)
		assert.True(t, ok)
	}

	resp, err := h.syncer.Handle(ctx, syncReq(31))
	require.NoError(t, err)
	assert.False(t, resp.Success)

	logs := h.entries(t)
	require.Len(t, logs, 1)
	assert.Equal(t, plogdomain.StatusError, logs[0].Status)
	assert.Equal(t, string(StateMerging), logs[0].ErrorDetails["stage"])
	assert.Equal(t, "lease_lost", logs[0].ErrorDetails["kind"])

	_, err = h.merger.Load(ctx, 31)
	assert.ErrorIs(t, err, archive.ErrArchiveNotFound)
	var n int64
	require.NoError(t, h.db.Model(&floatdomain.FloatStatus{}).Where("float_id = ?", 31).Count(&n).Error)
	assert.Zero(t, n)
}

func TestUpdateBatchToleratesOneBadFloat(t *testing.T) {
	h := setup(t, config.SyncPolicy{Mode: config.PolicyIndex, StaleAfter: time.Hour}, Config{Concurrency: 2})
	h.src.weekly = []int64{2, 1}
	h.src.files[1] = source.Files{Meta: metaBytes("1"), Prof: profBytes()}
	h.src.files[2] = source.Files{Prof: []byte("junk")}

	resp, err := h.syncer.Handle(context.Background(), Request{})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.FloatsProcessed)
	assert.Equal(t, 2, resp.ProfilesSynced)
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, int64(2), resp.Errors[0].FloatID)

	logs := h.entries(t)
	require.Len(t, logs, 3)
	var summary *plogdomain.ProcessingLog
	perFloat := map[int64]plogdomain.Status{}
	for i := range logs {
		if logs[i].Operation == plogdomain.OperationWeeklyUpdate {
			summary = &logs[i]
			continue
		}
		assert.Equal(t, plogdomain.OperationFloatUpdate, logs[i].Operation)
		perFloat[*logs[i].FloatID] = logs[i].Status
	}
	require.NotNil(t, summary)
	assert.Equal(t, plogdomain.StatusError, summary.Status)
	assert.Equal(t, []int64{1}, []int64(summary.SuccessfulFloatIDs))
	assert.Equal(t, []int64{2}, []int64(summary.FailedFloatIDs))
	assert.Equal(t, map[int64]plogdomain.Status{1: plogdomain.StatusSuccess, 2: plogdomain.StatusError}, perFloat)
	for _, l := range logs {
		assert.Equal(t, resp.RunID, l.RunID)
	}
}

func TestUpdateAllFailedIsUnsuccessful(t *testing.T) {
	h := setup(t, config.SyncPolicy{Mode: config.PolicyIndex, StaleAfter: time.Hour}, Config{Concurrency: 1})
	h.src.weekly = []int64{3}
	h.src.files[3] = source.Files{Prof: []byte("junk")}

	resp, err := h.syncer.Handle(context.Background(), Request{Operation: "UPDATE"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestUpdateWithNothingDue(t *testing.T) {
	h := setup(t, config.SyncPolicy{Mode: config.PolicyIndex, StaleAfter: time.Hour}, Config{})

	resp, err := h.syncer.Handle(context.Background(), Request{Operation: OperationUpdate})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Zero(t, resp.FloatsProcessed)
	assert.Empty(t, resp.Errors)

	logs := h.entries(t)
	require.Len(t, logs, 1)
	assert.Equal(t, plogdomain.OperationWeeklyUpdate, logs[0].Operation)
	assert.Equal(t, plogdomain.StatusSuccess, logs[0].Status)
}

func TestDueFloatsPolicies(t *testing.T) {
	h := setup(t, config.SyncPolicy{Mode: config.PolicyStale, StaleAfter: 24 * time.Hour}, Config{})
	ctx := context.Background()
	for _, id := range []int64{1, 2, 3} {
		require.NoError(t, h.floats.UpsertMetadata(ctx, floatdomain.FloatMetadata{
			FloatID:   id,
			WMONumber: fmt.Sprint(id),
			Status:    floatdomain.StatusActive,
			FloatType: floatdomain.FloatTypeCore,
		}))
	}
	fresh := int64(2)
	_, err := h.logs.Record(ctx, plogdomain.Entry{FloatID: &fresh, Operation: plogdomain.OperationSync, Status: plogdomain.StatusSuccess})
	require.NoError(t, err)
	h.src.weekly = []int64{2, 9}

	ids, err := h.syncer.dueFloats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3}, ids)

	h.syncer.policy = config.NewStaticPolicyHolder(config.SyncPolicy{Mode: config.PolicyIndex, StaleAfter: 24 * time.Hour})
	ids, err = h.syncer.dueFloats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 9}, ids)

	h.clock.Advance(48 * time.Hour)
	h.syncer.policy = config.NewStaticPolicyHolder(config.SyncPolicy{Mode: config.PolicyStale, StaleAfter: 24 * time.Hour, MaxFloats: 2})
	ids, err = h.syncer.dueFloats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	h.syncer.policy = config.NewStaticPolicyHolder(config.SyncPolicy{Mode: config.PolicyAll})
	ids, err = h.syncer.dueFloats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	h.src.catalog = []int64{3, 7, 5}
	ids, err = h.syncer.dueFloats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 5, 7}, ids)
}

func TestFullSyncBootstrapsEmptyStore(t *testing.T) {
	h := setup(t, config.SyncPolicy{Mode: config.PolicyAll}, Config{Concurrency: 2})
	h.src.catalog = []int64{2902226}
	h.src.files[2902226] = source.Files{Meta: metaBytes("2902226"), Prof: profBytes()}

	resp, err := h.syncer.Handle(context.Background(), Request{Operation: OperationUpdate})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.FloatsProcessed)
	assert.Equal(t, 2, resp.ProfilesSynced)

	known, err := h.floats.KnownFloatIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{2902226}, known)
}

func TestCanceledRunMarksRemainingFloatsPending(t *testing.T) {
	h := setup(t, config.DefaultSyncPolicy(), Config{Concurrency: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := h.syncer.runPool(ctx, []int64{1, 2}, false)
	require.Len(t, results, 2)
	for _, res := range results {
		var se *StageError
		if res.Err == nil {
			continue
		}
		require.True(t, errors.As(res.Err, &se))
		assert.ErrorIs(t, res.Err, context.Canceled)
	}
}

func TestRunTimeoutLogsEveryDueFloat(t *testing.T) {
	h := setup(t, config.SyncPolicy{Mode: config.PolicyIndex, StaleAfter: time.Hour},
		Config{Concurrency: 1, RunTimeout: 100 * time.Millisecond})
	for id := int64(1); id <= 20; id++ {
		h.src.weekly = append(h.src.weekly, id)
	}
	h.src.block = true

	resp, err := h.syncer.Handle(context.Background(), Request{Operation: OperationUpdate})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, 20, resp.FloatsProcessed)
	assert.Len(t, resp.Errors, 20)

	perFloat := map[int64]int{}
	summaries := 0
	for _, l := range h.entries(t) {
		if l.Operation == plogdomain.OperationWeeklyUpdate {
			summaries++
			assert.Len(t, l.FailedFloatIDs, 20)
			continue
		}
		assert.Equal(t, plogdomain.OperationFloatUpdate, l.Operation)
		assert.Equal(t, plogdomain.StatusError, l.Status)
		require.NotNil(t, l.FloatID)
		perFloat[*l.FloatID]++
	}
	assert.Equal(t, 1, summaries)
	require.Len(t, perFloat, 20)
	for id, n := range perFloat {
		assert.Equal(t, 1, n, "float %d", id)
	}
}

func TestSyncRecordsLeaseContention(t *testing.T) {
	h := setup(t, config.DefaultSyncPolicy(), Config{})
	ctx := context.Background()
	_, _, err := h.locker.TryLock(ctx, lease.FloatKey(11), time.Hour)
	require.NoError(t, err)

	_, err = h.syncer.Handle(ctx, syncReq(11))
	require.NoError(t, err)
	assert.Equal(t, 1.0, h.counter(t, "atlas_sync_lease_contention_total"))
}

func TestHandleRejectsInvalidRequest(t *testing.T) {
	h := setup(t, config.DefaultSyncPolicy(), Config{})

	_, err := h.syncer.Handle(context.Background(), Request{Operation: OperationSync})
	assert.ErrorIs(t, err, ErrFloatIDRequired)

	_, err = h.syncer.Handle(context.Background(), Request{Operation: "rebuild"})
	assert.ErrorIs(t, err, ErrInvalidOperation)
	assert.Empty(t, h.entries(t))
}
