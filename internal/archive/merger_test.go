package archive

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/smallbiznis/atlas/internal/profile/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func f64(v float64) *float64 { return &v }

func cycleRows(floatID int64, cycle int32, temps ...float64) []domain.Measurement {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(cycle) * 10 * 24 * time.Hour)
	rows := make([]domain.Measurement, 0, len(temps))
	for i, temp := range temps {
		rows = append(rows, domain.Measurement{
			FloatID:          floatID,
			CycleNumber:      cycle,
			Level:            int32(i),
			ProfileTimestamp: ts,
			Latitude:         f64(12.5),
			Longitude:        f64(85.25),
			DataMode:         string(domain.DataModeRealtime),
			Pressure:         f64(float64(5 + i*10)),
			Temperature:      f64(temp),
			Salinity:         f64(35.1),
			PressureRaw:      f64(float64(5 + i*10)),
			TemperatureRaw:   f64(temp),
			SalinityRaw:      f64(35.1),
			PresQC:           "1",
			TempQC:           "1",
			PsalQC:           "1",
		})
	}
	return rows
}

func newTestMerger(t *testing.T) (*Merger, ObjectStore) {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	codec, err := NewCodec("snappy")
	require.NoError(t, err)
	return NewMerger(store, codec, zap.NewNop(), 3), store
}

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec("zstd")
	require.NoError(t, err)

	rows := cycleRows(1, 3, 28.1, 27.5)
	rows[1].Oxygen = f64(201.5)
	rows[1].OxygenQC = "2"
	rows[0].Salinity = nil

	data, err := codec.Encode(rows)
	require.NoError(t, err)
	got, err := codec.Decode(data)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Nil(t, got[0].Salinity)
	assert.Nil(t, got[0].Oxygen)
	require.NotNil(t, got[1].Oxygen)
	assert.Equal(t, 201.5, *got[1].Oxygen)
	assert.True(t, rows[0].ProfileTimestamp.Equal(got[0].ProfileTimestamp))
	assert.Equal(t, checksum(rows), checksum(got))

	_, err = NewCodec("lz5")
	assert.Error(t, err)
}

func TestMergeAppendsAndReplacesWholeCycles(t *testing.T) {
	m, _ := newTestMerger(t)
	ctx := context.Background()

	first := append(cycleRows(7, 1, 28.0, 27.0, 26.0), cycleRows(7, 2, 28.5, 27.5)...)
	res, err := m.Merge(ctx, 7, first)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, res.CyclesAppended)
	assert.Empty(t, res.CyclesReplaced)
	assert.Equal(t, 5, res.TotalRows)
	assert.NotEmpty(t, res.Version)

	// cycle 2 shrinks to one level; the stale level must disappear
	res, err = m.Merge(ctx, 7, append(cycleRows(7, 2, 29.0), cycleRows(7, 3, 30.0)...))
	require.NoError(t, err)
	assert.Equal(t, []int{3}, res.CyclesAppended)
	assert.Equal(t, []int{2}, res.CyclesReplaced)
	assert.Equal(t, 2, res.CyclesWritten())

	rows, err := m.Load(ctx, 7)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	seen := map[[2]int32]bool{}
	for _, r := range rows {
		key := [2]int32{r.CycleNumber, r.Level}
		assert.False(t, seen[key], "duplicate key %v", key)
		seen[key] = true
	}
	assert.Equal(t, int32(2), rows[3].CycleNumber)
	assert.Equal(t, 29.0, *rows[3].Temperature)
	assert.Equal(t, int32(3), rows[4].CycleNumber)
}

func TestMergeIdenticalReingestIsSkipped(t *testing.T) {
	m, store := newTestMerger(t)
	ctx := context.Background()
	rows := cycleRows(9, 1, 25.0, 24.0)

	_, err := m.Merge(ctx, 9, rows)
	require.NoError(t, err)
	before, err := store.List(ctx, versionPrefix(9))
	require.NoError(t, err)

	res, err := m.Merge(ctx, 9, cycleRows(9, 1, 25.0, 24.0))
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.CyclesWritten())

	after, err := store.List(ctx, versionPrefix(9))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestMergeEmptyInputChangesNothing(t *testing.T) {
	m, _ := newTestMerger(t)
	res, err := m.Merge(context.Background(), 4, nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)

	_, err = m.Load(context.Background(), 4)
	assert.ErrorIs(t, err, ErrArchiveNotFound)
}

func TestMergeRejectsInvalidRows(t *testing.T) {
	m, _ := newTestMerger(t)
	ctx := context.Background()

	_, err := m.Merge(ctx, 1, cycleRows(2, 1, 20))
	assert.ErrorIs(t, err, domain.ErrMerge)
	assert.ErrorIs(t, err, ErrForeignRow)

	dup := append(cycleRows(1, 1, 20), cycleRows(1, 1, 21)...)
	_, err = m.Merge(ctx, 1, dup)
	assert.ErrorIs(t, err, ErrDuplicateKey)
}

func TestMergeCorruptArchiveIsNotRepaired(t *testing.T) {
	m, store := newTestMerger(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, CanonicalKey(5), []byte("not parquet")))

	_, err := m.Merge(ctx, 5, cycleRows(5, 1, 20))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMerge)
	assert.ErrorIs(t, err, ErrCorruptArchive)

	data, err := store.Get(ctx, CanonicalKey(5))
	require.NoError(t, err)
	assert.Equal(t, "not parquet", string(data))
}

// cancelOnVersion cancels the merge right after the version object lands.
type cancelOnVersion struct {
	ObjectStore
	cancel context.CancelFunc
}

func (s *cancelOnVersion) Put(ctx context.Context, key string, data []byte) error {
	err := s.ObjectStore.Put(ctx, key, data)
	if strings.Contains(key, "/v/") {
		s.cancel()
	}
	return err
}

func TestMergeCanceledBeforeSwapLeavesCanonical(t *testing.T) {
	m, store := newTestMerger(t)
	ctx := context.Background()

	_, err := m.Merge(ctx, 11, cycleRows(11, 1, 20))
	require.NoError(t, err)
	before, err := store.Get(ctx, CanonicalKey(11))
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m.store = &cancelOnVersion{ObjectStore: store, cancel: cancel}

	_, err = m.Merge(cctx, 11, cycleRows(11, 2, 21))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	after, err := store.Get(ctx, CanonicalKey(11))
	require.NoError(t, err)
	assert.Equal(t, before, after)

	versions, err := store.List(ctx, versionPrefix(11))
	require.NoError(t, err)
	assert.Len(t, versions, 1, "abandoned version is discarded")
}

func TestMergePrunesOldVersions(t *testing.T) {
	m, store := newTestMerger(t)
	ctx := context.Background()
	for cycle := int32(1); cycle <= 5; cycle++ {
		_, err := m.Merge(ctx, 3, cycleRows(3, cycle, 20))
		require.NoError(t, err)
	}
	versions, err := store.List(ctx, versionPrefix(3))
	require.NoError(t, err)
	assert.Len(t, versions, 3)

	rows, err := m.Load(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

func TestMergeOnBadgerStore(t *testing.T) {
	store, err := NewBadgerStore(BadgerConfig{InMemory: true}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	codec, err := NewCodec("")
	require.NoError(t, err)
	m := NewMerger(store, codec, zap.NewNop(), 2)
	ctx := context.Background()

	_, err = m.Merge(ctx, 42, cycleRows(42, 1, 20, 19))
	require.NoError(t, err)
	_, err = m.Merge(ctx, 42, cycleRows(42, 1, 21))
	require.NoError(t, err)

	rows, err := m.Load(ctx, 42)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 21.0, *rows[0].Temperature)

	_, err = store.Get(ctx, "profiles/43/data.parquet")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}
