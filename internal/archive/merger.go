package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/atlas/internal/profile/domain"
	"go.uber.org/zap"
)

var (
	ErrArchiveNotFound = errors.New("archive_not_found")
	ErrCorruptArchive  = errors.New("archive_corrupt")
	ErrForeignRow      = errors.New("row_for_other_float")
	ErrDuplicateKey    = errors.New("duplicate_row_key")
)

const defaultKeepVersions = 3

// MergeResult summarizes one merge.
type MergeResult struct {
	FloatID        int64
	CyclesAppended []int
	CyclesReplaced []int
	RowsIn         int
	TotalRows      int
	Version        string
	Bytes          int
	// Skipped is set when the merged dataset equals the stored one and
	// nothing was written.
	Skipped bool
}

// CyclesWritten counts cycles that were appended or replaced.
func (r MergeResult) CyclesWritten() int {
	if r.Skipped {
		return 0
	}
	return len(r.CyclesAppended) + len(r.CyclesReplaced)
}

type Merger struct {
	store ObjectStore
	codec *Codec
	log   *zap.Logger
	keep  int

	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewMerger(store ObjectStore, codec *Codec, log *zap.Logger, keepVersions int) *Merger {
	if keepVersions <= 0 {
		keepVersions = defaultKeepVersions
	}
	return &Merger{
		store: store,
		codec: codec,
		log:   log.Named("archive.merger"),
		keep:  keepVersions,
		locks: map[int64]*sync.Mutex{},
	}
}

func (m *Merger) lock(floatID int64) func() {
	m.mu.Lock()
	l, ok := m.locks[floatID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[floatID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Load returns the float's current dataset ordered by (cycle, level).
func (m *Merger) Load(ctx context.Context, floatID int64) ([]domain.Measurement, error) {
	data, err := m.store.Get(ctx, CanonicalKey(floatID))
	if errors.Is(err, ErrObjectNotFound) {
		return nil, ErrArchiveNotFound
	}
	if err != nil {
		return nil, err
	}
	rows, err := m.codec.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	sortRows(rows)
	return rows, nil
}

// Merge folds rows into the float's dataset. Every cycle present in rows
// replaces the stored cycle as a whole; other stored cycles are kept. The
// new dataset is written as a fresh version and then swapped in as the
// canonical object, so readers never observe a partial merge.
func (m *Merger) Merge(ctx context.Context, floatID int64, rows []domain.Measurement) (MergeResult, error) {
	res := MergeResult{FloatID: floatID, RowsIn: len(rows)}
	if len(rows) == 0 {
		res.Skipped = true
		return res, nil
	}

	incoming, err := partition(floatID, rows)
	if err != nil {
		return res, domain.MergeError(floatID, "validate", err)
	}

	unlock := m.lock(floatID)
	defer unlock()

	existing, err := m.Load(ctx, floatID)
	switch {
	case errors.Is(err, ErrArchiveNotFound):
		existing = nil
	case errors.Is(err, ErrCorruptArchive):
		return res, domain.MergeError(floatID, "read_existing", err)
	case err != nil:
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, domain.MergeError(floatID, "read_existing", err)
	}

	stored := map[int32]struct{}{}
	merged := make([]domain.Measurement, 0, len(existing)+len(rows))
	for _, r := range existing {
		stored[r.CycleNumber] = struct{}{}
		if _, replace := incoming[r.CycleNumber]; replace {
			continue
		}
		merged = append(merged, r)
	}
	for cycle, cycleRows := range incoming {
		if _, ok := stored[cycle]; ok {
			res.CyclesReplaced = append(res.CyclesReplaced, int(cycle))
		} else {
			res.CyclesAppended = append(res.CyclesAppended, int(cycle))
		}
		merged = append(merged, cycleRows...)
	}
	sort.Ints(res.CyclesAppended)
	sort.Ints(res.CyclesReplaced)
	sortRows(merged)
	res.TotalRows = len(merged)

	if existing != nil && checksum(existing) == checksum(merged) {
		res.Skipped = true
		m.log.Debug("archive.merge.unchanged", zap.Int64("float_id", floatID), zap.Int("rows", len(merged)))
		return res, nil
	}

	data, err := m.codec.Encode(merged)
	if err != nil {
		return res, domain.MergeError(floatID, "encode", err)
	}

	version := ulid.Make().String()
	versionKey := VersionKey(floatID, version)
	if err := m.store.Put(ctx, versionKey, data); err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, domain.MergeError(floatID, "write_version", err)
	}

	// Last point at which the merge can be abandoned without being visible.
	if err := ctx.Err(); err != nil {
		m.discard(versionKey)
		return res, err
	}

	if err := m.store.Put(ctx, CanonicalKey(floatID), data); err != nil {
		m.discard(versionKey)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, domain.MergeError(floatID, "swap", err)
	}

	res.Version = version
	res.Bytes = len(data)
	m.log.Info("archive.merge.swap",
		zap.Int64("float_id", floatID),
		zap.String("version", version),
		zap.Ints("cycles_appended", res.CyclesAppended),
		zap.Ints("cycles_replaced", res.CyclesReplaced),
		zap.Int("total_rows", res.TotalRows),
		zap.Int("bytes", res.Bytes),
	)

	m.prune(ctx, floatID)
	return res, nil
}

func partition(floatID int64, rows []domain.Measurement) (map[int32][]domain.Measurement, error) {
	out := map[int32][]domain.Measurement{}
	seen := map[[2]int32]struct{}{}
	for _, r := range rows {
		if r.FloatID != floatID {
			return nil, fmt.Errorf("%w: %d", ErrForeignRow, r.FloatID)
		}
		key := [2]int32{r.CycleNumber, r.Level}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: cycle %d level %d", ErrDuplicateKey, r.CycleNumber, r.Level)
		}
		seen[key] = struct{}{}
		out[r.CycleNumber] = append(out[r.CycleNumber], r)
	}
	return out, nil
}

func (m *Merger) discard(key string) {
	if err := m.store.Delete(context.Background(), key); err != nil {
		m.log.Warn("archive.version.discard_failed", zap.String("key", key), zap.Error(err))
	}
}

// prune keeps the newest versions. Failures only leave extra history.
func (m *Merger) prune(ctx context.Context, floatID int64) {
	keys, err := m.store.List(ctx, versionPrefix(floatID))
	if err != nil {
		m.log.Warn("archive.version.list_failed", zap.Int64("float_id", floatID), zap.Error(err))
		return
	}
	versions := keys[:0]
	for _, k := range keys {
		if strings.HasSuffix(k, ".parquet") {
			versions = append(versions, k)
		}
	}
	if len(versions) <= m.keep {
		return
	}
	for _, k := range versions[:len(versions)-m.keep] {
		if err := m.store.Delete(ctx, k); err != nil {
			m.log.Warn("archive.version.prune_failed", zap.String("key", k), zap.Error(err))
		}
	}
}
