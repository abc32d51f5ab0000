package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/golang/snappy"
	obscontext "github.com/smallbiznis/atlas/internal/observability/context"
)

// Stage keeps snappy-compressed copies of downloaded files per run, so a
// retried float in the same run reads them from disk.
type Stage struct {
	root string
}

// NewStage returns nil when root is empty, which disables staging.
func NewStage(root string) (*Stage, error) {
	if root == "" {
		return nil, nil
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("stage: %w", err)
	}
	return &Stage{root: root}, nil
}

func (s *Stage) path(runID string, floatID int64, kind Kind) string {
	id := strconv.FormatInt(floatID, 10)
	return filepath.Join(s.root, runID, id+"_"+string(kind)+".nc.sz")
}

func (s *Stage) Get(ctx context.Context, floatID int64, kind Kind) ([]byte, bool) {
	runID := obscontext.RunIDFromContext(ctx)
	if s == nil || runID == "" {
		return nil, false
	}
	raw, err := os.ReadFile(s.path(runID, floatID, kind))
	if err != nil {
		return nil, false
	}
	data, err := snappy.Decode(nil, raw)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (s *Stage) Put(ctx context.Context, floatID int64, kind Kind, data []byte) error {
	runID := obscontext.RunIDFromContext(ctx)
	if s == nil || runID == "" {
		return nil
	}
	path := s.path(runID, floatID, kind)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, snappy.Encode(nil, data), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Purge removes everything staged for a run.
func (s *Stage) Purge(runID string) error {
	if s == nil || runID == "" {
		return nil
	}
	err := os.RemoveAll(filepath.Join(s.root, runID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
