package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestPolicyDefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())

	holder, err := NewPolicyHolder(zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, DefaultSyncPolicy(), holder.Get())
}

func TestPolicyFromFile(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sync_policy.yml"), []byte(
		"sync:\n  mode: STALE\n  staleAfter: 48h\n  maxFloats: 25\n"), 0o644))

	holder, err := NewPolicyHolder(zap.NewNop())
	require.NoError(t, err)
	got := holder.Get()
	assert.Equal(t, PolicyStale, got.Mode)
	assert.Equal(t, 48*time.Hour, got.StaleAfter)
	assert.Equal(t, 25, got.MaxFloats)
}

func TestPolicyRejectsUnknownMode(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sync_policy.yml"), []byte("sync:\n  mode: sometimes\n"), 0o644))

	_, err := NewPolicyHolder(zap.NewNop())
	assert.Error(t, err)
}

func TestLoadDurations(t *testing.T) {
	t.Setenv("SYNC_FLOAT_TIMEOUT", "90")
	t.Setenv("LEASE_TTL", "2m")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg := Load()
	assert.Equal(t, 90*time.Second, cfg.Sync.FloatTimeout)
	assert.Equal(t, 2*time.Minute, cfg.Lease.TTL)
	assert.Equal(t, "redis", cfg.Lease.Backend)
	assert.Equal(t, 10, cfg.Sync.Concurrency)
}
