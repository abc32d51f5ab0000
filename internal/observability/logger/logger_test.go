package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/atlas/internal/observability/context"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestWithContextAddsOnlyPresentFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	ctx := obscontext.WithRunID(context.Background(), "run-1")
	ctx = obscontext.WithFloatID(ctx, 2902226)
	WithContext(ctx, base).Info("sync.float.start")

	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "run-1", fields["run_id"])
	assert.Equal(t, "2902226", fields["float_id"])
	assert.NotContains(t, fields, "request_id")
	assert.NotContains(t, fields, "trace_id")
}

func TestNormalizeFormat(t *testing.T) {
	assert.Equal(t, "json", normalizeFormat("", false))
	assert.Equal(t, "console", normalizeFormat("", true))
	assert.Equal(t, "json", normalizeFormat("JSON", true))
	assert.Equal(t, "console", normalizeFormat("console", false))
}
