package observability

import (
	"testing"

	"github.com/smallbiznis/atlas/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OTEL_ENABLED", "")
	t.Setenv("OTEL_SAMPLING_RATIO", "")
	t.Setenv("LOG_LEVEL", "")

	dev := LoadConfig(config.Config{AppName: "atlas-api", Environment: "development"})
	assert.Equal(t, "atlas-api", dev.ServiceName)
	assert.False(t, dev.OtelEnabled)
	assert.Equal(t, 1.0, dev.OtelSamplingRatio)
	assert.True(t, dev.Debug())

	prod := LoadConfig(config.Config{Environment: "production"})
	assert.Equal(t, "atlas", prod.ServiceName)
	assert.True(t, prod.OtelEnabled)
	assert.Equal(t, 0.1, prod.OtelSamplingRatio)
	assert.False(t, prod.Debug())
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")
	t.Setenv("OTEL_SAMPLING_RATIO", "7")

	cfg := LoadConfig(config.Config{Environment: "production"})
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "http", cfg.OtelExporterProtocol)
	assert.Equal(t, 1.0, cfg.OtelSamplingRatio)
	assert.True(t, cfg.Debug())
}
