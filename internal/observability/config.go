package observability

import (
	"strings"

	"github.com/smallbiznis/atlas/internal/config"
	"github.com/spf13/viper"
)

// Config holds the logging, tracing and metrics settings shared by every
// atlas process.
type Config struct {
	ServiceName string
	Environment string
	Version     string

	LogLevel  string
	LogFormat string

	OtelEnabled          bool
	OtelExporterEndpoint string
	OtelExporterProtocol string
	OtelSamplingRatio    float64
}

// LoadConfig layers the OTEL_* and LOG_* environment over the app config.
// Tracing is on by default in production only; development samples every
// trace.
func LoadConfig(cfg config.Config) Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DEPLOYMENT_ENV", cfg.Environment)
	v.SetDefault("SERVICE_VERSION", cfg.AppVersion)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("OTEL_ENABLED", cfg.IsProduction())
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	v.SetDefault("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	if isDevEnv(cfg.Environment) {
		v.SetDefault("OTEL_SAMPLING_RATIO", 1.0)
	} else {
		v.SetDefault("OTEL_SAMPLING_RATIO", 0.1)
	}

	protocol := v.GetString("OTEL_EXPORTER_OTLP_PROTOCOL")
	if traces := strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL")); traces != "" {
		protocol = traces
	}

	name := strings.TrimSpace(cfg.AppName)
	if name == "" {
		name = "atlas"
	}

	ratio := v.GetFloat64("OTEL_SAMPLING_RATIO")
	if ratio < 0 || ratio > 1 {
		ratio = 1
	}

	return Config{
		ServiceName:          name,
		Environment:          strings.TrimSpace(v.GetString("DEPLOYMENT_ENV")),
		Version:              strings.TrimSpace(v.GetString("SERVICE_VERSION")),
		LogLevel:             lower(v.GetString("LOG_LEVEL")),
		LogFormat:            lower(v.GetString("LOG_FORMAT")),
		OtelEnabled:          v.GetBool("OTEL_ENABLED"),
		OtelExporterEndpoint: strings.TrimSpace(v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OtelExporterProtocol: lower(protocol),
		OtelSamplingRatio:    ratio,
	}
}

// Debug turns on console logs, gin debug mode and stack traces.
func (c Config) Debug() bool {
	return c.LogLevel == "debug" || isDevEnv(c.Environment)
}

func isDevEnv(env string) bool {
	switch lower(env) {
	case "dev", "development", "local", "test":
		return true
	}
	return false
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
