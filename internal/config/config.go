package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBTimeout         time.Duration
	DBSlowQuery       time.Duration
	MigrateOnStart    bool

	Archive ArchiveConfig
	Source  SourceConfig
	Lease   LeaseConfig
	Sync    SyncConfig
	HTTP    HTTPConfig
	Metrics MetricsPushConfig
}

type ArchiveConfig struct {
	// Backend is fs, s3 or badger.
	Backend      string
	LocalPath    string
	Compression  string
	KeepVersions int
	S3Endpoint   string
	S3Region     string
	S3Bucket     string
	S3AccessKey  string
	S3SecretKey  string
	S3UseSSL     bool
	BadgerPath   string
}

type SourceConfig struct {
	BaseURL    string
	DAC        string
	StagePath  string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
}

type LeaseConfig struct {
	// Backend is redis or local.
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

type SyncConfig struct {
	Concurrency  int
	FloatTimeout time.Duration
	RunInterval  time.Duration
	RunTimeout   time.Duration
	// WriteRetries is the attempt budget for transient row-store failures.
	WriteRetries int
	WriteBackoff time.Duration
}

type HTTPConfig struct {
	Addr          string
	SyncKeyHash   string
	ShutdownGrace time.Duration
	// TriggerRate limits POST /v1/sync per caller, in requests per second.
	// Zero disables the limit; it needs REDIS_ADDR.
	TriggerRate  float64
	TriggerBurst int
}

type MetricsPushConfig struct {
	Exporter  string
	Endpoint  string
	AuthToken string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "atlas"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "atlas"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "atlas.db"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 20),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 1800),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 300),
		DBTimeout:         getenvDuration("DB_TIMEOUT", 30*time.Second),
		DBSlowQuery:       getenvDuration("DB_SLOW_QUERY_THRESHOLD", 200*time.Millisecond),
		MigrateOnStart:    getenvBool("MIGRATE_ON_START", false),

		Archive: ArchiveConfig{
			Backend:      strings.ToLower(getenv("ARCHIVE_BACKEND", "fs")),
			LocalPath:    getenv("PARQUET_STAGING_PATH", "./data/archive"),
			Compression:  getenv("PARQUET_COMPRESSION", "snappy"),
			KeepVersions: getenvInt("ARCHIVE_KEEP_VERSIONS", 3),
			S3Endpoint:   strings.TrimSpace(getenv("S3_ENDPOINT", "")),
			S3Region:     getenv("S3_REGION", "auto"),
			S3Bucket:     getenv("S3_BUCKET_NAME", "atlas"),
			S3AccessKey:  strings.TrimSpace(getenv("S3_ACCESS_KEY", "")),
			S3SecretKey:  strings.TrimSpace(getenv("S3_SECRET_KEY", "")),
			S3UseSSL:     getenvBool("S3_USE_SSL", true),
			BadgerPath:   getenv("BADGER_PATH", "./data/badger"),
		},
		Source: SourceConfig{
			BaseURL:    strings.TrimRight(getenv("HTTP_BASE_URL", "https://data-argo.ifremer.fr"), "/"),
			DAC:        getenv("ARGO_DAC", "incois"),
			StagePath:  getenv("LOCAL_STAGE_PATH", "./data/stage"),
			Timeout:    getenvDuration("HTTP_TIMEOUT", 60*time.Second),
			MaxRetries: getenvInt("HTTP_MAX_RETRIES", 3),
			Backoff:    getenvDuration("HTTP_RETRY_BACKOFF", 500*time.Millisecond),
		},
		Lease: LeaseConfig{
			Backend:       strings.ToLower(getenv("LEASE_BACKEND", "")),
			RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getenvInt("REDIS_DB", 0),
			TTL:           getenvDuration("LEASE_TTL", 15*time.Minute),
		},
		Sync: SyncConfig{
			Concurrency:  getenvInt("SYNC_CONCURRENCY", 10),
			FloatTimeout: getenvDuration("SYNC_FLOAT_TIMEOUT", 5*time.Minute),
			RunInterval:  getenvDuration("SYNC_RUN_INTERVAL", 24*time.Hour),
			RunTimeout:   getenvDuration("SYNC_RUN_TIMEOUT", 6*time.Hour),
			WriteRetries: getenvInt("SYNC_WRITE_RETRIES", 3),
			WriteBackoff: getenvDuration("SYNC_WRITE_BACKOFF", 100*time.Millisecond),
		},
		HTTP: HTTPConfig{
			Addr:          getenv("HTTP_ADDR", ":8080"),
			SyncKeyHash:   strings.TrimSpace(getenv("SYNC_API_KEY_HASH", "")),
			ShutdownGrace: getenvDuration("HTTP_SHUTDOWN_GRACE", 10*time.Second),
			TriggerRate:   getenvFloat("SYNC_TRIGGER_RATE", 0),
			TriggerBurst:  getenvInt("SYNC_TRIGGER_BURST", 5),
		},
		Metrics: MetricsPushConfig{
			Exporter:  strings.ToLower(getenv("METRICS_PUSH_EXPORTER", "")),
			Endpoint:  strings.TrimSpace(getenv("METRICS_PUSH_ENDPOINT", "")),
			AuthToken: strings.TrimSpace(getenv("METRICS_PUSH_AUTH_TOKEN", "")),
		},
	}

	if cfg.Lease.Backend == "" {
		cfg.Lease.Backend = "local"
		if cfg.Lease.RedisAddr != "" {
			cfg.Lease.Backend = "redis"
		}
	}

	return cfg
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

// getenvDuration accepts Go durations ("90s") or plain seconds ("90").
func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}
