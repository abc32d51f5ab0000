package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	profiledomain "github.com/smallbiznis/atlas/internal/profile/domain"
	"gorm.io/gorm"
)

const (
	SyncReasonParse                = "parse_error"
	SyncReasonMerge                = "merge_error"
	SyncReasonProjection           = "projection_error"
	SyncReasonTimeout              = "timeout"
	SyncReasonTransientIO          = "transient_io"
	SyncReasonCanceled             = "canceled"
	SyncReasonDBLockTimeout        = "db_lock_timeout"
	SyncReasonSerializationFailure = "serialization_failure"
	SyncReasonUniqueViolation      = "unique_violation"
	SyncReasonUnknown              = "unknown"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
	OutcomeSkipped = "skipped"
)

const (
	StageFetching   = "fetching"
	StageParsing    = "parsing"
	StageMerging    = "merging"
	StageProjecting = "projecting"
	StageLogging    = "logging"
)

// SyncMetrics captures ingestion pipeline health signals.
type SyncMetrics struct {
	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	floatDuration   *prometheus.HistogramVec
	timeouts        *prometheus.CounterVec
	errors          *prometheus.CounterVec
	floatsProcessed *prometheus.CounterVec
	profilesSynced  *prometheus.CounterVec
	retries         *prometheus.CounterVec
	leaseContention prometheus.Counter
	archiveBytes    prometheus.Counter
	runLoopLag      prometheus.Observer
}

var (
	syncMetricsOnce sync.Once
	syncMetrics     *SyncMetrics
)

// Sync returns the singleton sync metrics registry.
func Sync() *SyncMetrics {
	return SyncWithConfig(Config{})
}

// SyncWithConfig returns the singleton sync metrics registry using config labels.
func SyncWithConfig(cfg Config) *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetrics = newSyncMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return syncMetrics
}

// NewSyncMetricsForRegistry builds an unshared instance, for tests and
// one-shot runs that push their own registry.
func NewSyncMetricsForRegistry(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	return newSyncMetrics(registerer, cfg)
}

// ResetSyncMetricsForTest resets the sync metrics singleton for tests.
func ResetSyncMetricsForTest() {
	syncMetricsOnce = sync.Once{}
	syncMetrics = nil
}

func newSyncMetrics(registerer prometheus.Registerer, cfg Config) *SyncMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "atlas"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "atlas_sync_runs_total",
		Help:        "Sync requests handled by operation.",
		ConstLabels: constLabels,
	}, []string{"operation"})
	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "atlas_sync_run_duration_seconds",
		Help:        "Wall time of a whole sync request.",
		Buckets:     []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		ConstLabels: constLabels,
	}, []string{"operation"})
	floatDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "atlas_sync_float_duration_seconds",
		Help:        "Wall time of one float attempt.",
		Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	}, []string{"outcome"})
	timeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "atlas_sync_float_timeouts_total",
		Help:        "Float attempts that exceeded their wall-clock budget.",
		ConstLabels: constLabels,
	}, []string{"stage"})
	errorsVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "atlas_sync_errors_total",
		Help:        "Float attempt failures by stage and low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"stage", "reason"})
	floatsProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "atlas_sync_floats_processed_total",
		Help:        "Float attempts by operation and outcome.",
		ConstLabels: constLabels,
	}, []string{"operation", "outcome"})
	profilesSynced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "atlas_sync_profiles_synced_total",
		Help:        "Cycles appended or replaced in the archive.",
		ConstLabels: constLabels,
	}, []string{"operation"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "atlas_sync_retries_total",
		Help:        "Retries of transient failures by stage.",
		ConstLabels: constLabels,
	}, []string{"stage"})
	leaseContention := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "atlas_sync_lease_contention_total",
		Help:        "Float attempts skipped because another worker held the lease.",
		ConstLabels: constLabels,
	})
	archiveBytes := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "atlas_archive_bytes_written_total",
		Help:        "Bytes of archive objects written.",
		ConstLabels: constLabels,
	})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "atlas_scheduler_runloop_lag_seconds",
		Help:        "Periodic run lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		runs,
		runDuration,
		floatDuration,
		timeouts,
		errorsVec,
		floatsProcessed,
		profilesSynced,
		retries,
		leaseContention,
		archiveBytes,
		runLoopLag,
	)

	return &SyncMetrics{
		runs:            runs,
		runDuration:     runDuration,
		floatDuration:   floatDuration,
		timeouts:        timeouts,
		errors:          errorsVec,
		floatsProcessed: floatsProcessed,
		profilesSynced:  profilesSynced,
		retries:         retries,
		leaseContention: leaseContention,
		archiveBytes:    archiveBytes,
		runLoopLag:      runLoopLag,
	}
}

func (m *SyncMetrics) IncRun(operation string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(operation).Inc()
}

func (m *SyncMetrics) ObserveRunDuration(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *SyncMetrics) ObserveFloat(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.floatDuration.WithLabelValues(outcome).Observe(d.Seconds())
	m.floatsProcessed.WithLabelValues(operation, outcome).Inc()
}

func (m *SyncMetrics) IncTimeout(stage string) {
	if m == nil {
		return
	}
	m.timeouts.WithLabelValues(stage).Inc()
}

// IncError counts a failed float attempt with a classified reason.
func (m *SyncMetrics) IncError(stage string, err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(stage, ClassifySyncReason(err)).Inc()
}

func (m *SyncMetrics) AddProfilesSynced(operation string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.profilesSynced.WithLabelValues(operation).Add(float64(n))
}

func (m *SyncMetrics) IncRetry(stage string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(stage).Inc()
}

func (m *SyncMetrics) IncLeaseContention() {
	if m == nil {
		return
	}
	m.leaseContention.Inc()
}

func (m *SyncMetrics) AddArchiveBytes(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.archiveBytes.Add(float64(n))
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SyncMetrics) ObserveRunLoopLag(d time.Duration) {
	if m == nil {
		return
	}
	if d < 0 {
		d = 0
	}
	m.runLoopLag.Observe(d.Seconds())
}

// ClassifySyncReason maps pipeline errors to low-cardinality reasons.
func ClassifySyncReason(err error) string {
	if err == nil {
		return SyncReasonUnknown
	}
	if kind, ok := profiledomain.KindOf(err); ok {
		switch kind {
		case profiledomain.KindParse:
			return SyncReasonParse
		case profiledomain.KindMerge:
			return SyncReasonMerge
		case profiledomain.KindTimeout:
			return SyncReasonTimeout
		case profiledomain.KindTransientIO:
			return SyncReasonTransientIO
		case profiledomain.KindProjection:
			if r := classifyDBReason(err); r != "" {
				return r
			}
			return SyncReasonProjection
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return SyncReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return SyncReasonCanceled
	}
	if r := classifyDBReason(err); r != "" {
		return r
	}
	return SyncReasonUnknown
}

// IsRetryableDBError reports whether a row-store failure may succeed on retry.
func IsRetryableDBError(err error) bool {
	switch classifyDBReason(err) {
	case SyncReasonDBLockTimeout, SyncReasonSerializationFailure, SyncReasonUniqueViolation:
		return true
	}
	return false
}

func classifyDBReason(err error) string {
	switch {
	case hasPGCode(err, "55P03"):
		return SyncReasonDBLockTimeout
	case hasPGCode(err, "40001"):
		return SyncReasonSerializationFailure
	case errors.Is(err, gorm.ErrDuplicatedKey), hasPGCode(err, "23505"):
		return SyncReasonUniqueViolation
	}
	return ""
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}
