package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	archivedomain "github.com/packhouse/packline/internal/archive/domain"
	"github.com/packhouse/packline/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	SchedulerErrorTypeDeadlineExceeded = "deadline_exceeded"
	SchedulerErrorTypeConflict         = "conflict"
	SchedulerErrorTypeBusinessRule     = "business_rule"
	SchedulerErrorTypeDB               = "db"
	SchedulerErrorTypeUnknown          = "unknown"
)

const (
	SchedulerJobReasonDeadlineExceeded     = "deadline_exceeded"
	SchedulerJobReasonDBLockTimeout        = "db_lock_timeout"
	SchedulerJobReasonSerializationFailure = "serialization_failure"
	SchedulerJobReasonUniqueViolation      = "unique_violation"
	SchedulerJobReasonUnknown              = "unknown"

	SchedulerBatchDeferredReasonSkipLockedEmpty = "skip_locked_empty"
)

const (
	ArchiveStageReadRecords     = "read_records"
	ArchiveStageResolveProducts = "resolve_products"
	ArchiveStageResolveBundles  = "resolve_bundles"
	ArchiveStageAssemble        = "assemble"
	ArchiveStageUpsertCache     = "upsert_cache"
	ArchiveStageRecoveryRequeue = "recovery_requeue"
)

const (
	LockResourceWarmupRequestsForWork = "warmup_requests_for_work"
	LockResourceWarmupRequestByID     = "warmup_request_by_id"
)

const (
	BatchResourceDates          = "archive_dates"
	BatchResourceRecords        = "packaging_records"
	BatchResourceWarmupRequests = "warmup_requests"
)

// SchedulerMetrics captures archival scheduler health signals.
type SchedulerMetrics struct {
	jobRuns           *prometheus.CounterVec
	jobDuration       *prometheus.HistogramVec
	jobTimeouts       *prometheus.CounterVec
	jobErrors         *prometheus.CounterVec
	batchProcessed    *prometheus.CounterVec
	batchDeferred     *prometheus.CounterVec
	runLoopLag        prometheus.Observer
	warmupTransitions *prometheus.CounterVec
	stageErrors       *prometheus.CounterVec
	dbLockWait        *prometheus.HistogramVec
	transitionCounts  map[string]map[string]prometheus.Counter
	stageErrorCounts  map[string]map[string]prometheus.Counter
	lockWaitObserver  map[string]prometheus.Observer
}

var (
	schedulerMetricsOnce sync.Once
	schedulerMetrics     *SchedulerMetrics
)

// Scheduler returns the singleton scheduler metrics registry.
func Scheduler() *SchedulerMetrics {
	return SchedulerWithConfig(Config{})
}

// SchedulerWithConfig returns the singleton scheduler metrics registry using config labels.
func SchedulerWithConfig(cfg Config) *SchedulerMetrics {
	schedulerMetricsOnce.Do(func() {
		schedulerMetrics = newSchedulerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return schedulerMetrics
}

// ResetSchedulerMetricsForTest resets the scheduler metrics singleton for tests.
func ResetSchedulerMetricsForTest() {
	schedulerMetricsOnce = sync.Once{}
	schedulerMetrics = nil
}

func newSchedulerMetrics(registerer prometheus.Registerer, cfg Config) *SchedulerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "packline"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "packline_scheduler_job_runs_total",
		Help:        "Scheduler job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "packline_scheduler_job_duration_seconds",
		Help:        "Scheduler job latency to protect archival freshness.",
		Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600, 1800},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "packline_scheduler_job_timeouts_total",
		Help:        "Scheduler job timeouts that threaten the daily archival window.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "packline_scheduler_job_errors_total",
		Help:        "Scheduler job errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	batchProcessed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "packline_scheduler_batch_processed_total",
		Help:        "Scheduler batch items processed to gauge archival throughput.",
		ConstLabels: constLabels,
	}, []string{"job", "resource"})
	batchDeferred := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "packline_scheduler_batch_deferred_total",
		Help:        "Scheduler batch deferrals by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	runLoopLag := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:        "packline_scheduler_runloop_lag_seconds",
		Help:        "Scheduler run loop lag beyond the configured interval.",
		Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		ConstLabels: constLabels,
	})
	warmupTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "packline_warmup_transition_total",
		Help:        "Warmup request lifecycle transitions to validate queue health.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	stageErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "packline_archive_stage_errors_total",
		Help:        "Archive pipeline errors by stage for faster incident isolation.",
		ConstLabels: constLabels,
	}, []string{"stage", "error_type"})
	dbLockWait := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "packline_scheduler_db_lock_wait_seconds",
		Help:        "Scheduler DB lock wait time for SELECT FOR UPDATE contention.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		ConstLabels: constLabels,
	}, []string{"resource"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobTimeouts,
		jobErrors,
		batchProcessed,
		batchDeferred,
		runLoopLag,
		warmupTransitions,
		stageErrors,
		dbLockWait,
	)

	transitionCounts := map[string]map[string]prometheus.Counter{
		string(archivedomain.WarmupStatusPending): {
			string(archivedomain.WarmupStatusProcessing): warmupTransitions.WithLabelValues(
				string(archivedomain.WarmupStatusPending),
				string(archivedomain.WarmupStatusProcessing),
			),
		},
		string(archivedomain.WarmupStatusProcessing): {
			string(archivedomain.WarmupStatusCompleted): warmupTransitions.WithLabelValues(
				string(archivedomain.WarmupStatusProcessing),
				string(archivedomain.WarmupStatusCompleted),
			),
			string(archivedomain.WarmupStatusFailed): warmupTransitions.WithLabelValues(
				string(archivedomain.WarmupStatusProcessing),
				string(archivedomain.WarmupStatusFailed),
			),
			string(archivedomain.WarmupStatusPending): warmupTransitions.WithLabelValues(
				string(archivedomain.WarmupStatusProcessing),
				string(archivedomain.WarmupStatusPending),
			),
		},
	}

	lockWaitObserver := map[string]prometheus.Observer{
		LockResourceWarmupRequestsForWork: dbLockWait.WithLabelValues(LockResourceWarmupRequestsForWork),
		LockResourceWarmupRequestByID:     dbLockWait.WithLabelValues(LockResourceWarmupRequestByID),
	}

	stageErrorCounts := map[string]map[string]prometheus.Counter{}
	errorTypes := []string{
		SchedulerErrorTypeDeadlineExceeded,
		SchedulerErrorTypeConflict,
		SchedulerErrorTypeBusinessRule,
		SchedulerErrorTypeDB,
	}
	for _, stage := range []string{
		ArchiveStageReadRecords,
		ArchiveStageResolveProducts,
		ArchiveStageResolveBundles,
		ArchiveStageAssemble,
		ArchiveStageUpsertCache,
		ArchiveStageRecoveryRequeue,
	} {
		stageCounters := map[string]prometheus.Counter{}
		for _, errType := range errorTypes {
			stageCounters[errType] = stageErrors.WithLabelValues(stage, errType)
		}
		stageErrorCounts[stage] = stageCounters
	}

	return &SchedulerMetrics{
		jobRuns:           jobRuns,
		jobDuration:       jobDuration,
		jobTimeouts:       jobTimeouts,
		jobErrors:         jobErrors,
		batchProcessed:    batchProcessed,
		batchDeferred:     batchDeferred,
		runLoopLag:        runLoopLag,
		warmupTransitions: warmupTransitions,
		stageErrors:       stageErrors,
		dbLockWait:        dbLockWait,
		transitionCounts:  transitionCounts,
		stageErrorCounts:  stageErrorCounts,
		lockWaitObserver:  lockWaitObserver,
	}
}

// IncJobRun increments the run counter for a scheduler job.
func (m *SchedulerMetrics) IncJobRun(job string) {
	if m == nil || m.jobRuns == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

// ObserveJobDuration records scheduler job latency in seconds.
func (m *SchedulerMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobTimeout increments the timeout counter for the scheduler job.
func (m *SchedulerMetrics) IncJobTimeout(job string) {
	if m == nil || m.jobTimeouts == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

// IncJobError increments the scheduler job error counter with classification.
func (m *SchedulerMetrics) IncJobError(job string, err error) {
	if m == nil || err == nil || m.jobErrors == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, classifyJobReason(err)).Inc()
}

// AddBatchProcessed increments the batch processed counter for a resource by count.
func (m *SchedulerMetrics) AddBatchProcessed(job, resource string, count int) {
	if m == nil || count <= 0 || m.batchProcessed == nil {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(count))
}

// IncBatchDeferred increments the batch deferred counter for a job and reason.
func (m *SchedulerMetrics) IncBatchDeferred(job, reason string) {
	if m == nil || m.batchDeferred == nil {
		return
	}
	m.batchDeferred.WithLabelValues(job, reason).Inc()
}

// ObserveRunLoopLag records lag between the scheduled tick and actual run start.
func (m *SchedulerMetrics) ObserveRunLoopLag(duration time.Duration) {
	if m == nil || m.runLoopLag == nil {
		return
	}
	lag := duration
	if lag < 0 {
		lag = 0
	}
	m.runLoopLag.Observe(lag.Seconds())
}

// IncWarmupTransition increments warmup request transition counters.
func (m *SchedulerMetrics) IncWarmupTransition(from, to string) {
	if m == nil {
		return
	}
	if toCounters, ok := m.transitionCounts[from]; ok {
		if counter, ok := toCounters[to]; ok {
			counter.Inc()
			return
		}
	}
	m.warmupTransitions.WithLabelValues(from, to).Inc()
}

// IncArchiveStageError increments archive pipeline errors by stage and type.
func (m *SchedulerMetrics) IncArchiveStageError(stage string, err error) {
	if m == nil || err == nil {
		return
	}
	errorType := ClassifySchedulerErrorType(err)
	if stageCounters, ok := m.stageErrorCounts[stage]; ok {
		if counter, ok := stageCounters[errorType]; ok {
			counter.Inc()
			return
		}
	}
	m.stageErrors.WithLabelValues(stage, errorType).Inc()
}

// ObserveDBLockWait records lock wait time for SELECT FOR UPDATE work.
func (m *SchedulerMetrics) ObserveDBLockWait(resource string, duration time.Duration) {
	if m == nil {
		return
	}
	if observer, ok := m.lockWaitObserver[resource]; ok {
		observer.Observe(duration.Seconds())
		return
	}
	m.dbLockWait.WithLabelValues(resource).Observe(duration.Seconds())
}

// ClassifySchedulerErrorType returns a low-cardinality error type for logging
// and for the per-stage error series.
func ClassifySchedulerErrorType(err error) string {
	if err == nil {
		return SchedulerErrorTypeUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SchedulerErrorTypeDeadlineExceeded
	}
	if isConflictError(err) {
		return SchedulerErrorTypeConflict
	}
	if isDBError(err) {
		return SchedulerErrorTypeDB
	}
	return SchedulerErrorTypeBusinessRule
}

// IsSchedulerErrorRetryable reports whether the scheduler error should be retried.
func IsSchedulerErrorRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if isConflictError(err) {
		return false
	}
	return isDBError(err)
}

// classifyJobReason maps scheduler job errors to low-cardinality reasons.
func classifyJobReason(err error) string {
	if err == nil {
		return SchedulerJobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return SchedulerJobReasonDeadlineExceeded
	}
	if isDBLockTimeout(err) {
		return SchedulerJobReasonDBLockTimeout
	}
	if isSerializationFailure(err) {
		return SchedulerJobReasonSerializationFailure
	}
	if isUniqueViolation(err) {
		return SchedulerJobReasonUniqueViolation
	}
	return SchedulerJobReasonUnknown
}

func isDBLockTimeout(err error) bool {
	return hasPGCode(err, "55P03")
}

func isSerializationFailure(err error) bool {
	return hasPGCode(err, "40001")
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, store.ErrConflict) {
		return true
	}
	return hasPGCode(err, "23505")
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isConflictError(err error) bool {
	return errors.Is(err, store.ErrConflict)
}

// gormInternalErrors are driver and ORM failures that count as db errors.
// Not-found is excluded, a miss is an answer rather than a failure.
var gormInternalErrors = []error{
	gorm.ErrInvalidDB,
	gorm.ErrInvalidTransaction,
	gorm.ErrInvalidField,
	gorm.ErrInvalidData,
	gorm.ErrMissingWhereClause,
	gorm.ErrUnsupportedDriver,
	gorm.ErrRegistered,
	gorm.ErrInvalidValue,
	gorm.ErrNotImplemented,
	gorm.ErrDryRunModeUnsupported,
	gorm.ErrDuplicatedKey,
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, store.ErrNotFound) {
		return false
	}
	for _, target := range gormInternalErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
