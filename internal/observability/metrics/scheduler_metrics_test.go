package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	archivedomain "github.com/packhouse/packline/internal/archive/domain"
	"github.com/packhouse/packline/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"
)

func TestClassifyJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "deadline",
			err:  context.DeadlineExceeded,
			want: SchedulerJobReasonDeadlineExceeded,
		},
		{
			name: "db_lock_timeout",
			err:  &pgconn.PgError{Code: "55P03"},
			want: SchedulerJobReasonDBLockTimeout,
		},
		{
			name: "serialization_failure",
			err:  &pgconn.PgError{Code: "40001"},
			want: SchedulerJobReasonSerializationFailure,
		},
		{
			name: "unique_violation",
			err:  gorm.ErrDuplicatedKey,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "store_conflict",
			err:  store.ErrConflict,
			want: SchedulerJobReasonUniqueViolation,
		},
		{
			name: "unknown",
			err:  errors.New("boom"),
			want: SchedulerJobReasonUnknown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classifyJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestConflictErrorsAreNotRetryable(t *testing.T) {
	if IsSchedulerErrorRetryable(store.ErrConflict) {
		t.Fatalf("expected conflict to be fatal")
	}
	if got := ClassifySchedulerErrorType(store.ErrConflict); got != SchedulerErrorTypeConflict {
		t.Fatalf("expected error type %q, got %q", SchedulerErrorTypeConflict, got)
	}
	if !IsSchedulerErrorRetryable(&pgconn.PgError{Code: "55P03"}) {
		t.Fatalf("expected lock timeout to be retryable")
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "packline",
		Environment: "test",
	})

	metrics.AddBatchProcessed("daily_archive", BatchResourceRecords, 3)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("daily_archive", BatchResourceRecords))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestIncWarmupTransitionUsesBoundCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{
		ServiceName: "packline",
		Environment: "test",
	})

	metrics.IncWarmupTransition(
		string(archivedomain.WarmupStatusPending),
		string(archivedomain.WarmupStatusProcessing),
	)
	metrics.IncWarmupTransition(
		string(archivedomain.WarmupStatusProcessing),
		string(archivedomain.WarmupStatusCompleted),
	)

	got := testutil.ToFloat64(metrics.warmupTransitions.WithLabelValues(
		string(archivedomain.WarmupStatusPending),
		string(archivedomain.WarmupStatusProcessing),
	))
	if got != 1 {
		t.Fatalf("expected pending to processing count 1, got %v", got)
	}
}
