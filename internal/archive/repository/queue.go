package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/packhouse/packline/internal/archive/domain"
	obsmetrics "github.com/packhouse/packline/internal/observability/metrics"
	"github.com/packhouse/packline/pkg/db/option"
	"github.com/packhouse/packline/pkg/db/pagination"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// maxPersistedErrorLen bounds last_error so one giant joined error cannot
// bloat the queue table.
const maxPersistedErrorLen = 256

type queueRepo struct {
	db *gorm.DB
}

func ProvideQueue(db *gorm.DB) domain.QueueRepository {
	return &queueRepo{db: db}
}

func (r *queueRepo) Enqueue(ctx context.Context, req *domain.WarmupRequest) error {
	return r.db.WithContext(ctx).Create(req).Error
}

func (r *queueRepo) FindByID(ctx context.Context, id string) (*domain.WarmupRequest, error) {
	var req domain.WarmupRequest
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&req).Error
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, nil
	}
	return &req, nil
}

func (r *queueRepo) List(ctx context.Context, filter domain.ListWarmupsFilter, page pagination.Pagination) ([]*domain.WarmupRequest, error) {
	var requests []*domain.WarmupRequest
	stmt := r.db.WithContext(ctx).Model(&domain.WarmupRequest{})
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if filter.CreatedFrom != nil {
		stmt = option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.GTE,
			Value:    *filter.CreatedFrom,
		}).Apply(stmt)
	}
	if filter.CreatedTo != nil {
		stmt = option.ApplyOperator(option.Condition{
			Field:    "created_at",
			Operator: option.LTE,
			Value:    *filter.CreatedTo,
		}).Apply(stmt)
	}
	stmt = option.ApplyPagination(page).Apply(stmt)
	stmt = option.WithSortBy(option.WithQuerySortBy("created_at", "desc", map[string]bool{
		"created_at": true,
	})).Apply(stmt)

	if err := stmt.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *queueRepo) ClaimPending(ctx context.Context, limit int, now time.Time) ([]domain.WarmupRequest, error) {
	if limit <= 0 {
		limit = 10
	}

	var claimed []domain.WarmupRequest
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var pending []domain.WarmupRequest
		schedMetrics := obsmetrics.Scheduler()
		lockStart := time.Now()
		err := tx.WithContext(ctx).Raw(
			`SELECT id, archive_date, start_date, end_date, status, last_error,
			        summary, created_at, updated_at, started_at, completed_at
			 FROM warmup_requests
			 WHERE status = ?
			 ORDER BY created_at ASC, id ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT ?`,
			domain.WarmupStatusPending,
			limit,
		).Scan(&pending).Error
		schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceWarmupRequestsForWork, time.Since(lockStart))
		if err != nil {
			return err
		}

		for i := range pending {
			result := tx.WithContext(ctx).Exec(
				`UPDATE warmup_requests
				 SET status = ?, started_at = ?, updated_at = ?
				 WHERE id = ? AND status = ?`,
				domain.WarmupStatusProcessing,
				now,
				now,
				pending[i].ID,
				domain.WarmupStatusPending,
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				continue
			}
			schedMetrics.IncWarmupTransition(
				string(domain.WarmupStatusPending),
				string(domain.WarmupStatusProcessing),
			)
			startedAt := now
			pending[i].Status = domain.WarmupStatusProcessing
			pending[i].StartedAt = &startedAt
			claimed = append(claimed, pending[i])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *queueRepo) MarkCompleted(ctx context.Context, id string, summary domain.Summary, now time.Time) error {
	payload, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("serialize summary: %w", err)
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := r.lockRequestForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if req == nil || req.Status != domain.WarmupStatusProcessing {
			return nil
		}

		result := tx.WithContext(ctx).Exec(
			`UPDATE warmup_requests
			 SET status = ?, summary = ?, last_error = '',
			     completed_at = COALESCE(completed_at, ?), updated_at = ?
			 WHERE id = ? AND status = ?`,
			domain.WarmupStatusCompleted,
			datatypes.JSON(payload),
			now,
			now,
			id,
			domain.WarmupStatusProcessing,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			obsmetrics.Scheduler().IncWarmupTransition(
				string(domain.WarmupStatusProcessing),
				string(domain.WarmupStatusCompleted),
			)
		}
		return nil
	})
}

func (r *queueRepo) MarkFailed(ctx context.Context, id string, cause error, now time.Time) error {
	message := ""
	if cause != nil {
		message = truncateError(cause.Error())
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := r.lockRequestForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if req == nil || req.Status != domain.WarmupStatusProcessing {
			return nil
		}

		result := tx.WithContext(ctx).Exec(
			`UPDATE warmup_requests
			 SET status = ?, last_error = ?,
			     completed_at = COALESCE(completed_at, ?), updated_at = ?
			 WHERE id = ? AND status = ?`,
			domain.WarmupStatusFailed,
			message,
			now,
			now,
			id,
			domain.WarmupStatusProcessing,
		)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			obsmetrics.Scheduler().IncWarmupTransition(
				string(domain.WarmupStatusProcessing),
				string(domain.WarmupStatusFailed),
			)
		}
		return nil
	})
}

func (r *queueRepo) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	moved := 0
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var stale []domain.WarmupRequest
		schedMetrics := obsmetrics.Scheduler()
		lockStart := time.Now()
		err := tx.WithContext(ctx).Raw(
			`SELECT id, status, started_at
			 FROM warmup_requests
			 WHERE status = ? AND started_at IS NOT NULL AND started_at <= ?
			 ORDER BY started_at ASC, id ASC
			 FOR UPDATE SKIP LOCKED`,
			domain.WarmupStatusProcessing,
			cutoff,
		).Scan(&stale).Error
		schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceWarmupRequestsForWork, time.Since(lockStart))
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, req := range stale {
			result := tx.WithContext(ctx).Exec(
				`UPDATE warmup_requests
				 SET status = ?, started_at = NULL, updated_at = ?
				 WHERE id = ? AND status = ?`,
				domain.WarmupStatusPending,
				now,
				req.ID,
				domain.WarmupStatusProcessing,
			)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				continue
			}
			schedMetrics.IncWarmupTransition(
				string(domain.WarmupStatusProcessing),
				string(domain.WarmupStatusPending),
			)
			moved++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

func (r *queueRepo) lockRequestForUpdate(ctx context.Context, tx *gorm.DB, id string) (*domain.WarmupRequest, error) {
	var req domain.WarmupRequest
	schedMetrics := obsmetrics.Scheduler()
	lockStart := time.Now()
	err := tx.WithContext(ctx).Raw(
		`SELECT id, archive_date, start_date, end_date, status, last_error,
		        summary, created_at, updated_at, started_at, completed_at
		 FROM warmup_requests
		 WHERE id = ?
		 FOR UPDATE`,
		id,
	).Scan(&req).Error
	schedMetrics.ObserveDBLockWait(obsmetrics.LockResourceWarmupRequestByID, time.Since(lockStart))
	if err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, nil
	}
	return &req, nil
}

func truncateError(message string) string {
	if len(message) <= maxPersistedErrorLen {
		return message
	}
	return message[:maxPersistedErrorLen]
}
