package domain

import (
	"context"
	"time"

	"github.com/packhouse/packline/pkg/db/pagination"
)

type CacheRepository interface {
	// FindByDate returns (nil, nil) when the date was never archived.
	FindByDate(ctx context.Context, date string) (*PackagingCache, error)

	// Upsert writes the date's enriched records, updating the existing row
	// when one exists. Returns the operation performed, "insert" or
	// "update". A concurrent same-date insert surfaces as store.ErrConflict.
	Upsert(ctx context.Context, date string, records []EnrichedPackagingRecord, now time.Time) (string, error)
}

type QueueRepository interface {
	Enqueue(ctx context.Context, req *WarmupRequest) error

	// FindByID returns (nil, nil) when no request matches.
	FindByID(ctx context.Context, id string) (*WarmupRequest, error)

	List(ctx context.Context, filter ListWarmupsFilter, page pagination.Pagination) ([]*WarmupRequest, error)

	// ClaimPending moves up to limit pending requests to processing and
	// returns them oldest first. Concurrent claimers skip each other's rows.
	ClaimPending(ctx context.Context, limit int, now time.Time) ([]WarmupRequest, error)

	MarkCompleted(ctx context.Context, id string, summary Summary, now time.Time) error
	MarkFailed(ctx context.Context, id string, cause error, now time.Time) error

	// RequeueStale returns processing requests started before cutoff to
	// pending, reporting how many rows moved.
	RequeueStale(ctx context.Context, cutoff time.Time) (int, error)
}

type ListWarmupsFilter struct {
	Status      WarmupStatus
	CreatedFrom *time.Time
	CreatedTo   *time.Time
}
