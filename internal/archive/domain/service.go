package domain

import (
	"context"
	"errors"
	"time"

	"github.com/packhouse/packline/pkg/db/pagination"
)

type Service interface {
	// ArchiveDate runs the full pipeline for one calendar date.
	ArchiveDate(ctx context.Context, date string) (DateResult, error)

	// ArchiveYesterday archives the day before the injected clock's
	// current UTC date.
	ArchiveYesterday(ctx context.Context) (DateResult, error)

	// Warmup expands the params into dates and archives them ascending,
	// isolating per-date failures in the summary.
	Warmup(ctx context.Context, params WarmupParams) (Summary, error)

	EnqueueWarmup(ctx context.Context, params WarmupParams) (*WarmupRequest, error)
	GetWarmupRequest(ctx context.Context, id string) (*WarmupRequest, error)
	ListWarmupRequests(ctx context.Context, req ListWarmupsRequest) (ListWarmupsResponse, error)

	// GetArchivedDate reads a date's cached enriched records, ErrNotFound
	// when the date was never archived. It never triggers archival.
	GetArchivedDate(ctx context.Context, date string) ([]EnrichedPackagingRecord, error)
}

// WarmupParams selects the warmup dates: one explicit date, an inclusive
// range, or neither for yesterday.
type WarmupParams struct {
	Date      string `json:"date"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type ListWarmupsRequest struct {
	Status      string
	CreatedFrom *time.Time
	CreatedTo   *time.Time
	PageToken   string
	PageSize    int
}

type ListWarmupsResponse struct {
	Requests []WarmupRequest      `json:"warmup_requests"`
	PageInfo *pagination.PageInfo `json:"page_info"`
}

var (
	ErrInvalidDate   = errors.New("invalid_date")
	ErrInvalidRange  = errors.New("invalid_range")
	ErrRangeTooLong  = errors.New("range_too_long")
	ErrFutureDate    = errors.New("future_date")
	ErrInvalidStatus = errors.New("invalid_status")
	ErrNotFound      = errors.New("not_found")
)
