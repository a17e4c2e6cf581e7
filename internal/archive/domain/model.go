package domain

import (
	"time"

	catalogdomain "github.com/packhouse/packline/internal/catalog/domain"
	packagingdomain "github.com/packhouse/packline/internal/packaging/domain"
	"gorm.io/datatypes"
)

// DateFormat is the calendar-date layout used across the archival pipeline.
const DateFormat = "2006-01-02"

// EnrichedPackagingItem is a scanned item joined with its resolved product.
// Older cache rows may predate is_bundle and bundle_components, both stay
// optional on the wire.
type EnrichedPackagingItem struct {
	packagingdomain.PackagingItem
	ProductName      string                          `json:"product_name"`
	IsBundle         bool                            `json:"is_bundle,omitempty"`
	BundleComponents []catalogdomain.BundleComponent `json:"bundle_components,omitempty"`
}

// EnrichedPackagingRecord is a waybill record with its items enriched,
// newest scan first.
type EnrichedPackagingRecord struct {
	packagingdomain.PackagingRecord
	Items []EnrichedPackagingItem `json:"items"`
}

// PackagingCache holds one archived date. Data carries the serialized
// EnrichedPackagingRecord array, overwritten in place on re-archival.
type PackagingCache struct {
	ID        string    `json:"id"`
	CacheDate string    `json:"cache_date"`
	Data      string    `json:"data"`
	CachedAt  time.Time `json:"cached_at"`
}

type WarmupStatus string

const (
	WarmupStatusPending    WarmupStatus = "pending"
	WarmupStatusProcessing WarmupStatus = "processing"
	WarmupStatusCompleted  WarmupStatus = "completed"
	WarmupStatusFailed     WarmupStatus = "failed"
)

// WarmupRequest queues an on-demand archival. Rows move pending →
// processing → completed/failed; stale processing rows are swept back to
// pending by the recovery job.
type WarmupRequest struct {
	ID          string         `json:"id" gorm:"primaryKey"`
	ArchiveDate *string        `json:"archive_date,omitempty" gorm:"type:text"`
	StartDate   *string        `json:"start_date,omitempty" gorm:"type:text"`
	EndDate     *string        `json:"end_date,omitempty" gorm:"type:text"`
	Status      WarmupStatus   `json:"status" gorm:"type:text;not null;default:'pending';index"`
	LastError   string         `json:"last_error,omitempty" gorm:"type:text"`
	Summary     datatypes.JSON `json:"summary,omitempty"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"not null;default:CURRENT_TIMESTAMP"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// TableName sets the database table name.
func (WarmupRequest) TableName() string { return "warmup_requests" }

// Params rebuilds the warmup parameters captured at enqueue time.
func (r *WarmupRequest) Params() WarmupParams {
	var params WarmupParams
	if r.ArchiveDate != nil {
		params.Date = *r.ArchiveDate
	}
	if r.StartDate != nil {
		params.StartDate = *r.StartDate
	}
	if r.EndDate != nil {
		params.EndDate = *r.EndDate
	}
	return params
}

type DateStatus string

const (
	DateStatusCached  DateStatus = "cached"
	DateStatusSkipped DateStatus = "skipped"
	DateStatusFailed  DateStatus = "failed"
)

// DateResult reports one date's archival outcome.
type DateResult struct {
	Date    string     `json:"date"`
	Status  DateStatus `json:"status"`
	Success bool       `json:"success"`
	Records int        `json:"records"`
	Items   int        `json:"items"`
	Cached  bool       `json:"cached"`
	Error   string     `json:"error,omitempty"`
}

// Summary aggregates one warmup run across its dates.
type Summary struct {
	Dates     int          `json:"dates"`
	Succeeded int          `json:"succeeded"`
	Cached    int          `json:"cached"`
	Records   int          `json:"records"`
	Items     int          `json:"items"`
	Results   []DateResult `json:"results"`
}
