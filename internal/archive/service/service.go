package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	archivedomain "github.com/packhouse/packline/internal/archive/domain"
	catalogdomain "github.com/packhouse/packline/internal/catalog/domain"
	"github.com/packhouse/packline/internal/clock"
	"github.com/packhouse/packline/internal/config"
	"github.com/packhouse/packline/internal/observability/metrics"
	packagingdomain "github.com/packhouse/packline/internal/packaging/domain"
	"github.com/packhouse/packline/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Job labels reported on archival metrics and logs.
const (
	jobDailyArchive = "daily_archive"
	jobWarmup       = "warmup"
	jobManual       = "manual"
)

const defaultListPageSize = 50

type Params struct {
	fx.In

	Log       *zap.Logger
	Packaging packagingdomain.Repository
	Catalog   catalogdomain.Service
	Cache     archivedomain.CacheRepository
	Queue     archivedomain.QueueRepository
	Holder    *config.ArchiveConfigHolder
	Clock     clock.Clock
	GenID     *snowflake.Node
	Metrics   *metrics.Metrics
}

type Service struct {
	log       *zap.Logger
	packaging packagingdomain.Repository
	catalog   catalogdomain.Service
	cache     archivedomain.CacheRepository
	queue     archivedomain.QueueRepository
	holder    *config.ArchiveConfigHolder
	clock     clock.Clock
	genID     *snowflake.Node
	metrics   *metrics.Metrics
}

func New(p Params) archivedomain.Service {
	return &Service{
		log:       p.Log.Named("archive.service"),
		packaging: p.Packaging,
		catalog:   p.Catalog,
		cache:     p.Cache,
		queue:     p.Queue,
		holder:    p.Holder,
		clock:     p.Clock,
		genID:     p.GenID,
		metrics:   p.Metrics,
	}
}

func (s *Service) ArchiveDate(ctx context.Context, date string) (archivedomain.DateResult, error) {
	parsed, err := s.parseDate(date)
	if err != nil {
		return archivedomain.DateResult{}, err
	}
	return s.archive(ctx, parsed.Format(archivedomain.DateFormat), jobManual)
}

func (s *Service) ArchiveYesterday(ctx context.Context) (archivedomain.DateResult, error) {
	return s.archive(ctx, s.yesterday(), jobDailyArchive)
}

func (s *Service) Warmup(ctx context.Context, params archivedomain.WarmupParams) (archivedomain.Summary, error) {
	dates, err := s.resolveDates(params)
	if err != nil {
		return archivedomain.Summary{}, err
	}

	summary := archivedomain.Summary{
		Dates:   len(dates),
		Results: make([]archivedomain.DateResult, 0, len(dates)),
	}

	for _, date := range dates {
		result, err := s.archive(ctx, date, jobWarmup)
		if err != nil && ctx.Err() != nil {
			return archivedomain.Summary{}, ctx.Err()
		}

		summary.Results = append(summary.Results, result)
		if !result.Success {
			continue
		}
		summary.Succeeded++
		if result.Cached {
			summary.Cached++
		}
		summary.Records += result.Records
		summary.Items += result.Items
	}

	metrics.Scheduler().AddBatchProcessed(jobWarmup, metrics.BatchResourceDates, len(dates))
	s.log.Info("warmup finished",
		zap.Int("dates", summary.Dates),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("cached", summary.Cached),
		zap.Int("records", summary.Records),
		zap.Int("items", summary.Items))

	return summary, nil
}

func (s *Service) EnqueueWarmup(ctx context.Context, params archivedomain.WarmupParams) (*archivedomain.WarmupRequest, error) {
	// Reject bad dates at enqueue time so the queue only ever holds
	// runnable requests.
	if _, err := s.resolveDates(params); err != nil {
		return nil, err
	}

	now := s.clock.Now().UTC()
	req := &archivedomain.WarmupRequest{
		ID:        s.genID.Generate().String(),
		Status:    archivedomain.WarmupStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if params.Date != "" {
		date := params.Date
		req.ArchiveDate = &date
	}
	if params.StartDate != "" {
		start := params.StartDate
		req.StartDate = &start
	}
	if params.EndDate != "" {
		end := params.EndDate
		req.EndDate = &end
	}

	if err := s.queue.Enqueue(ctx, req); err != nil {
		return nil, err
	}

	s.log.Info("warmup request enqueued",
		zap.String("warmup_request_id", req.ID),
		zap.Stringp("archive_date", req.ArchiveDate),
		zap.Stringp("start_date", req.StartDate),
		zap.Stringp("end_date", req.EndDate))

	return req, nil
}

func (s *Service) GetWarmupRequest(ctx context.Context, id string) (*archivedomain.WarmupRequest, error) {
	req, err := s.queue.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, archivedomain.ErrNotFound
	}
	return req, nil
}

func (s *Service) ListWarmupRequests(ctx context.Context, req archivedomain.ListWarmupsRequest) (archivedomain.ListWarmupsResponse, error) {
	filter := archivedomain.ListWarmupsFilter{
		CreatedFrom: req.CreatedFrom,
		CreatedTo:   req.CreatedTo,
	}
	if req.Status != "" {
		switch status := archivedomain.WarmupStatus(req.Status); status {
		case archivedomain.WarmupStatusPending,
			archivedomain.WarmupStatusProcessing,
			archivedomain.WarmupStatusCompleted,
			archivedomain.WarmupStatusFailed:
			filter.Status = status
		default:
			return archivedomain.ListWarmupsResponse{}, archivedomain.ErrInvalidStatus
		}
	}

	pageSize := pagination.Clamp(req.PageSize, defaultListPageSize)

	items, err := s.queue.List(ctx, filter, pagination.Pagination{
		PageToken: req.PageToken,
		PageSize:  pageSize,
	})
	if err != nil {
		return archivedomain.ListWarmupsResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(item *archivedomain.WarmupRequest) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        item.ID,
			CreatedAt: item.CreatedAt.Format(time.RFC3339),
		})
		if err != nil {
			return ""
		}
		return token
	})
	if pageInfo != nil && pageInfo.HasMore && len(items) > pageSize {
		items = items[:pageSize]
	}

	requests := make([]archivedomain.WarmupRequest, 0, len(items))
	for _, item := range items {
		if item == nil {
			continue
		}
		requests = append(requests, *item)
	}

	return archivedomain.ListWarmupsResponse{Requests: requests, PageInfo: pageInfo}, nil
}

func (s *Service) GetArchivedDate(ctx context.Context, date string) ([]archivedomain.EnrichedPackagingRecord, error) {
	parsed, err := s.parseDate(date)
	if err != nil {
		return nil, err
	}

	entry, err := s.cache.FindByDate(ctx, parsed.Format(archivedomain.DateFormat))
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, archivedomain.ErrNotFound
	}

	var records []archivedomain.EnrichedPackagingRecord
	if err := json.Unmarshal([]byte(entry.Data), &records); err != nil {
		return nil, fmt.Errorf("decode cached records for %s: %w", date, err)
	}
	return records, nil
}

// archive runs the whole per-date pipeline. The returned result always
// carries the date and a terminal status; counts stay zero unless the
// date actually cached.
func (s *Service) archive(ctx context.Context, date, job string) (archivedomain.DateResult, error) {
	result := archivedomain.DateResult{Date: date}

	records, err := s.packaging.FindRecordsByDate(ctx, date)
	if err != nil {
		return s.fail(ctx, result, job, metrics.ArchiveStageReadRecords, fmt.Errorf("read packaging records: %w", err))
	}

	if len(records) == 0 {
		result.Status = archivedomain.DateStatusSkipped
		result.Success = true
		s.metrics.RecordDateArchived(ctx, job, string(result.Status))
		s.log.Info("no packaging records for date",
			zap.String("job", job),
			zap.String("date", date),
			zap.Bool("success", true),
			zap.Bool("cached", false))
		return result, nil
	}

	recordIDs := make([]string, 0, len(records))
	for _, record := range records {
		recordIDs = append(recordIDs, record.ID)
	}

	items, err := s.packaging.FindItemsByRecordIDs(ctx, recordIDs)
	if err != nil {
		return s.fail(ctx, result, job, metrics.ArchiveStageReadRecords, fmt.Errorf("read packaging items: %w", err))
	}

	barcodes := make([]string, 0, len(items))
	for _, item := range items {
		barcodes = append(barcodes, item.ProductBarcode)
	}

	products, err := s.catalog.ResolveProducts(ctx, barcodes)
	if err != nil {
		return s.fail(ctx, result, job, metrics.ArchiveStageResolveProducts, fmt.Errorf("resolve products: %w", err))
	}

	bundles, err := s.catalog.ResolveBundles(ctx, products)
	if err != nil {
		return s.fail(ctx, result, job, metrics.ArchiveStageResolveBundles, fmt.Errorf("resolve bundles: %w", err))
	}

	enriched := Assemble(records, items, products, bundles)

	operation, err := s.cache.Upsert(ctx, date, enriched, s.clock.Now())
	if err != nil {
		return s.fail(ctx, result, job, metrics.ArchiveStageUpsertCache, fmt.Errorf("upsert cache entry: %w", err))
	}

	result.Status = archivedomain.DateStatusCached
	result.Success = true
	result.Records = len(records)
	result.Items = len(items)
	result.Cached = true

	s.metrics.RecordDateArchived(ctx, job, string(result.Status))
	s.metrics.RecordRecordsArchived(ctx, job, result.Records)
	s.metrics.RecordItemsArchived(ctx, job, result.Items)
	s.metrics.RecordCacheWrite(ctx, operation)

	s.log.Info("date archived",
		zap.String("job", job),
		zap.String("date", date),
		zap.Bool("success", true),
		zap.Int("records", result.Records),
		zap.Int("items", result.Items),
		zap.Bool("cached", true),
		zap.String("cache_write", operation))

	return result, nil
}

func (s *Service) fail(ctx context.Context, result archivedomain.DateResult, job, stage string, err error) (archivedomain.DateResult, error) {
	result.Status = archivedomain.DateStatusFailed
	result.Success = false
	result.Error = err.Error()

	metrics.Scheduler().IncArchiveStageError(stage, err)
	s.metrics.RecordDateArchived(ctx, job, string(result.Status))
	s.log.Warn("date archival failed",
		zap.String("job", job),
		zap.String("date", result.Date),
		zap.String("stage", stage),
		zap.Error(err))

	return result, err
}

// resolveDates expands warmup parameters into the ascending list of target
// dates. An explicit date wins over a range; neither means yesterday.
func (s *Service) resolveDates(params archivedomain.WarmupParams) ([]string, error) {
	today := s.today()

	if params.Date != "" {
		date, err := s.parseDate(params.Date)
		if err != nil {
			return nil, err
		}
		if date.After(today) {
			return nil, archivedomain.ErrFutureDate
		}
		return []string{date.Format(archivedomain.DateFormat)}, nil
	}

	if params.StartDate == "" && params.EndDate == "" {
		return []string{s.yesterday()}, nil
	}
	if params.StartDate == "" || params.EndDate == "" {
		return nil, archivedomain.ErrInvalidRange
	}

	start, err := s.parseDate(params.StartDate)
	if err != nil {
		return nil, err
	}
	end, err := s.parseDate(params.EndDate)
	if err != nil {
		return nil, err
	}
	if end.Before(start) {
		return nil, archivedomain.ErrInvalidRange
	}
	if end.After(today) {
		return nil, archivedomain.ErrFutureDate
	}

	days := int(end.Sub(start).Hours()/24) + 1
	if max := s.holder.Get().MaxRangeDays; max > 0 && days > max {
		return nil, archivedomain.ErrRangeTooLong
	}

	dates := make([]string, 0, days)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d.Format(archivedomain.DateFormat))
	}
	return dates, nil
}

func (s *Service) parseDate(value string) (time.Time, error) {
	parsed, err := time.ParseInLocation(archivedomain.DateFormat, value, time.UTC)
	if err != nil {
		return time.Time{}, archivedomain.ErrInvalidDate
	}
	return parsed, nil
}

// yesterday is today minus one calendar day. Day boundaries are UTC
// regardless of host timezone.
func (s *Service) yesterday() string {
	return s.clock.Now().UTC().AddDate(0, 0, -1).Format(archivedomain.DateFormat)
}

func (s *Service) today() time.Time {
	now := s.clock.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
