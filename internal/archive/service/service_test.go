package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	archivedomain "github.com/packhouse/packline/internal/archive/domain"
	archiverepository "github.com/packhouse/packline/internal/archive/repository"
	"github.com/packhouse/packline/internal/cache"
	catalogrepository "github.com/packhouse/packline/internal/catalog/repository"
	catalogservice "github.com/packhouse/packline/internal/catalog/service"
	"github.com/packhouse/packline/internal/clock"
	"github.com/packhouse/packline/internal/config"
	packagingdomain "github.com/packhouse/packline/internal/packaging/domain"
	packagingrepository "github.com/packhouse/packline/internal/packaging/repository"
	"github.com/packhouse/packline/internal/store"
	"github.com/packhouse/packline/internal/store/memstore"
	"github.com/packhouse/packline/pkg/db/pagination"
	"go.uber.org/zap"
)

type fakeQueue struct {
	enqueued   []*archivedomain.WarmupRequest
	byID       map[string]*archivedomain.WarmupRequest
	listOut    []*archivedomain.WarmupRequest
	lastFilter archivedomain.ListWarmupsFilter
	lastPage   pagination.Pagination
}

func (f *fakeQueue) Enqueue(ctx context.Context, req *archivedomain.WarmupRequest) error {
	f.enqueued = append(f.enqueued, req)
	return nil
}

func (f *fakeQueue) FindByID(ctx context.Context, id string) (*archivedomain.WarmupRequest, error) {
	return f.byID[id], nil
}

func (f *fakeQueue) List(ctx context.Context, filter archivedomain.ListWarmupsFilter, page pagination.Pagination) ([]*archivedomain.WarmupRequest, error) {
	f.lastFilter = filter
	f.lastPage = page
	return f.listOut, nil
}

func (f *fakeQueue) ClaimPending(ctx context.Context, limit int, now time.Time) ([]archivedomain.WarmupRequest, error) {
	return nil, nil
}

func (f *fakeQueue) MarkCompleted(ctx context.Context, id string, summary archivedomain.Summary, now time.Time) error {
	return nil
}

func (f *fakeQueue) MarkFailed(ctx context.Context, id string, cause error, now time.Time) error {
	return nil
}

func (f *fakeQueue) RequeueStale(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

type env struct {
	store *memstore.Store
	clock *clock.FakeClock
	queue *fakeQueue
	svc   archivedomain.Service
}

func newEnv(t *testing.T, now time.Time) *env {
	t.Helper()

	st := memstore.New()
	st.Unique("packaging_caches", "cache_date")

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	catalogSvc := catalogservice.New(catalogservice.Params{
		Log:           zap.NewNop(),
		Repo:          catalogrepository.Provide(st, nil),
		ResolverCache: cache.NewCatalogResolverCache(),
	})

	fakeClock := clock.NewFakeClock(now)
	queue := &fakeQueue{byID: map[string]*archivedomain.WarmupRequest{}}

	svc := New(Params{
		Log:       zap.NewNop(),
		Packaging: packagingrepository.Provide(st, nil, nil),
		Catalog:   catalogSvc,
		Cache:     archiverepository.ProvideCache(st),
		Queue:     queue,
		Holder:    config.NewStaticArchiveConfigHolder(config.DefaultArchiveConfig()),
		Clock:     fakeClock,
		GenID:     node,
		Metrics:   nil,
	})

	return &env{store: st, clock: fakeClock, queue: queue, svc: svc}
}

// seedDate populates one packaging day: two waybills, three scans, two
// single products and one bundle of both.
func seedDate(st *memstore.Store, date string) {
	st.Seed("products",
		store.Record{"id": "prod-1", "barcode": "8990001", "name": "Soap", "product_type": "single"},
		store.Record{"id": "prod-2", "barcode": "8990002", "name": "Towel", "product_type": "single"},
		store.Record{"id": "prod-3", "barcode": "8991000", "name": "Gift Box", "product_type": "bundle"},
	)
	st.Seed("product_components",
		store.Record{"id": "comp-1", "parent_product_id": "prod-3", "child_product_id": "prod-1", "quantity": 1},
		store.Record{"id": "comp-2", "parent_product_id": "prod-3", "child_product_id": "prod-2", "quantity": 2},
	)
	st.Seed("packaging_records",
		store.Record{"id": "rec-" + date + "-1", "packaging_date": date, "waybill_number": "WB-" + date + "-1"},
		store.Record{"id": "rec-" + date + "-2", "packaging_date": date, "waybill_number": "WB-" + date + "-2"},
	)
	st.Seed("packaging_items",
		store.Record{"id": "item-" + date + "-1", "packaging_record_id": "rec-" + date + "-1", "product_barcode": "8990001", "scanned_at": date + "T08:00:00Z"},
		store.Record{"id": "item-" + date + "-2", "packaging_record_id": "rec-" + date + "-1", "product_barcode": "8991000", "scanned_at": date + "T09:00:00Z"},
		store.Record{"id": "item-" + date + "-3", "packaging_record_id": "rec-" + date + "-2", "product_barcode": "8990404", "scanned_at": date + "T10:00:00Z"},
	)
}

func TestArchiveDateWritesEnrichedCache(t *testing.T) {
	e := newEnv(t, time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC))
	seedDate(e.store, "2024-01-15")

	result, err := e.svc.ArchiveDate(context.Background(), "2024-01-15")
	if err != nil {
		t.Fatalf("archive date: %v", err)
	}
	if !result.Success || result.Status != archivedomain.DateStatusCached {
		t.Fatalf("expected cached result, got %+v", result)
	}
	if result.Records != 2 || result.Items != 3 || !result.Cached {
		t.Fatalf("unexpected counts: %+v", result)
	}

	rows := e.store.All("packaging_caches")
	if len(rows) != 1 {
		t.Fatalf("expected one cache row, got %d", len(rows))
	}

	records, err := e.svc.GetArchivedDate(context.Background(), "2024-01-15")
	if err != nil {
		t.Fatalf("read archived date: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 enriched records, got %d", len(records))
	}

	first := records[0]
	if len(first.Items) != 2 {
		t.Fatalf("expected 2 items on first waybill, got %d", len(first.Items))
	}
	// Bundle scan is newer, so it leads.
	if first.Items[0].ProductName != "Gift Box" || !first.Items[0].IsBundle {
		t.Fatalf("expected enriched bundle first, got %+v", first.Items[0])
	}
	if len(first.Items[0].BundleComponents) != 2 {
		t.Fatalf("expected 2 bundle components, got %+v", first.Items[0].BundleComponents)
	}
	if first.Items[1].ProductName != "Soap" {
		t.Fatalf("expected resolved single product, got %+v", first.Items[1])
	}

	second := records[1]
	if second.Items[0].ProductName != "Unknown Product" {
		t.Fatalf("expected unknown fallback for unmatched barcode, got %+v", second.Items[0])
	}
}

func TestArchiveDateIdempotent(t *testing.T) {
	e := newEnv(t, time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC))
	seedDate(e.store, "2024-01-15")

	if _, err := e.svc.ArchiveDate(context.Background(), "2024-01-15"); err != nil {
		t.Fatalf("first run: %v", err)
	}
	firstData := e.store.All("packaging_caches")[0]["data"]

	e.clock.Advance(2 * time.Hour)
	if _, err := e.svc.ArchiveDate(context.Background(), "2024-01-15"); err != nil {
		t.Fatalf("second run: %v", err)
	}

	rows := e.store.All("packaging_caches")
	if len(rows) != 1 {
		t.Fatalf("expected single cache row after rerun, got %d", len(rows))
	}
	if rows[0]["data"] != firstData {
		t.Fatal("expected identical cache data across reruns")
	}
	if creates := e.store.Calls("create", "packaging_caches"); creates != 1 {
		t.Fatalf("expected one create, got %d", creates)
	}
	if updates := e.store.Calls("update", "packaging_caches"); updates != 1 {
		t.Fatalf("expected one update, got %d", updates)
	}
}

func TestArchiveDateEmptySkipsWrite(t *testing.T) {
	e := newEnv(t, time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC))

	result, err := e.svc.ArchiveDate(context.Background(), "2024-01-15")
	if err != nil {
		t.Fatalf("archive empty date: %v", err)
	}
	if !result.Success || result.Status != archivedomain.DateStatusSkipped {
		t.Fatalf("expected skipped success, got %+v", result)
	}
	if result.Records != 0 || result.Items != 0 || result.Cached {
		t.Fatalf("expected zero counts and no cache, got %+v", result)
	}
	if rows := e.store.All("packaging_caches"); len(rows) != 0 {
		t.Fatalf("expected no cache rows, got %d", len(rows))
	}
}

func TestArchiveDateRejectsMalformed(t *testing.T) {
	e := newEnv(t, time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC))

	for _, date := range []string{"", "15-01-2024", "2024-1-5", "yesterday"} {
		if _, err := e.svc.ArchiveDate(context.Background(), date); !errors.Is(err, archivedomain.ErrInvalidDate) {
			t.Fatalf("date %q: expected ErrInvalidDate, got %v", date, err)
		}
	}
}

func TestArchiveYesterdayUsesInjectedClock(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 10, 0, 30, 0, 0, time.UTC))
	seedDate(e.store, "2024-03-09")

	result, err := e.svc.ArchiveYesterday(context.Background())
	if err != nil {
		t.Fatalf("archive yesterday: %v", err)
	}
	if result.Date != "2024-03-09" {
		t.Fatalf("expected yesterday in UTC, got %s", result.Date)
	}
	if !result.Cached {
		t.Fatalf("expected cached result, got %+v", result)
	}
}

func TestWarmupRangeExpandsAscending(t *testing.T) {
	e := newEnv(t, time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC))
	seedDate(e.store, "2024-01-01")
	seedDate(e.store, "2024-01-03")

	summary, err := e.svc.Warmup(context.Background(), archivedomain.WarmupParams{
		StartDate: "2024-01-01",
		EndDate:   "2024-01-03",
	})
	if err != nil {
		t.Fatalf("warmup: %v", err)
	}

	if summary.Dates != 3 || len(summary.Results) != 3 {
		t.Fatalf("expected 3 dates, got %+v", summary)
	}
	for i, want := range []string{"2024-01-01", "2024-01-02", "2024-01-03"} {
		if summary.Results[i].Date != want {
			t.Fatalf("expected date %s at position %d, got %s", want, i, summary.Results[i].Date)
		}
	}
	if summary.Succeeded != 3 {
		t.Fatalf("expected all dates to succeed, got %d", summary.Succeeded)
	}
	// The middle date has no data, so only two actually cached.
	if summary.Cached != 2 {
		t.Fatalf("expected 2 cached dates, got %d", summary.Cached)
	}
	if summary.Results[1].Status != archivedomain.DateStatusSkipped {
		t.Fatalf("expected empty middle date skipped, got %+v", summary.Results[1])
	}
	if summary.Records != 4 || summary.Items != 6 {
		t.Fatalf("unexpected totals: %+v", summary)
	}
}

type flakyPackaging struct {
	packagingdomain.Repository
	failDate string
}

func (f *flakyPackaging) FindRecordsByDate(ctx context.Context, date string) ([]packagingdomain.PackagingRecord, error) {
	if date == f.failDate {
		return nil, fmt.Errorf("store unavailable")
	}
	return f.Repository.FindRecordsByDate(ctx, date)
}

func TestWarmupIsolatesFailingDate(t *testing.T) {
	e := newEnv(t, time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC))
	seedDate(e.store, "2024-01-01")
	seedDate(e.store, "2024-01-02")
	seedDate(e.store, "2024-01-03")

	inner := e.svc.(*Service)
	inner.packaging = &flakyPackaging{Repository: inner.packaging, failDate: "2024-01-02"}

	summary, err := e.svc.Warmup(context.Background(), archivedomain.WarmupParams{
		StartDate: "2024-01-01",
		EndDate:   "2024-01-03",
	})
	if err != nil {
		t.Fatalf("warmup: %v", err)
	}

	if summary.Dates != 3 || summary.Succeeded != 2 {
		t.Fatalf("expected 2 of 3 dates to succeed, got %+v", summary)
	}
	failed := summary.Results[1]
	if failed.Status != archivedomain.DateStatusFailed || failed.Success {
		t.Fatalf("expected middle date failed, got %+v", failed)
	}
	if failed.Error == "" || failed.Records != 0 || failed.Items != 0 {
		t.Fatalf("expected error with zero counts, got %+v", failed)
	}
	for _, i := range []int{0, 2} {
		if !summary.Results[i].Cached {
			t.Fatalf("expected date %s cached despite middle failure, got %+v", summary.Results[i].Date, summary.Results[i])
		}
	}
}

type conflictCache struct{}

func (conflictCache) FindByDate(ctx context.Context, date string) (*archivedomain.PackagingCache, error) {
	return nil, nil
}

func (conflictCache) Upsert(ctx context.Context, date string, records []archivedomain.EnrichedPackagingRecord, now time.Time) (string, error) {
	return "", store.ErrConflict
}

func TestWarmupConflictFailsDate(t *testing.T) {
	e := newEnv(t, time.Date(2024, 1, 20, 9, 0, 0, 0, time.UTC))
	seedDate(e.store, "2024-01-15")

	e.svc.(*Service).cache = conflictCache{}

	summary, err := e.svc.Warmup(context.Background(), archivedomain.WarmupParams{Date: "2024-01-15"})
	if err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if summary.Succeeded != 0 {
		t.Fatalf("expected conflicted date to fail, got %+v", summary)
	}
	if !strings.Contains(summary.Results[0].Error, store.ErrConflict.Error()) {
		t.Fatalf("expected conflict error recorded, got %+v", summary.Results[0])
	}
}

func TestWarmupDefaultsToYesterday(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))

	summary, err := e.svc.Warmup(context.Background(), archivedomain.WarmupParams{})
	if err != nil {
		t.Fatalf("warmup: %v", err)
	}
	if summary.Dates != 1 || summary.Results[0].Date != "2024-03-09" {
		t.Fatalf("expected yesterday only, got %+v", summary)
	}
}

func TestWarmupValidation(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))

	cases := []struct {
		name   string
		params archivedomain.WarmupParams
		want   error
	}{
		{"malformed date", archivedomain.WarmupParams{Date: "10-03-2024"}, archivedomain.ErrInvalidDate},
		{"future date", archivedomain.WarmupParams{Date: "2024-03-11"}, archivedomain.ErrFutureDate},
		{"start without end", archivedomain.WarmupParams{StartDate: "2024-03-01"}, archivedomain.ErrInvalidRange},
		{"inverted range", archivedomain.WarmupParams{StartDate: "2024-03-05", EndDate: "2024-03-01"}, archivedomain.ErrInvalidRange},
		{"future range end", archivedomain.WarmupParams{StartDate: "2024-03-09", EndDate: "2024-03-11"}, archivedomain.ErrFutureDate},
		{"range too long", archivedomain.WarmupParams{StartDate: "2023-01-01", EndDate: "2023-12-31"}, archivedomain.ErrRangeTooLong},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := e.svc.Warmup(context.Background(), tc.params); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestEnqueueWarmupPersistsPending(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))

	req, err := e.svc.EnqueueWarmup(context.Background(), archivedomain.WarmupParams{
		StartDate: "2024-03-01",
		EndDate:   "2024-03-03",
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if req.ID == "" || req.Status != archivedomain.WarmupStatusPending {
		t.Fatalf("expected pending request with id, got %+v", req)
	}
	if req.ArchiveDate != nil || req.StartDate == nil || req.EndDate == nil {
		t.Fatalf("expected range fields persisted, got %+v", req)
	}
	if len(e.queue.enqueued) != 1 {
		t.Fatalf("expected one enqueued request, got %d", len(e.queue.enqueued))
	}

	params := req.Params()
	if params.StartDate != "2024-03-01" || params.EndDate != "2024-03-03" || params.Date != "" {
		t.Fatalf("expected params round trip, got %+v", params)
	}
}

func TestEnqueueWarmupRejectsInvalid(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))

	if _, err := e.svc.EnqueueWarmup(context.Background(), archivedomain.WarmupParams{Date: "2025-01-01"}); !errors.Is(err, archivedomain.ErrFutureDate) {
		t.Fatalf("expected ErrFutureDate, got %v", err)
	}
	if len(e.queue.enqueued) != 0 {
		t.Fatal("invalid request must not reach the queue")
	}
}

func TestGetWarmupRequestNotFound(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))

	if _, err := e.svc.GetWarmupRequest(context.Background(), "missing"); !errors.Is(err, archivedomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListWarmupRequestsRejectsUnknownStatus(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))

	_, err := e.svc.ListWarmupRequests(context.Background(), archivedomain.ListWarmupsRequest{Status: "sleeping"})
	if !errors.Is(err, archivedomain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestListWarmupRequestsPaginates(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))

	base := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		e.queue.listOut = append(e.queue.listOut, &archivedomain.WarmupRequest{
			ID:        fmt.Sprintf("req-%d", i),
			Status:    archivedomain.WarmupStatusPending,
			CreatedAt: base.Add(-time.Duration(i) * time.Minute),
		})
	}

	resp, err := e.svc.ListWarmupRequests(context.Background(), archivedomain.ListWarmupsRequest{
		Status:   "pending",
		PageSize: 2,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	if len(resp.Requests) != 2 {
		t.Fatalf("expected page trimmed to 2, got %d", len(resp.Requests))
	}
	if resp.PageInfo == nil || !resp.PageInfo.HasMore || resp.PageInfo.NextPageToken == "" {
		t.Fatalf("expected next page info, got %+v", resp.PageInfo)
	}
	if e.queue.lastFilter.Status != archivedomain.WarmupStatusPending {
		t.Fatalf("expected status filter passed through, got %+v", e.queue.lastFilter)
	}
	if e.queue.lastPage.PageSize != 2 {
		t.Fatalf("expected page size forwarded, got %+v", e.queue.lastPage)
	}

	cursor, err := pagination.DecodeCursor(resp.PageInfo.NextPageToken)
	if err != nil {
		t.Fatalf("decode cursor: %v", err)
	}
	if cursor.ID != "req-1" {
		t.Fatalf("expected cursor at last returned row, got %+v", cursor)
	}
}

func TestGetArchivedDateMissReturnsNotFound(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))

	if _, err := e.svc.GetArchivedDate(context.Background(), "2024-03-01"); !errors.Is(err, archivedomain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetArchivedDateToleratesLegacyPayload(t *testing.T) {
	e := newEnv(t, time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))

	// Rows cached before bundle enrichment carry neither is_bundle nor
	// bundle_components on their items.
	legacy := []map[string]any{{
		"id":             "rec-1",
		"packaging_date": "2024-03-01",
		"waybill_number": "WB-1",
		"items": []map[string]any{{
			"id":                  "item-1",
			"packaging_record_id": "rec-1",
			"product_barcode":     "8990001",
			"product_name":        "Soap",
		}},
	}}
	payload, err := json.Marshal(legacy)
	if err != nil {
		t.Fatalf("marshal legacy payload: %v", err)
	}
	e.store.Seed("packaging_caches", store.Record{
		"id":         "cache-1",
		"cache_date": "2024-03-01",
		"data":       string(payload),
		"cached_at":  "2024-03-02T00:00:00Z",
	})

	records, err := e.svc.GetArchivedDate(context.Background(), "2024-03-01")
	if err != nil {
		t.Fatalf("read legacy date: %v", err)
	}
	item := records[0].Items[0]
	if item.ProductName != "Soap" || item.IsBundle || item.BundleComponents != nil {
		t.Fatalf("expected legacy item to decode with defaults, got %+v", item)
	}
}
