package scheduler

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	archivedomain "github.com/packhouse/packline/internal/archive/domain"
	archiverepository "github.com/packhouse/packline/internal/archive/repository"
	archiveservice "github.com/packhouse/packline/internal/archive/service"
	"github.com/packhouse/packline/internal/cache"
	catalogrepository "github.com/packhouse/packline/internal/catalog/repository"
	catalogservice "github.com/packhouse/packline/internal/catalog/service"
	"github.com/packhouse/packline/internal/clock"
	"github.com/packhouse/packline/internal/config"
	obsmetrics "github.com/packhouse/packline/internal/observability/metrics"
	packagingrepository "github.com/packhouse/packline/internal/packaging/repository"
	"github.com/packhouse/packline/internal/store"
	"github.com/packhouse/packline/internal/store/memstore"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// schedulerEnv runs the real archival pipeline against an in-memory store
// and a SQLite-backed warmup queue, with time controlled by a fake clock.
type schedulerEnv struct {
	store    *memstore.Store
	db       *gorm.DB
	queue    archivedomain.QueueRepository
	clock    *clock.FakeClock
	sched    *Scheduler
	registry *prometheus.Registry
}

func newSchedulerEnv(t *testing.T, start time.Time) *schedulerEnv {
	t.Helper()

	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	t.Cleanup(restore)

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "packline",
		Environment: "test",
	})

	st := memstore.New()
	st.Unique("packaging_caches", "cache_date")
	st.Seed("products",
		store.Record{"id": "prod-1", "barcode": "8990001", "name": "Soap", "product_type": "single"},
		store.Record{"id": "prod-2", "barcode": "8990002", "name": "Towel", "product_type": "single"},
	)

	db := newSchedulerDB(t)
	queue := archiverepository.ProvideQueue(db)

	node, err := snowflake.NewNode(2)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	archiveCfg := config.DefaultArchiveConfig()
	archiveCfg.RetryBaseDelay = time.Millisecond
	holder := config.NewStaticArchiveConfigHolder(archiveCfg)
	fakeClock := clock.NewFakeClock(start)

	svc := archiveservice.New(archiveservice.Params{
		Log:       zap.NewNop(),
		Packaging: packagingrepository.Provide(st, nil, nil),
		Catalog: catalogservice.New(catalogservice.Params{
			Log:           zap.NewNop(),
			Repo:          catalogrepository.Provide(st, nil),
			ResolverCache: cache.NewCatalogResolverCache(),
		}),
		Cache:  archiverepository.ProvideCache(st),
		Queue:  queue,
		Holder: holder,
		Clock:  fakeClock,
		GenID:  node,
	})

	sched, err := New(Params{
		DB:         db,
		Log:        zap.NewNop(),
		ArchiveSvc: svc,
		Queue:      queue,
		Holder:     holder,
		GenID:      node,
		Clock:      fakeClock,
	})
	if err != nil {
		t.Fatalf("build scheduler: %v", err)
	}

	return &schedulerEnv{
		store:    st,
		db:       db,
		queue:    queue,
		clock:    fakeClock,
		sched:    sched,
		registry: registry,
	}
}

func newSchedulerDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	stripLocks := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	if err := db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", stripLocks); err != nil {
		t.Fatalf("register query callback: %v", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", stripLocks); err != nil {
		t.Fatalf("register row callback: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.Exec(`
		CREATE TABLE warmup_requests (
			id TEXT PRIMARY KEY,
			archive_date TEXT,
			start_date TEXT,
			end_date TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			last_error TEXT,
			summary TEXT,
			created_at DATETIME,
			updated_at DATETIME,
			started_at DATETIME,
			completed_at DATETIME
		)
	`).Error; err != nil {
		t.Fatalf("create warmup_requests table: %v", err)
	}

	return db
}

// seedPackagingDay adds one waybill with two scans for the given date.
func seedPackagingDay(st *memstore.Store, date string) {
	st.Seed("packaging_records",
		store.Record{"id": "rec-" + date, "packaging_date": date, "waybill_number": "WB-" + date},
	)
	st.Seed("packaging_items",
		store.Record{"id": "item-" + date + "-1", "packaging_record_id": "rec-" + date, "product_barcode": "8990001", "scanned_at": date + "T08:00:00Z"},
		store.Record{"id": "item-" + date + "-2", "packaging_record_id": "rec-" + date, "product_barcode": "8990002", "scanned_at": date + "T09:00:00Z"},
	)
}

func TestDailyArchiveRunsOncePerDay(t *testing.T) {
	e := newSchedulerEnv(t, time.Date(2024, 5, 2, 1, 0, 0, 0, time.UTC))
	seedPackagingDay(e.store, "2024-05-01")
	seedPackagingDay(e.store, "2024-05-02")

	// Before the configured hour the daily job does nothing.
	if err := e.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if rows := e.store.All("packaging_caches"); len(rows) != 0 {
		t.Fatalf("expected no cache rows before daily hour, got %d", len(rows))
	}

	// Past the hour yesterday gets archived.
	e.clock.Set(time.Date(2024, 5, 2, 2, 30, 0, 0, time.UTC))
	if err := e.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	rows := e.store.All("packaging_caches")
	if len(rows) != 1 {
		t.Fatalf("expected one cache row, got %d", len(rows))
	}
	if rows[0]["cache_date"] != "2024-05-01" {
		t.Fatalf("expected yesterday cached, got %v", rows[0]["cache_date"])
	}

	// A later tick on the same day does not archive again.
	e.clock.Advance(time.Hour)
	if err := e.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if creates := e.store.Calls("create", "packaging_caches"); creates != 1 {
		t.Fatalf("expected a single cache insert, got %d", creates)
	}

	// The next day archives the next date.
	e.clock.Set(time.Date(2024, 5, 3, 2, 5, 0, 0, time.UTC))
	if err := e.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if rows := e.store.All("packaging_caches"); len(rows) != 2 {
		t.Fatalf("expected two cache rows, got %d", len(rows))
	}

	processedLabels := map[string]string{
		"service":  "packline",
		"env":      "test",
		"job":      "daily_archive",
		"resource": "archive_dates",
	}
	if got := getCounterValue(t, e.registry, "packline_scheduler_batch_processed_total", processedLabels); got != 2 {
		t.Fatalf("expected two processed dates, got %v", got)
	}
}

func TestWarmupQueueDrainsToCompleted(t *testing.T) {
	e := newSchedulerEnv(t, time.Date(2024, 5, 2, 1, 0, 0, 0, time.UTC))
	seedPackagingDay(e.store, "2024-05-01")

	date := "2024-05-01"
	req := &archivedomain.WarmupRequest{
		ID:          "req-1",
		ArchiveDate: &date,
		Status:      archivedomain.WarmupStatusPending,
		CreatedAt:   e.clock.Now(),
		UpdatedAt:   e.clock.Now(),
	}
	if err := e.queue.Enqueue(context.Background(), req); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := e.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	stored, err := e.queue.FindByID(context.Background(), "req-1")
	if err != nil {
		t.Fatalf("find request: %v", err)
	}
	if stored == nil || stored.Status != archivedomain.WarmupStatusCompleted {
		t.Fatalf("expected completed request, got %+v", stored)
	}
	if stored.CompletedAt == nil {
		t.Fatalf("expected completion timestamp, got %+v", stored)
	}

	var summary archivedomain.Summary
	if err := json.Unmarshal([]byte(stored.Summary), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Dates != 1 || summary.Succeeded != 1 || summary.Cached != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if rows := e.store.All("packaging_caches"); len(rows) != 1 {
		t.Fatalf("expected warmed cache row, got %d", len(rows))
	}

	processedLabels := map[string]string{
		"service":  "packline",
		"env":      "test",
		"job":      "warmup_requests",
		"resource": "warmup_requests",
	}
	if got := getCounterValue(t, e.registry, "packline_scheduler_batch_processed_total", processedLabels); got != 1 {
		t.Fatalf("expected one processed request, got %v", got)
	}
}

func TestWarmupQueueRecordsPerRequestFailure(t *testing.T) {
	e := newSchedulerEnv(t, time.Date(2024, 5, 2, 1, 0, 0, 0, time.UTC))
	seedPackagingDay(e.store, "2024-05-01")

	// A request whose stored date became invalid relative to the clock
	// still fails in isolation while its sibling completes.
	future := "2030-01-01"
	good := "2024-05-01"
	base := e.clock.Now()
	for i, req := range []*archivedomain.WarmupRequest{
		{ID: "req-bad", ArchiveDate: &future, Status: archivedomain.WarmupStatusPending},
		{ID: "req-good", ArchiveDate: &good, Status: archivedomain.WarmupStatusPending},
	} {
		req.CreatedAt = base.Add(time.Duration(i) * time.Second)
		req.UpdatedAt = req.CreatedAt
		if err := e.queue.Enqueue(context.Background(), req); err != nil {
			t.Fatalf("enqueue %s: %v", req.ID, err)
		}
	}

	err := e.sched.RunOnce(context.Background())
	if err == nil {
		t.Fatal("expected joined warmup failure")
	}
	if !strings.Contains(err.Error(), archivedomain.ErrFutureDate.Error()) {
		t.Fatalf("expected future date cause, got %v", err)
	}

	bad, err := e.queue.FindByID(context.Background(), "req-bad")
	if err != nil {
		t.Fatalf("find failed request: %v", err)
	}
	if bad == nil || bad.Status != archivedomain.WarmupStatusFailed {
		t.Fatalf("expected failed request, got %+v", bad)
	}
	if !strings.Contains(bad.LastError, archivedomain.ErrFutureDate.Error()) {
		t.Fatalf("expected persisted cause, got %q", bad.LastError)
	}

	goodRow, err := e.queue.FindByID(context.Background(), "req-good")
	if err != nil {
		t.Fatalf("find completed request: %v", err)
	}
	if goodRow == nil || goodRow.Status != archivedomain.WarmupStatusCompleted {
		t.Fatalf("expected completed sibling, got %+v", goodRow)
	}
}

func TestRecoverySweepRequeuesStaleRequests(t *testing.T) {
	e := newSchedulerEnv(t, time.Date(2024, 5, 2, 1, 0, 0, 0, time.UTC))
	seedPackagingDay(e.store, "2024-05-01")

	date := "2024-05-01"
	staleStart := e.clock.Now().Add(-20 * time.Minute)
	freshStart := e.clock.Now().Add(-5 * time.Minute)
	for _, req := range []archivedomain.WarmupRequest{
		{ID: "req-stale", ArchiveDate: &date, Status: archivedomain.WarmupStatusProcessing, CreatedAt: staleStart, UpdatedAt: staleStart, StartedAt: &staleStart},
		{ID: "req-fresh", ArchiveDate: &date, Status: archivedomain.WarmupStatusProcessing, CreatedAt: freshStart, UpdatedAt: freshStart, StartedAt: &freshStart},
	} {
		if err := e.db.Create(&req).Error; err != nil {
			t.Fatalf("seed %s: %v", req.ID, err)
		}
	}

	// The first pass has nothing to claim and only returns the stale
	// row to pending.
	if err := e.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	stale, err := e.queue.FindByID(context.Background(), "req-stale")
	if err != nil {
		t.Fatalf("find stale request: %v", err)
	}
	if stale == nil || stale.Status != archivedomain.WarmupStatusPending {
		t.Fatalf("expected requeued request, got %+v", stale)
	}
	if stale.StartedAt != nil {
		t.Fatalf("expected cleared claim marker, got %v", stale.StartedAt)
	}

	fresh, err := e.queue.FindByID(context.Background(), "req-fresh")
	if err != nil {
		t.Fatalf("find fresh request: %v", err)
	}
	if fresh == nil || fresh.Status != archivedomain.WarmupStatusProcessing {
		t.Fatalf("expected fresh request untouched, got %+v", fresh)
	}

	deferredLabels := map[string]string{
		"service": "packline",
		"env":     "test",
		"job":     "warmup_requests",
		"reason":  obsmetrics.SchedulerBatchDeferredReasonSkipLockedEmpty,
	}
	if got := getCounterValue(t, e.registry, "packline_scheduler_batch_deferred_total", deferredLabels); got != 1 {
		t.Fatalf("expected one deferred drain, got %v", got)
	}

	// The next drain claims the requeued row and completes it.
	if err := e.sched.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	stale, err = e.queue.FindByID(context.Background(), "req-stale")
	if err != nil {
		t.Fatalf("find requeued request: %v", err)
	}
	if stale == nil || stale.Status != archivedomain.WarmupStatusCompleted {
		t.Fatalf("expected completed request after requeue, got %+v", stale)
	}

	movedLabels := map[string]string{
		"service":  "packline",
		"env":      "test",
		"job":      "recovery_sweep",
		"resource": "warmup_requests",
	}
	if got := getCounterValue(t, e.registry, "packline_scheduler_batch_processed_total", movedLabels); got != 1 {
		t.Fatalf("expected one requeued request, got %v", got)
	}
}
