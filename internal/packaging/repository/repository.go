package repository

import (
	"context"

	"github.com/packhouse/packline/internal/observability/metrics"
	"github.com/packhouse/packline/internal/packaging/domain"
	"github.com/packhouse/packline/internal/ratelimit"
	"github.com/packhouse/packline/internal/store"
)

const (
	collectionRecords = "packaging_records"
	collectionItems   = "packaging_items"

	// Item lookups chunk the record id membership filter the same way the
	// product resolver chunks barcodes.
	recordIDChunkSize = 50
)

type repo struct {
	recordPager *store.Pager
	itemPager   *store.Pager
	itemPacer   store.Pacer
}

func Provide(st store.Store, pacer store.Pacer, m *metrics.Metrics) domain.Repository {
	itemPacer := ratelimit.Instrument(pacer, m, collectionItems)
	return &repo{
		recordPager: store.NewPager(st, ratelimit.Instrument(pacer, m, collectionRecords)),
		itemPager:   store.NewPager(st, itemPacer),
		itemPacer:   itemPacer,
	}
}

func (r *repo) FindRecordsByDate(ctx context.Context, date string) ([]domain.PackagingRecord, error) {
	records, err := r.recordPager.ListAll(ctx, collectionRecords, store.Query{
		Filter: map[string]any{"packaging_date": date},
		Sort:   "id asc",
		Limit:  store.MaxListLimit,
	})
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[domain.PackagingRecord](records)
}

func (r *repo) FindItemsByRecordIDs(ctx context.Context, recordIDs []string) ([]domain.PackagingItem, error) {
	items := make([]domain.PackagingItem, 0)
	for start := 0; start < len(recordIDs); start += recordIDChunkSize {
		if start > 0 && r.itemPacer != nil {
			if err := r.itemPacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		end := start + recordIDChunkSize
		if end > len(recordIDs) {
			end = len(recordIDs)
		}
		chunk := recordIDs[start:end]

		page, err := r.itemPager.ListAll(ctx, collectionItems, store.Query{
			Filter: map[string]any{"packaging_record_id": chunk},
			Sort:   "id asc",
			Limit:  store.MaxListLimit,
		})
		if err != nil {
			return nil, err
		}

		decoded, err := store.DecodeAll[domain.PackagingItem](page)
		if err != nil {
			return nil, err
		}
		items = append(items, decoded...)
	}
	return items, nil
}
