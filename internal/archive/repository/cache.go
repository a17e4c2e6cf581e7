package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/packhouse/packline/internal/archive/domain"
	"github.com/packhouse/packline/internal/store"
)

const collectionCaches = "packaging_caches"

type cacheRepo struct {
	store store.Store
}

func ProvideCache(st store.Store) domain.CacheRepository {
	return &cacheRepo{store: st}
}

func (r *cacheRepo) FindByDate(ctx context.Context, date string) (*domain.PackagingCache, error) {
	page, err := r.store.List(ctx, collectionCaches, store.Query{
		Filter: map[string]any{"cache_date": date},
		Limit:  1,
	})
	if err != nil {
		return nil, err
	}
	if len(page) == 0 {
		return nil, nil
	}

	row, err := store.Decode[domain.PackagingCache](page[0])
	if err != nil {
		return nil, fmt.Errorf("decode cache %s: %w", date, err)
	}
	return &row, nil
}

// Upsert looks up the date's row before writing, that lookup is the
// idempotency mechanism. The read-then-write is not transactional, so a
// concurrent same-date insert can still trip the cache_date uniqueness
// constraint and surface as store.ErrConflict.
func (r *cacheRepo) Upsert(ctx context.Context, date string, records []domain.EnrichedPackagingRecord, now time.Time) (string, error) {
	payload, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("serialize archive %s: %w", date, err)
	}

	existing, err := r.FindByDate(ctx, date)
	if err != nil {
		return "", err
	}

	fields := store.Record{
		"cache_date": date,
		"data":       string(payload),
		"cached_at":  now.UTC(),
	}
	if existing != nil {
		if _, err := r.store.Update(ctx, collectionCaches, existing.ID, fields); err != nil {
			return "", err
		}
		return "update", nil
	}
	if _, err := r.store.Create(ctx, collectionCaches, fields); err != nil {
		return "", err
	}
	return "insert", nil
}
