package store

import (
	"context"
	"fmt"
)

// Resolver answers batched lookups against a single collection field using
// membership queries, pacing between chunks.
type Resolver struct {
	store Store
	pacer Pacer
}

// NewResolver builds a resolver over the given store.
func NewResolver(st Store, pacer Pacer) *Resolver {
	return &Resolver{store: st, pacer: pacer}
}

// Lookup resolves the given keys to records keyed by the field's value.
// Keys are deduplicated in first-seen order before chunking, misses are
// simply absent from the result. An empty key set performs no calls.
func (r *Resolver) Lookup(ctx context.Context, collection, field string, keys []string, chunkSize int) (map[string]Record, error) {
	deduped := dedupe(keys)
	if len(deduped) == 0 {
		return map[string]Record{}, nil
	}

	if chunkSize <= 0 || chunkSize > MaxListLimit {
		chunkSize = MaxListLimit
	}

	resolved := make(map[string]Record, len(deduped))
	for start := 0; start < len(deduped); start += chunkSize {
		if start > 0 && r.pacer != nil {
			if err := r.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		end := start + chunkSize
		if end > len(deduped) {
			end = len(deduped)
		}
		chunk := deduped[start:end]

		page, err := r.store.List(ctx, collection, Query{
			Filter: map[string]any{field: chunk},
			Limit:  len(chunk),
		})
		if err != nil {
			return nil, err
		}
		for _, rec := range page {
			key := fieldValue(rec, field)
			if key == "" {
				continue
			}
			resolved[key] = rec
		}
	}
	return resolved, nil
}

func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}

func fieldValue(rec Record, field string) string {
	raw, ok := rec[field]
	if !ok || raw == nil {
		return ""
	}
	if s, ok := raw.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", raw)
}
