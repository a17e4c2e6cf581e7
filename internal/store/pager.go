package store

import "context"

// Pacer spaces consecutive backend calls. Implementations live in
// internal/ratelimit.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Pager drains a collection page by page through a Store, pacing between
// fetches. The page window is clamped to MaxListLimit up front: a backend
// that silently clamps an oversized window would otherwise return a short
// page that looks like the end of the data.
type Pager struct {
	store Store
	pacer Pacer
}

// NewPager builds a pager over the given store.
func NewPager(st Store, pacer Pacer) *Pager {
	return &Pager{store: st, pacer: pacer}
}

// EachPage fetches pages for the query and hands each to fn. A page smaller
// than the window ends the scan; fn errors abort it. The query's Limit is the
// requested window and its Offset the starting position.
func (p *Pager) EachPage(ctx context.Context, collection string, q Query, fn func(page []Record) error) error {
	window := ClampLimit(q.Limit)
	offset := q.Offset

	for {
		pageQuery := q
		pageQuery.Limit = window
		pageQuery.Offset = offset

		page, err := p.store.List(ctx, collection, pageQuery)
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}

		if err := fn(page); err != nil {
			return err
		}
		if len(page) < window {
			return nil
		}

		offset += len(page)
		if p.pacer != nil {
			if err := p.pacer.Wait(ctx); err != nil {
				return err
			}
		}
	}
}

// ListAll drains the full result set for the query.
func (p *Pager) ListAll(ctx context.Context, collection string, q Query) ([]Record, error) {
	var all []Record
	err := p.EachPage(ctx, collection, q, func(page []Record) error {
		all = append(all, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}
