package repository

import (
	"context"
	"fmt"

	"github.com/packhouse/packline/internal/catalog/domain"
	"github.com/packhouse/packline/internal/store"
)

const (
	collectionProducts   = "products"
	collectionComponents = "product_components"

	// Lookup chunks stay well below the backend's 100 row response cap so a
	// full chunk is never mistaken for a truncated one.
	barcodeChunkSize = 50
)

type repo struct {
	store    store.Store
	resolver *store.Resolver
}

func Provide(st store.Store, pacer store.Pacer) domain.Repository {
	return &repo{store: st, resolver: store.NewResolver(st, pacer)}
}

func (r *repo) FindByBarcodes(ctx context.Context, barcodes []string) (map[string]domain.Product, error) {
	records, err := r.resolver.Lookup(ctx, collectionProducts, "barcode", barcodes, barcodeChunkSize)
	if err != nil {
		return nil, err
	}

	products := make(map[string]domain.Product, len(records))
	for barcode, rec := range records {
		product, err := store.Decode[domain.Product](rec)
		if err != nil {
			return nil, fmt.Errorf("decode product %s: %w", barcode, err)
		}
		products[barcode] = product
	}
	return products, nil
}

func (r *repo) FindByID(ctx context.Context, id string) (*domain.Product, error) {
	rec, err := r.store.Get(ctx, collectionProducts, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}

	product, err := store.Decode[domain.Product](rec)
	if err != nil {
		return nil, fmt.Errorf("decode product %s: %w", id, err)
	}
	return &product, nil
}

func (r *repo) FindComponents(ctx context.Context, parentProductID string) ([]domain.ProductComponent, error) {
	records, err := r.store.List(ctx, collectionComponents, store.Query{
		Filter: map[string]any{"parent_product_id": parentProductID},
		Sort:   "id asc",
		Limit:  store.MaxListLimit,
	})
	if err != nil {
		return nil, err
	}
	return store.DecodeAll[domain.ProductComponent](records)
}
