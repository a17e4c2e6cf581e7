package domain

import "context"

type Service interface {
	// ResolveProducts maps each barcode to its product. Misses are absent
	// from the map, never an error.
	ResolveProducts(ctx context.Context, barcodes []string) (map[string]Product, error)

	// ResolveBundles expands every bundle in the resolved product map into
	// its ordered component list, keyed by the bundle's barcode. Bundles
	// that fail to expand, or expand to nothing, are absent from the map.
	ResolveBundles(ctx context.Context, products map[string]Product) (map[string][]BundleComponent, error)
}
