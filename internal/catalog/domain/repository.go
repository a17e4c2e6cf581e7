package domain

import "context"

type Repository interface {
	// FindByBarcodes resolves products in rate-limited chunks. Barcodes
	// with no matching product are absent from the returned map.
	FindByBarcodes(ctx context.Context, barcodes []string) (map[string]Product, error)

	// FindByID returns (nil, nil) when no product matches.
	FindByID(ctx context.Context, id string) (*Product, error)

	FindComponents(ctx context.Context, parentProductID string) ([]ProductComponent, error)
}
