package service

import (
	"sort"

	archivedomain "github.com/packhouse/packline/internal/archive/domain"
	catalogdomain "github.com/packhouse/packline/internal/catalog/domain"
	packagingdomain "github.com/packhouse/packline/internal/packaging/domain"
)

// Assemble joins each packaging record with its scanned items and the
// resolved product data, newest scan first. It performs no I/O, so a
// record whose items reference unresolved barcodes still assembles with
// the unknown-product fallback.
func Assemble(
	records []packagingdomain.PackagingRecord,
	items []packagingdomain.PackagingItem,
	products map[string]catalogdomain.Product,
	bundles map[string][]catalogdomain.BundleComponent,
) []archivedomain.EnrichedPackagingRecord {
	grouped := make(map[string][]archivedomain.EnrichedPackagingItem, len(records))
	for _, item := range items {
		grouped[item.PackagingRecordID] = append(grouped[item.PackagingRecordID], enrichItem(item, products, bundles))
	}

	enriched := make([]archivedomain.EnrichedPackagingRecord, 0, len(records))
	for _, record := range records {
		recordItems := grouped[record.ID]
		sort.SliceStable(recordItems, func(i, j int) bool {
			return recordItems[i].ScannedAt.After(recordItems[j].ScannedAt)
		})
		if recordItems == nil {
			// A record with no scans still serializes with an empty
			// items array, not null.
			recordItems = []archivedomain.EnrichedPackagingItem{}
		}

		enriched = append(enriched, archivedomain.EnrichedPackagingRecord{
			PackagingRecord: record,
			Items:           recordItems,
		})
	}

	return enriched
}

func enrichItem(
	item packagingdomain.PackagingItem,
	products map[string]catalogdomain.Product,
	bundles map[string][]catalogdomain.BundleComponent,
) archivedomain.EnrichedPackagingItem {
	out := archivedomain.EnrichedPackagingItem{
		PackagingItem: item,
		ProductName:   catalogdomain.UnknownProductName,
	}

	product, ok := products[item.ProductBarcode]
	if !ok {
		return out
	}

	out.ProductName = product.Name
	if !product.IsBundle() {
		return out
	}

	out.IsBundle = true
	if components := bundles[item.ProductBarcode]; len(components) > 0 {
		out.BundleComponents = components
	}

	return out
}
