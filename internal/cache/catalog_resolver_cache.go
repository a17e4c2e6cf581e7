package cache

import (
	"strings"
	"time"

	catalogdomain "github.com/packhouse/packline/internal/catalog/domain"
)

const (
	defaultProductTTL   = 10 * time.Minute
	defaultComponentTTL = 10 * time.Minute
)

// CatalogResolverCache stores hot-path catalog lookups for archival runs.
// Products are keyed by barcode, bundle recipes by the parent product id.
type CatalogResolverCache interface {
	GetProduct(barcode string) (catalogdomain.Product, bool)
	SetProduct(barcode string, product catalogdomain.Product)
	GetBundleComponents(parentProductID string) ([]catalogdomain.BundleComponent, bool)
	SetBundleComponents(parentProductID string, components []catalogdomain.BundleComponent)
}

type catalogResolverCache struct {
	products     Cache[string, catalogdomain.Product]
	components   Cache[string, []catalogdomain.BundleComponent]
	productTTL   time.Duration
	componentTTL time.Duration
}

// NewCatalogResolverCache returns an in-memory cache tuned for archival runs.
func NewCatalogResolverCache() CatalogResolverCache {
	return &catalogResolverCache{
		products:     NewTTLCache[string, catalogdomain.Product](),
		components:   NewTTLCache[string, []catalogdomain.BundleComponent](),
		productTTL:   defaultProductTTL,
		componentTTL: defaultComponentTTL,
	}
}

func (c *catalogResolverCache) GetProduct(barcode string) (catalogdomain.Product, bool) {
	return c.products.Get(cacheKey(barcode))
}

func (c *catalogResolverCache) SetProduct(barcode string, product catalogdomain.Product) {
	if product.ID == "" {
		return
	}
	c.products.Set(cacheKey(barcode), product, c.productTTL)
}

func (c *catalogResolverCache) GetBundleComponents(parentProductID string) ([]catalogdomain.BundleComponent, bool) {
	return c.components.Get(cacheKey(parentProductID))
}

func (c *catalogResolverCache) SetBundleComponents(parentProductID string, components []catalogdomain.BundleComponent) {
	if len(components) == 0 {
		return
	}
	c.components.Set(cacheKey(parentProductID), components, c.componentTTL)
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
