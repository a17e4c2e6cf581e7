package service

import (
	"context"
	"sort"

	"github.com/packhouse/packline/internal/cache"
	"github.com/packhouse/packline/internal/catalog/domain"
	"github.com/packhouse/packline/internal/observability/metrics"
	"github.com/packhouse/packline/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log           *zap.Logger
	Repo          domain.Repository
	ResolverCache cache.CatalogResolverCache
	Pacer         store.Pacer
	Metrics       *metrics.Metrics
}

type Service struct {
	log           *zap.Logger
	repo          domain.Repository
	resolverCache cache.CatalogResolverCache
	pacer         store.Pacer
	metrics       *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		log:           p.Log.Named("catalog.service"),
		repo:          p.Repo,
		resolverCache: p.ResolverCache,
		pacer:         p.Pacer,
		metrics:       p.Metrics,
	}
}

func (s *Service) ResolveProducts(ctx context.Context, barcodes []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(barcodes))
	missing := make([]string, 0, len(barcodes))
	seen := make(map[string]struct{}, len(barcodes))

	for _, barcode := range barcodes {
		if barcode == "" {
			continue
		}
		if _, ok := seen[barcode]; ok {
			continue
		}
		seen[barcode] = struct{}{}

		if product, ok := s.resolverCache.GetProduct(barcode); ok {
			products[barcode] = product
			s.metrics.RecordProductLookup(ctx, "cache", "hit")
			continue
		}
		missing = append(missing, barcode)
	}

	if len(missing) == 0 {
		return products, nil
	}

	fetched, err := s.repo.FindByBarcodes(ctx, missing)
	if err != nil {
		return nil, err
	}

	for _, barcode := range missing {
		product, ok := fetched[barcode]
		if !ok {
			s.metrics.RecordProductLookup(ctx, "store", "miss")
			continue
		}
		products[barcode] = product
		s.resolverCache.SetProduct(barcode, product)
		s.metrics.RecordProductLookup(ctx, "store", "hit")
	}
	return products, nil
}

func (s *Service) ResolveBundles(ctx context.Context, products map[string]domain.Product) (map[string][]domain.BundleComponent, error) {
	bundles := make([]domain.Product, 0)
	for _, product := range products {
		if product.IsBundle() {
			bundles = append(bundles, product)
		}
	}
	sort.Slice(bundles, func(i, j int) bool { return bundles[i].Barcode < bundles[j].Barcode })

	components := make(map[string][]domain.BundleComponent, len(bundles))
	for i, bundle := range bundles {
		if i > 0 && s.pacer != nil {
			if err := s.pacer.Wait(ctx); err != nil {
				return nil, err
			}
		}

		resolved, err := s.expandBundle(ctx, bundle)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Historical items may reference bundles whose recipes are
			// broken. The bundle is dropped from the map, not the run.
			s.log.Warn("bundle expansion failed",
				zap.String("barcode", bundle.Barcode),
				zap.String("product_id", bundle.ID),
				zap.Error(err))
			s.metrics.RecordBundleExpansion(ctx, "error")
			continue
		}
		if len(resolved) == 0 {
			s.metrics.RecordBundleExpansion(ctx, "empty")
			continue
		}

		components[bundle.Barcode] = resolved
		s.metrics.RecordBundleExpansion(ctx, "resolved")
	}
	return components, nil
}

func (s *Service) expandBundle(ctx context.Context, bundle domain.Product) ([]domain.BundleComponent, error) {
	if cached, ok := s.resolverCache.GetBundleComponents(bundle.ID); ok {
		return cached, nil
	}

	links, err := s.repo.FindComponents(ctx, bundle.ID)
	if err != nil {
		return nil, err
	}

	resolved := make([]domain.BundleComponent, 0, len(links))
	for _, link := range links {
		child, err := s.repo.FindByID(ctx, link.ChildProductID)
		if err != nil {
			return nil, err
		}
		if child == nil {
			s.log.Debug("bundle component references missing product",
				zap.String("bundle_barcode", bundle.Barcode),
				zap.String("child_product_id", link.ChildProductID))
			continue
		}
		resolved = append(resolved, domain.BundleComponent{
			Barcode:     child.Barcode,
			ProductName: child.Name,
			Quantity:    link.Quantity,
		})
	}

	s.resolverCache.SetBundleComponents(bundle.ID, resolved)
	return resolved, nil
}
