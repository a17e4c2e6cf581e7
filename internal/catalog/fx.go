package catalog

import (
	"github.com/packhouse/packline/internal/cache"
	"github.com/packhouse/packline/internal/catalog/repository"
	"github.com/packhouse/packline/internal/catalog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("catalog.service",
	fx.Provide(cache.NewCatalogResolverCache),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
