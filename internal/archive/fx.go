package archive

import (
	"github.com/packhouse/packline/internal/archive/repository"
	"github.com/packhouse/packline/internal/archive/service"
	"go.uber.org/fx"
)

var Module = fx.Module("archive.service",
	fx.Provide(repository.ProvideCache),
	fx.Provide(repository.ProvideQueue),
	fx.Provide(service.New),
)
