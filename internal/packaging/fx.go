package packaging

import (
	"github.com/packhouse/packline/internal/packaging/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("packaging.reader",
	fx.Provide(repository.Provide),
)
