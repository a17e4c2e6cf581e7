package gormstore

import "go.uber.org/fx"

var Module = fx.Module("store.gorm",
	fx.Provide(New),
)
