package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/packhouse/packline/internal/archive"
	"github.com/packhouse/packline/internal/catalog"
	"github.com/packhouse/packline/internal/clock"
	"github.com/packhouse/packline/internal/config"
	"github.com/packhouse/packline/internal/migration"
	"github.com/packhouse/packline/internal/observability"
	"github.com/packhouse/packline/internal/packaging"
	"github.com/packhouse/packline/internal/ratelimit"
	"github.com/packhouse/packline/internal/scheduler"
	"github.com/packhouse/packline/internal/server"
	"github.com/packhouse/packline/internal/store/gormstore"
	"github.com/packhouse/packline/pkg/db"
)

// The default deployment: HTTP API and scheduler in one process.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		gormstore.Module,
		ratelimit.Module,
		catalog.Module,
		packaging.Module,
		archive.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
