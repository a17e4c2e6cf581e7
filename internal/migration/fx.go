package migration

import (
	"github.com/packhouse/packline/internal/config"
	"github.com/packhouse/packline/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		// The migrate driver speaks Postgres only. sqlite handles are for
		// tests, which create their schema directly.
		if cfg.DBType != "postgres" {
			return nil
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		version, err := RunMigrations(sqlDB)
		if err != nil {
			return err
		}
		log.Info("database schema up to date", zap.Uint("version", version))

		if cfg.Environment == "development" {
			return seed.EnsureDevFixtures(conn)
		}
		return nil
	}),
)
