package migration

import (
	"github.com/smallbiznis/atlas/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		if !cfg.MigrateOnStart {
			return nil
		}
		if err := Apply(conn, cfg.DBType); err != nil {
			return err
		}
		log.Info("schema migrated", zap.String("db_type", cfg.DBType))
		return nil
	}),
)
