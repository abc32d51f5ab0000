package db

import (
	"context"
	"strings"
	"time"

	"github.com/smallbiznis/atlas/internal/config"
	obslogger "github.com/smallbiznis/atlas/internal/observability/logger"
	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	gormprometheus "gorm.io/plugin/prometheus"
)

var Module = fx.Module("db",
	fx.Provide(New),
)

// New opens the row store, applies pool settings and installs the tracing
// and stats plugins.
func New(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*gorm.DB, error) {
	dialector, err := Dialect(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         obslogger.NewGormLogger(log, gormConfig(cfg)),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	if err := db.Use(otelgorm.NewPlugin(otelgorm.WithDBName(cfg.DBName))); err != nil {
		return nil, err
	}
	if !strings.HasPrefix(strings.ToLower(cfg.DBType), "sqlite") {
		if err := db.Use(gormprometheus.New(gormprometheus.Config{
			DBName:          cfg.DBName,
			RefreshInterval: 15,
			StartServer:     false,
		})); err != nil {
			return nil, err
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConn)
	sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.DBConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.DBConnMaxIdleTime) * time.Second)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				pingCtx, cancel := context.WithTimeout(ctx, cfg.DBTimeout)
				defer cancel()
				return sqlDB.PingContext(pingCtx)
			},
			OnStop: func(context.Context) error {
				log.Info("closing database")
				return sqlDB.Close()
			},
		})
	}
	log.Info("database configured", zap.String("type", cfg.DBType), zap.String("name", cfg.DBName))
	return db, nil
}

func gormConfig(cfg config.Config) obslogger.GormLoggerConfig {
	out := obslogger.DefaultGormLoggerConfig()
	out.SlowThreshold = cfg.DBSlowQuery
	if cfg.Environment == "development" {
		out.Level = gormlogger.Info
	}
	return out
}
