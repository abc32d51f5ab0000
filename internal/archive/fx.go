package archive

import (
	"context"
	"fmt"
	"net/http"

	"github.com/smallbiznis/atlas/internal/config"
	obstracing "github.com/smallbiznis/atlas/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("archive",
	fx.Provide(NewStoreFromConfig),
	fx.Provide(func(cfg config.Config) (*Codec, error) {
		return NewCodec(cfg.Archive.Compression)
	}),
	fx.Provide(func(store ObjectStore, codec *Codec, log *zap.Logger, cfg config.Config) *Merger {
		return NewMerger(store, codec, log, cfg.Archive.KeepVersions)
	}),
	fx.Provide(NewReader),
)

// NewStoreFromConfig selects the object store backend named by
// ARCHIVE_BACKEND.
func NewStoreFromConfig(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (ObjectStore, error) {
	switch cfg.Archive.Backend {
	case "", "fs":
		log.Info("archive backend", zap.String("backend", "fs"), zap.String("path", cfg.Archive.LocalPath))
		return NewFSStore(cfg.Archive.LocalPath)
	case "s3":
		log.Info("archive backend", zap.String("backend", "s3"), zap.String("bucket", cfg.Archive.S3Bucket))
		return NewS3Store(S3Config{
			Endpoint:  cfg.Archive.S3Endpoint,
			Region:    cfg.Archive.S3Region,
			Bucket:    cfg.Archive.S3Bucket,
			AccessKey: cfg.Archive.S3AccessKey,
			SecretKey: cfg.Archive.S3SecretKey,
			UseSSL:    cfg.Archive.S3UseSSL,
			Transport: obstracing.WrapHTTPClient(&http.Client{Transport: http.DefaultTransport}).Transport,
		})
	case "badger":
		log.Info("archive backend", zap.String("backend", "badger"), zap.String("path", cfg.Archive.BadgerPath))
		store, err := NewBadgerStore(BadgerConfig{Path: cfg.Archive.BadgerPath}, log)
		if err != nil {
			return nil, err
		}
		if lc != nil {
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error { return store.Close() },
			})
		}
		return store, nil
	default:
		return nil, fmt.Errorf("archive: unsupported backend %q", cfg.Archive.Backend)
	}
}
