// Package server exposes the float query surface and the sync trigger over
// HTTP.
package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/atlas/internal/archive"
	"github.com/smallbiznis/atlas/internal/config"
	floatdomain "github.com/smallbiznis/atlas/internal/float/domain"
	"github.com/smallbiznis/atlas/internal/observability"
	obslogger "github.com/smallbiznis/atlas/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/atlas/internal/observability/metrics"
	obstracing "github.com/smallbiznis/atlas/internal/observability/tracing"
	plogdomain "github.com/smallbiznis/atlas/internal/processinglog/domain"
	"github.com/smallbiznis/atlas/internal/ratelimit"
	"github.com/smallbiznis/atlas/internal/syncer"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ProfileReader serves measurements from the archive.
type ProfileReader interface {
	Query(ctx context.Context, q archive.ProfileQuery) ([]archive.ProfilePoint, error)
}

// SyncTrigger runs a sync request to completion.
type SyncTrigger interface {
	Handle(ctx context.Context, req syncer.Request) (syncer.Response, error)
}

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(func(r *archive.Reader) ProfileReader { return r }),
	fx.Provide(NewServer),
	fx.Invoke(func(s *Server) { s.RegisterRoutes() }),
	fx.Invoke(RunHTTP),
)

// TriggerModule lets the API accept POST /v1/sync; without it the route
// answers 503.
var TriggerModule = fx.Module("http.sync_trigger",
	fx.Provide(func(s *syncer.Syncer) SyncTrigger { return s }),
)

func NewEngine(obsCfg observability.Config, metrics *obsmetrics.Metrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(QueryMetrics(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, cfg.HTTP.ShutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Params struct {
	fx.In

	Engine   *gin.Engine
	Config   config.Config
	Log      *zap.Logger
	Floats   floatdomain.Service
	Logs     plogdomain.Service
	Profiles ProfileReader
	Trigger  SyncTrigger               `optional:"true"`
	Limiter  *ratelimit.TriggerLimiter `optional:"true"`
}

type Server struct {
	engine   *gin.Engine
	cfg      config.Config
	log      *zap.Logger
	floats   floatdomain.Service
	logs     plogdomain.Service
	profiles ProfileReader
	trigger  SyncTrigger
	limiter  *ratelimit.TriggerLimiter
}

func NewServer(p Params) *Server {
	return &Server{
		engine:   p.Engine,
		cfg:      p.Config,
		log:      p.Log.Named("http"),
		floats:   p.Floats,
		logs:     p.Logs,
		profiles: p.Profiles,
		trigger:  p.Trigger,
		limiter:  p.Limiter,
	}
}

func (s *Server) RegisterRoutes() {
	v1 := s.engine.Group("/v1")
	v1.GET("/floats", s.ListFloats)
	v1.GET("/floats/:id", s.GetFloat)
	v1.GET("/floats/:id/profiles", s.GetProfiles)
	v1.GET("/processing-logs", s.ListProcessingLogs)
	v1.POST("/sync", s.SyncKeyAuth(), s.TriggerRateLimit(), s.TriggerSync)
}
