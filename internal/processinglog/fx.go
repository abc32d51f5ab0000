package processinglog

import (
	"github.com/smallbiznis/atlas/internal/processinglog/repository"
	"github.com/smallbiznis/atlas/internal/processinglog/service"
	"go.uber.org/fx"
)

var Module = fx.Module("processinglog.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
