package float

import (
	"github.com/smallbiznis/atlas/internal/float/repository"
	"github.com/smallbiznis/atlas/internal/float/service"
	"go.uber.org/fx"
)

var Module = fx.Module("float.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
