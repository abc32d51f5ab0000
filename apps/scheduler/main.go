package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atlas/internal/archive"
	"github.com/smallbiznis/atlas/internal/clock"
	"github.com/smallbiznis/atlas/internal/config"
	"github.com/smallbiznis/atlas/internal/float"
	"github.com/smallbiznis/atlas/internal/lease"
	"github.com/smallbiznis/atlas/internal/migration"
	"github.com/smallbiznis/atlas/internal/observability"
	"github.com/smallbiznis/atlas/internal/processinglog"
	"github.com/smallbiznis/atlas/internal/projector"
	"github.com/smallbiznis/atlas/internal/source"
	"github.com/smallbiznis/atlas/internal/syncer"
	"github.com/smallbiznis/atlas/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		source.Module,
		archive.Module,
		float.Module,
		processinglog.Module,
		projector.Module,
		lease.Module,
		syncer.Module,

		// No server module.
		syncer.LoopModule,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
