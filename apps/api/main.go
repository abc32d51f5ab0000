package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/atlas/internal/archive"
	"github.com/smallbiznis/atlas/internal/clock"
	"github.com/smallbiznis/atlas/internal/config"
	"github.com/smallbiznis/atlas/internal/float"
	"github.com/smallbiznis/atlas/internal/migration"
	"github.com/smallbiznis/atlas/internal/observability"
	"github.com/smallbiznis/atlas/internal/processinglog"
	"github.com/smallbiznis/atlas/internal/server"
	"github.com/smallbiznis/atlas/pkg/db"
	"go.uber.org/fx"
)

// The API process serves queries only; POST /v1/sync answers 503 here.
func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		archive.Module,
		float.Module,
		processinglog.Module,

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
