package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/packclaim/internal/clock"
	"github.com/smallbiznis/packclaim/internal/config"
	"github.com/smallbiznis/packclaim/internal/migration"
	"github.com/smallbiznis/packclaim/internal/observability"
	"github.com/smallbiznis/packclaim/internal/seed"
	"github.com/smallbiznis/packclaim/internal/server"
	"github.com/smallbiznis/packclaim/pkg/db"
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
		seed.Module,
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
