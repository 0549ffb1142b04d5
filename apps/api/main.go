package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/facturo/internal/authority"
	"github.com/smallbiznis/facturo/internal/config"
	"github.com/smallbiznis/facturo/internal/invoice"
	"github.com/smallbiznis/facturo/internal/logger"
	"github.com/smallbiznis/facturo/internal/migration"
	"github.com/smallbiznis/facturo/internal/observability"
	"github.com/smallbiznis/facturo/internal/server"
	"github.com/smallbiznis/facturo/internal/status"
	"github.com/smallbiznis/facturo/internal/verification"
	"github.com/smallbiznis/facturo/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,

		verification.Module,
		authority.Module,
		status.Module,
		invoice.Module,

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
