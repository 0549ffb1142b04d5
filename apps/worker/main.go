package main

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/facturo/internal/authority"
	"github.com/smallbiznis/facturo/internal/config"
	"github.com/smallbiznis/facturo/internal/invoice"
	"github.com/smallbiznis/facturo/internal/logger"
	"github.com/smallbiznis/facturo/internal/migration"
	"github.com/smallbiznis/facturo/internal/observability"
	"github.com/smallbiznis/facturo/internal/status"
	"github.com/smallbiznis/facturo/internal/verification"
	"github.com/smallbiznis/facturo/internal/verification/consumer"
	"github.com/smallbiznis/facturo/internal/verification/recovery"
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

		fx.Provide(provideConsumerConfig),
		fx.Provide(consumer.NewWorker),
		fx.Provide(recovery.NewWorker),

		// No server module!
		fx.Invoke(StartWorkers),
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

func provideConsumerConfig(cfg config.Config) consumer.Config {
	return consumer.Config{
		Workers:      cfg.Verifact.Workers,
		PollInterval: time.Duration(cfg.Verifact.PollInterval) * time.Second,
		MaxRetries:   cfg.Verifact.MaxRetries,
	}
}

func StartWorkers(lc fx.Lifecycle, c *consumer.Worker, r *recovery.Worker) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go c.RunForever(context.Background())
			go r.RunForever(context.Background())
			return nil
		},
	})
}
