package verification

import (
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/facturo/internal/config"
	"github.com/smallbiznis/facturo/internal/observability/metrics"
	vdomain "github.com/smallbiznis/facturo/internal/verification/domain"
	"github.com/smallbiznis/facturo/internal/verification/queue"
)

// Module wires the queue backend and the publisher. Consumers are started
// by the worker binary, not here.
var Module = fx.Module("verification",
	fx.Provide(
		provideRedisClient,
		provideQueue,
		providePublisher,
	),
)

func provideRedisClient(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

func provideQueue(cfg config.Config, rdb *redis.Client, log *zap.Logger) (vdomain.Queue, error) {
	if cfg.Verifact.QueueBackend == "memory" {
		return queue.NewMemory(), nil
	}
	return queue.NewRedis(rdb, cfg.Verifact, log.Named("verification.queue"))
}

func providePublisher(q vdomain.Queue, m *metrics.Metrics, log *zap.Logger) *Publisher {
	return NewPublisher(q, m, log)
}
