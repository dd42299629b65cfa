package task

import (
	"context"

	"creator-booking/pkg/config"
	"creator-booking/pkg/taskname"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Client = fx.Module("asynq:client",
	fx.Provide(newClient, NewEnqueuer),
)

func newClient(lc fx.Lifecycle, rdb *redis.Client) *asynq.Client {
	client := asynq.NewClientFromRedisClient(rdb)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})

	return client
}

// Server runs the asynq worker. Handlers register themselves on the
// provided mux from their own fx.Invoke.
var Server = fx.Module("asynq:server",
	fx.Provide(asynq.NewServeMux),
	fx.Invoke(runServer),
)

func queues() map[string]int {
	return map[string]int{
		taskname.QueueCritical: 6,
		taskname.QueueDefault:  3,
		taskname.QueueLow:      1,
	}
}

func runServer(lc fx.Lifecycle, cfg *config.Config, rdb *redis.Client, mux *asynq.ServeMux) {
	server := asynq.NewServerFromRedisClient(rdb, asynq.Config{
		Concurrency:     cfg.Worker.Concurrency,
		Queues:          queues(),
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, t *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			zap.L().Error("[Asynq] task failed",
				zap.String("task_type", t.Type()),
				zap.Int("retry", retried),
				zap.Int("max_retry", maxRetry),
				zap.Error(err),
			)
		}),
		HealthCheckFunc: func(err error) {
			if err != nil {
				zap.L().Warn("[Asynq] broker unhealthy", zap.Error(err))
			}
		},
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := server.Start(mux); err != nil {
				return err
			}
			zap.L().Info("[Asynq] worker started", zap.Int("concurrency", cfg.Worker.Concurrency))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.Shutdown()
			return nil
		},
	})
}
