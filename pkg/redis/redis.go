package redis

import (
	"context"
	"time"

	"creator-booking/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(New),
)

const dialBackoff = 2 * time.Second

// New returns a client shared by asynq and the catalog read cache. A
// cluster that never answers a ping is logged, not fatal: the webhook
// path must still accept deliveries.
func New(lc fx.Lifecycle, c *config.Config) *redis.Client {
	log := zap.L().With(zap.String("addr", c.Redis.Addr), zap.Int("db", c.Redis.DB))

	rdb := redis.NewClient(&redis.Options{
		Addr:        c.Redis.Addr,
		Password:    c.Redis.Password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		PoolTimeout: c.Redis.PoolTimeout,
	})

	if err := waitReady(rdb, c.Redis.DialRetries); err != nil {
		log.Warn("[Redis] not reachable, continuing", zap.Error(err))
	} else {
		log.Info("[Redis] connected")
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return rdb.Close()
		},
	})

	return rdb
}

func waitReady(rdb *redis.Client, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err = rdb.Ping(ctx).Err()
		cancel()
		if err == nil {
			return nil
		}
		zap.L().Debug("[Redis] ping failed", zap.Int("attempt", i+1), zap.Error(err))
		time.Sleep(dialBackoff)
	}
	return err
}
