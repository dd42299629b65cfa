package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"creator-booking/pkg/config"
	"creator-booking/pkg/db"
	"creator-booking/pkg/hashistack/secretmanager"
	"creator-booking/pkg/logger"
	"creator-booking/pkg/otelcol"
	"creator-booking/pkg/profiling"
	"creator-booking/pkg/redis"
	"creator-booking/pkg/task"
	"creator-booking/services/linkage"
	"creator-booking/services/reconciliation"
)

// worker runs linkage retries and the periodic sweep that feeds them.
func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		task.Client,
		task.Server,

		linkage.Module,
		linkage.Worker,
		reconciliation.Worker,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger}
	}
	return fxevent.NopLogger
})
