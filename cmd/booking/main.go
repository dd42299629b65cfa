package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"creator-booking/pkg/config"
	"creator-booking/pkg/db"
	"creator-booking/pkg/featureflags"
	"creator-booking/pkg/gen"
	"creator-booking/pkg/hashistack/secretmanager"
	"creator-booking/pkg/health"
	"creator-booking/pkg/httpapi"
	"creator-booking/pkg/identity"
	"creator-booking/pkg/logger"
	"creator-booking/pkg/otelcol"
	"creator-booking/pkg/processor"
	"creator-booking/pkg/profiling"
	"creator-booking/pkg/redis"
	"creator-booking/pkg/server"
	"creator-booking/pkg/task"
	"creator-booking/services/allocation"
	"creator-booking/services/booking"
	"creator-booking/services/catalog"
	"creator-booking/services/linkage"
	"creator-booking/services/paymentlink"
	"creator-booking/services/reconciliation"
	"creator-booking/services/routing"
)

func main() {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		gen.Module,
		task.Client,
		identity.Module,
		featureflags.Module,
		processor.Module,
		health.Module,
		httpapi.Module,
		server.ProvideHTTPServer,

		catalog.Module,
		allocation.Module,
		routing.Module,
		booking.Module,
		linkage.Module,
		reconciliation.Module,
		paymentlink.Module,
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
