package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"creator-booking/pkg/config"
	"creator-booking/pkg/db"
	"creator-booking/pkg/hashistack/secretmanager"
	"creator-booking/pkg/logger"
	"creator-booking/services/allocation"
	"creator-booking/services/booking"
	"creator-booking/services/catalog"
	"creator-booking/services/reconciliation"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "booking-ops",
		Short:   "Schema and demo data tooling for the booking service",
		Version: Version,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func models() []any {
	var out []any
	out = append(out, catalog.Models()...)
	out = append(out, allocation.Models()...)
	out = append(out, booking.Models()...)
	out = append(out, reconciliation.Models()...)
	return out
}

// run builds a one-shot app around the database and executes invoke.
func run(invoke any, extra ...fx.Option) error {
	opts := []fx.Option{
		secretmanager.Module,
		config.Module,
		logger.Module,
		db.Module,
		fx.NopLogger,
	}
	opts = append(opts, extra...)
	opts = append(opts, fx.Invoke(invoke))

	app := fx.New(opts...)
	if err := app.Err(); err != nil {
		return err
	}

	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		return err
	}
	return app.Stop(ctx)
}
