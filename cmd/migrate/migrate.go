package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update every table the booking service owns",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(func(db *gorm.DB) error {
				if err := db.AutoMigrate(models()...); err != nil {
					return fmt.Errorf("auto migrate: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrated %d tables\n", len(models()))
				return nil
			})
		},
	}
}
