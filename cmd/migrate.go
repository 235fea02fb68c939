package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lidora/internal/database"
)

// migrateCmd applies pending PostgreSQL migrations and exits
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply PostgreSQL migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig("lidora-migrate")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signalContext()
	defer stop()

	db, err := database.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RunMigrations(ctx, cfg.Store.Migrations); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
	return nil
}
