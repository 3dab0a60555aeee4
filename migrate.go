package main

import (
	"fmt"

	"splitpay-api/config"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		// OpenDatabase migrates every model
		if _, err := config.OpenDatabase(cfg.Database); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database %s is up to date\n", cfg.Database.DSN)
		return nil
	},
}
