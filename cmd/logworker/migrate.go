package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/logworker/internal/output"
	"github.com/telhawk-systems/logworker/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [up|down]",
	Short: "Apply or roll back the database schema",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		direction := "up"
		if len(args) == 1 {
			direction = args[0]
		}
		connString := cfg.Database.Postgres.ConnString()
		out := output.New()

		switch direction {
		case "up":
			version, dirty, err := storage.Migrate(connString)
			if err != nil {
				return err
			}
			if dirty {
				out.Warn("Schema at version %d is dirty; fix it by hand before migrating again", version)
				return nil
			}
			out.Success("Schema at version %d", version)
		case "down":
			if err := storage.MigrateDown(connString); err != nil {
				return err
			}
			out.Success("Schema rolled back")
		default:
			return fmt.Errorf("unknown migration direction %q (want up or down)", direction)
		}
		return nil
	},
}
