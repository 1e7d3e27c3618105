package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Open runs every pending migration.
			db, err := a.openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			a.logger.Info("database is up to date", "driver", db.Driver())
			return nil
		},
	}
}
