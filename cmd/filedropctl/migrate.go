package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and print their status",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	// Миграции применяются при подключении репозитория.
	repo, err := openRepo()
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer repo.Close()

	return repo.MigrationStatus(cmd.Context())
}
