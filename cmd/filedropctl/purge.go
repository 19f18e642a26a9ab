package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var purgeOlderThan time.Duration

var purgeCmd = &cobra.Command{
	Use:   "purge-rate-limits",
	Short: "Delete stale rate limit windows from Postgres",
	RunE:  runPurge,
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 24*time.Hour, "delete windows started before now minus this duration")
}

func runPurge(cmd *cobra.Command, args []string) error {
	if purgeOlderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	repo, err := openRepo()
	if err != nil {
		return err
	}
	defer repo.Close()

	n, err := repo.PurgeRateLimits(cmd.Context(), time.Now().Add(-purgeOlderThan))
	if err != nil {
		return err
	}

	fmt.Printf("Deleted %d rate limit windows\n", n)
	return nil
}
