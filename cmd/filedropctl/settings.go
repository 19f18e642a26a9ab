package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/filedrop/internal/config"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage credential overrides stored in the settings table",
}

var settingsSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Store an override; it takes precedence over the environment",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

func init() {
	settingsCmd.AddCommand(settingsSetCmd)
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]
	if !config.IsKnownKey(key) {
		return fmt.Errorf("unknown setting %q", key)
	}

	repo, err := openRepo()
	if err != nil {
		return err
	}
	defer repo.Close()

	if err := repo.PutSetting(cmd.Context(), key, value); err != nil {
		return err
	}

	fmt.Printf("Saved %s\n", key)
	return nil
}
