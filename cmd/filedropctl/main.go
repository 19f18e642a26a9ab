// Package main запускает административную утилиту сервиса доставки цифровых товаров.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mmeshcher/filedrop/internal/app"
	"github.com/mmeshcher/filedrop/internal/config"
	"github.com/mmeshcher/filedrop/internal/repository"
)

var (
	Version = "dev"

	databaseURI string
	verbose     bool
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "filedropctl",
		Short:         "Administrative tasks for the filedrop delivery service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&databaseURI, "dsn", "d", "", "database URI (overrides DATABASE_URI)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(resendCmd)
	rootCmd.AddCommand(refundCmd)
	rootCmd.AddCommand(purgeCmd)
	rootCmd.AddCommand(settingsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.ParseEnv()
	if err != nil {
		return nil, err
	}
	if databaseURI != "" {
		cfg.DatabaseURI = databaseURI
	}
	if cfg.DatabaseURI == "" {
		return nil, fmt.Errorf("DATABASE_URI or --dsn is required")
	}
	return cfg, nil
}

func newLogger() *zap.Logger {
	zcfg := zap.NewDevelopmentConfig()
	if !verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func openRepo() (*repository.PostgresRepository, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return repository.NewPostgresRepository(cfg.DatabaseURI)
}

func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, newLogger())
}
