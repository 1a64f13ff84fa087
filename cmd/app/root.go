package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"toko/internal/config"
	"toko/internal/logging"
	"toko/internal/repo"
	"toko/migrations"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:           "toko",
	Short:         "Multi-tenant order fulfillment service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional config file layered under the environment")
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func bootstrap() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, logging.NewLogger(cfg.LogLevel, cfg.LogFormat), nil
}

// openRepository connects to the configured database and applies pending migrations.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (repo.Repository, error) {
	var (
		repository repo.Repository
		err        error
	)
	switch cfg.DatabaseDriver {
	case "sqlite":
		repository, err = repo.NewSQLite(ctx, cfg.SQLitePath, logger)
	default:
		repository, err = repo.NewPostgres(ctx, cfg.DatabaseURL, cfg.DatabaseSchema, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}

	if err := repository.RunMigrations(ctx, migrations.For(cfg.DatabaseDriver)); err != nil {
		repository.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	logger.Info("database migrated", "driver", cfg.DatabaseDriver)
	return repository, nil
}
