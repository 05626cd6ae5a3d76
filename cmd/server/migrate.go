package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"risksignal/internal/repository"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema",
	Long: `Применяет схему БД. Выражения идемпотентны, повторный запуск безопасен.
serve также применяет схему при старте.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := initDatabase(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	if err := repository.Migrate(ctx, db); err != nil {
		return err
	}
	logger.Info("schema applied")
	return nil
}
