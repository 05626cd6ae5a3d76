package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var sweepTimeout time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one evaluation pass over all active policies",
	Long: `Выполняет один проход: снимки кошельков, оценка политик кошельков
и агентов, создание risk event и рассылка алертов. Итог печатается в JSON.

Подходит для запуска из cron вместо POST /api/v1/sweep.`,
	Example: `  risksignal sweep
  risksignal sweep --timeout 2m`,
	RunE: runSweep,
}

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().DurationVar(&sweepTimeout, "timeout", 5*time.Minute, "Maximum duration of the pass")
}

func runSweep(cmd *cobra.Command, args []string) error {
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

	application, err := buildApp(cfg, db, nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), sweepTimeout)
	defer cancel()

	summary, err := application.sweep.Run(ctx)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
