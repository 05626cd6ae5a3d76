package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"risksignal/internal/config"
	"risksignal/pkg/utils"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "risksignal",
		Short: "Risk monitoring for crypto wallets and trading agents",
		Long: `RiskSignal - мониторинг рисков кошельков и торговых агентов

Принимает телеметрию агентов, проверяет сделки до исполнения,
периодически оценивает политики по снимкам кошельков и рассылает
алерты по email, SMS и Slack.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute запускает корневую команду
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`RiskSignal {{.Version}}
`)
}

// loadConfig загружает конфигурацию и настраивает глобальный logger
func loadConfig() (*config.Config, *utils.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := utils.InitGlobalLogger(cfg.Logging.LogConfig())
	logger.Info("configuration loaded",
		zap.String("db", cfg.Database.DSNWithoutPassword()),
		zap.Bool("history", cfg.Engine.HistoryEnabled),
		zap.Duration("sweep_interval", cfg.Engine.SweepInterval),
	)
	return cfg, logger, nil
}
