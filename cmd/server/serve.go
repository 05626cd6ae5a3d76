package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"risksignal/internal/api"
	"risksignal/internal/repository"
	"risksignal/internal/websocket"
	"risksignal/pkg/ratelimit"
	"risksignal/pkg/utils"
)

var serveSkipMigrate bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, live stream and periodic sweeper",
	Long: `Запускает HTTP API (телеметрия агентов, pre-trade проверка,
dashboard), WebSocket ленту /ws/stream и периодический проход по политикам.

Завершается корректно по SIGTERM/SIGINT: сервер перестает принимать
соединения, фоновые алерты телеметрии дожидаются отправки.`,
	Example: `  risksignal serve
  SWEEP_INTERVAL=15m risksignal serve
  risksignal serve --skip-migrate`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&serveSkipMigrate, "skip-migrate", false, "Do not apply schema on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	// Инициализация базы данных
	db, err := initDatabase(cfg)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	if !serveSkipMigrate {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		err := repository.Migrate(ctx, db)
		cancel()
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	hub := websocket.NewHub()
	application, err := buildApp(cfg, db, hub)
	if err != nil {
		return err
	}
	limiter := ratelimit.NewKeyedLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, 10*time.Minute)

	router := api.SetupRoutes(application.dependencies(cfg, db, hub, limiter))
	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var g run.Group

	// HTTP сервер
	g.Add(func() error {
		logger.Info("starting server", zap.String("addr", server.Addr), zap.Bool("tls", cfg.Server.UseHTTPS))
		var err error
		if cfg.Server.UseHTTPS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}, func(error) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("server forced to shutdown", zap.Error(err))
		}
		// алерты, запущенные обработкой телеметрии
		application.telemetry.Wait()
	})

	// WebSocket hub
	g.Add(func() error {
		hub.Run()
		return nil
	}, func(error) {
		hub.Stop()
	})

	// Периодический проход и очистка лимитеров
	bgCtx, bgCancel := context.WithCancel(context.Background())
	g.Add(func() error {
		limiter.RunCleanup(bgCtx, time.Minute)
		return nil
	}, func(error) {
		bgCancel()
	})

	if cfg.Engine.SweepInterval > 0 {
		g.Add(func() error {
			runSweeper(bgCtx, application, cfg.Engine.SweepInterval)
			return nil
		}, func(error) {
			bgCancel()
		})
	} else {
		logger.Info("periodic sweep disabled, waiting for external scheduler")
	}

	// SIGHUP перечитывает справочник активов без перезапуска
	g.Add(func() error {
		reloadOnHangup(bgCtx, application)
		return nil
	}, func(error) {
		bgCancel()
	})

	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	err = g.Run()
	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		logger.Info("shutting down", zap.String("signal", sigErr.Signal.String()))
		return nil
	}
	return err
}

func reloadOnHangup(ctx context.Context, a *app) {
	logger := utils.L().WithComponent("assets")
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := a.assets.Reload(); err != nil {
				logger.Error("reference assets reload failed", zap.Error(err))
				continue
			}
			logger.Info("reference assets reloaded")
		}
	}
}

// runSweeper запускает проход по тикеру до отмены контекста.
// Пересечение с POST /sweep отсекается самим сервисом (ErrSweepInProgress).
func runSweeper(ctx context.Context, a *app, interval time.Duration) {
	logger := utils.L().WithComponent("sweeper")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary, err := a.sweep.Run(ctx)
			if err != nil {
				logger.Warn("scheduled sweep failed", zap.Error(err))
				continue
			}
			logger.Info("scheduled sweep done",
				zap.Int("policies", summary.PoliciesChecked),
				zap.Int("violations", summary.ViolationsDetected),
				zap.Int("errors", summary.EvaluationErrors),
			)
		}
	}
}
