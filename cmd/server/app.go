package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"risksignal/internal/api"
	"risksignal/internal/config"
	"risksignal/internal/engine"
	"risksignal/internal/models"
	"risksignal/internal/notify"
	"risksignal/internal/provider"
	"risksignal/internal/repository"
	"risksignal/internal/service"
	"risksignal/internal/websocket"
	"risksignal/pkg/crypto"
	"risksignal/pkg/ratelimit"
	"risksignal/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// app - собранный граф зависимостей
type app struct {
	assets *engine.ReferenceAssets

	agents      *service.AgentService
	halt        *service.HaltController
	telemetry   *service.TelemetryService
	trades      *service.TradeValidationService
	policies    *service.PolicyService
	riskEvents  *service.RiskEventService
	preferences *service.PreferencesService
	sweep       *service.SweepService
}

// buildApp создает репозитории, движок, каналы и сервисы.
// hub может быть nil (одноразовый sweep без живой ленты).
func buildApp(cfg *config.Config, db *sql.DB, hub *websocket.Hub) (*app, error) {
	logger := utils.L().WithComponent("app")

	key, err := crypto.ParseKey(cfg.Security.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("parse encryption key: %w", err)
	}

	// Инициализация репозиториев
	agentRepo := repository.NewAgentRepository(db)
	policyRepo := repository.NewPolicyRepository(db)
	eventRepo := repository.NewRiskEventRepository(db)
	alertRepo := repository.NewAlertRepository(db)
	telemetryRepo := repository.NewTelemetryRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)
	prefsRepo := repository.NewPreferencesRepository(db, key)

	// Справочник активов и реестр правил
	assets := engine.DefaultReferenceAssets()
	if cfg.Engine.ReferenceAssetsFile != "" {
		if assets, err = engine.LoadReferenceAssets(cfg.Engine.ReferenceAssetsFile); err != nil {
			return nil, fmt.Errorf("load reference assets: %w", err)
		}
	}
	registry := engine.NewDefaultRegistry(assets)
	logger.Info("rules registered", zap.Int("count", len(registry.Types())))

	// Провайдер снимков: без ключа проход кошельков завершается ошибками оценки,
	// правила агентов продолжают работать
	var snapshots engine.SnapshotProvider
	moralis, err := provider.NewMoralisProvider(provider.MoralisConfig{
		APIKey:  cfg.Provider.MoralisAPIKey,
		BaseURL: cfg.Provider.MoralisBaseURL,
		RPS:     cfg.Provider.MoralisRPS,
	})
	switch {
	case err == nil:
		snapshots = moralis
	case errors.Is(err, provider.ErrAPIKeyRequired):
		logger.Warn("MORALIS_API_KEY is not set, wallet policies cannot be evaluated")
	default:
		return nil, fmt.Errorf("init snapshot provider: %w", err)
	}

	var history engine.SnapshotHistory
	if cfg.Engine.HistoryEnabled {
		history = snapshotRepo
	}
	evaluator := engine.NewEvaluator(registry, snapshots, history, engine.EvaluatorConfig{
		IncludeHistory: cfg.Engine.HistoryEnabled,
		HistoryWindow:  cfg.Engine.HistoryLookback,
		Concurrency:    cfg.Engine.Concurrency,
	})

	orchestrator := service.NewAlertOrchestrator(alertRepo, buildChannels(cfg), service.AlertOrchestratorConfig{
		RateWindow: cfg.Alerts.RateWindow,
		RateMax:    cfg.Alerts.RateMax,
	})

	// nil *Hub в интерфейсе не равен nil, поэтому присваиваем явно
	var broadcaster service.Broadcaster
	if hub != nil {
		broadcaster = hub
	}

	// Инициализация сервисов
	agents := service.NewAgentService(agentRepo)
	halt := service.NewHaltController(agentRepo, agents)
	if broadcaster != nil {
		halt.SetBroadcaster(broadcaster)
	}

	a := &app{
		assets: assets,
		agents: agents,
		halt:   halt,
		telemetry: service.NewTelemetryService(service.TelemetryDeps{
			Auth:        agents,
			Agents:      agentRepo,
			Telemetry:   telemetryRepo,
			Policies:    policyRepo,
			Events:      eventRepo,
			Preferences: prefsRepo,
			Registry:    registry,
			Halt:        halt,
			Alerts:      orchestrator,
			Broadcaster: broadcaster,
		}),
		trades: service.NewTradeValidationService(agents, halt, policyRepo, telemetryRepo, registry,
			[]byte(cfg.Security.JWTSecret), cfg.Security.ValidationTokenTTL),
		policies:    service.NewPolicyService(policyRepo, registry),
		riskEvents:  service.NewRiskEventService(eventRepo, alertRepo),
		preferences: service.NewPreferencesService(prefsRepo),
		sweep: service.NewSweepService(service.SweepDeps{
			Policies:    policyRepo,
			Agents:      agentRepo,
			Snapshots:   snapshotRepo,
			Events:      eventRepo,
			Preferences: prefsRepo,
			Evaluator:   evaluator,
			Alerts:      orchestrator,
			Broadcaster: broadcaster,
		}),
	}
	return a, nil
}

// buildChannels подключает каналы, для которых заданы учетные данные.
// Slack доступен всегда: webhook хранится в настройках пользователя.
func buildChannels(cfg *config.Config) service.Channels {
	logger := utils.L().WithComponent("app")
	client := provider.NewHTTPClient(provider.DefaultHTTPClientConfig())

	channels := service.Channels{
		models.AlertChannelSlack: notify.NewSlackNotifier(cfg.Alerts.DashboardURL, client),
	}
	if cfg.Alerts.ResendAPIKey != "" {
		channels[models.AlertChannelEmail] = notify.NewEmailNotifier(notify.EmailConfig{
			APIKey:       cfg.Alerts.ResendAPIKey,
			From:         cfg.Alerts.EmailFrom,
			DashboardURL: cfg.Alerts.DashboardURL,
		}, client)
	} else {
		logger.Warn("RESEND_API_KEY is not set, email alerts disabled")
	}
	if cfg.Alerts.TwilioAccountSID != "" && cfg.Alerts.TwilioAuthToken != "" && cfg.Alerts.TwilioFromNumber != "" {
		channels[models.AlertChannelSMS] = notify.NewSMSNotifier(notify.SMSConfig{
			AccountSID:   cfg.Alerts.TwilioAccountSID,
			AuthToken:    cfg.Alerts.TwilioAuthToken,
			FromNumber:   cfg.Alerts.TwilioFromNumber,
			DashboardURL: cfg.Alerts.DashboardURL,
		}, client)
	} else {
		logger.Warn("Twilio credentials are not set, SMS alerts disabled")
	}
	logger.Info("alert channels ready", zap.Int("count", len(channels)))
	return channels
}

// dependencies собирает зависимости HTTP слоя
func (a *app) dependencies(cfg *config.Config, db *sql.DB, hub *websocket.Hub, limiter *ratelimit.KeyedLimiter) *api.Dependencies {
	return &api.Dependencies{
		Telemetry:      a.telemetry,
		Trades:         a.trades,
		Agents:         a.agents,
		Halt:           a.halt,
		Policies:       a.policies,
		RiskEvents:     a.riskEvents,
		Preferences:    a.preferences,
		Sweep:          a.sweep,
		Hub:            hub,
		RateLimiter:    limiter,
		JWTSecret:      cfg.Security.JWTSecret,
		SweepToken:     cfg.Security.SweepToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		HealthCheck:    db.PingContext,
	}
}

// initDatabase инициализирует подключение к базе данных
func initDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Настройка пула соединений
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	utils.L().Info("connected to database", zap.String("dsn", cfg.Database.DSNWithoutPassword()))
	return db, nil
}
