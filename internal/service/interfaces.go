package service

import (
	"context"
	"time"

	"risksignal/internal/engine"
	"risksignal/internal/models"
	"risksignal/internal/notify"
)

// PolicyRepositoryInterface определяет интерфейс репозитория политик
type PolicyRepositoryInterface interface {
	Create(ctx context.Context, p *models.Policy) error
	GetForUser(ctx context.Context, id, userID string) (*models.Policy, error)
	ListByUser(ctx context.Context, userID string) ([]models.Policy, error)
	ListActive(ctx context.Context) ([]models.Policy, error)
	ListActiveForAccount(ctx context.Context, accountID string) ([]models.Policy, error)
	Update(ctx context.Context, p *models.Policy) error
	SetActive(ctx context.Context, id, userID string, active bool) error
	Delete(ctx context.Context, id, userID string) error
}

// RiskEventRepositoryInterface определяет интерфейс репозитория risk events
type RiskEventRepositoryInterface interface {
	Create(ctx context.Context, e *models.RiskEvent) error
	GetForUser(ctx context.Context, id, userID string) (*models.RiskEvent, error)
	List(ctx context.Context, f models.RiskEventFilter) ([]models.RiskEvent, error)
	UpdateStatus(ctx context.Context, id string, from, to models.EventStatus, at time.Time) error
}

// AlertRepositoryInterface определяет интерфейс журнала доставки
type AlertRepositoryInterface interface {
	Create(ctx context.Context, a *models.AlertRecord) error
	CountRecent(ctx context.Context, riskEventID string, statuses []models.AlertStatus, since time.Time) (int, error)
}

// AlertHistoryReader - чтение журнала доставки для dashboard
type AlertHistoryReader interface {
	ListByRiskEvent(ctx context.Context, riskEventID string) ([]models.AlertRecord, error)
}

// AgentRepositoryInterface определяет интерфейс репозитория агентов
type AgentRepositoryInterface interface {
	Create(ctx context.Context, a *models.Agent) error
	GetByID(ctx context.Context, id string) (*models.Agent, error)
	GetForUser(ctx context.Context, id, userID string) (*models.Agent, error)
	ListByAPIKeyPrefix(ctx context.Context, prefix string) ([]models.Agent, error)
	ListByUser(ctx context.Context, userID string) ([]models.Agent, error)
	RecordHeartbeat(ctx context.Context, id string, at time.Time, meta models.AgentMetadata) error
	ApplyHalt(ctx context.Context, entry *models.HaltLogEntry) (bool, error)
	ListHaltLog(ctx context.Context, agentID string, limit int) ([]models.HaltLogEntry, error)
}

// TelemetryRepositoryInterface определяет интерфейс хранилища телеметрии и pre-trade журнала
type TelemetryRepositoryInterface interface {
	InsertSample(ctx context.Context, s *models.TelemetrySample) error
	CountEventsSince(ctx context.Context, agentID, eventType string, since time.Time) (int, error)
	InsertValidation(ctx context.Context, v *models.TradeValidation) error
}

// SnapshotRepositoryInterface определяет интерфейс хранилища снимков
type SnapshotRepositoryInterface interface {
	Create(ctx context.Context, s *models.AccountSnapshot) error
}

// PreferencesRepositoryInterface определяет интерфейс настроек уведомлений
type PreferencesRepositoryInterface interface {
	Get(ctx context.Context, userID string) (*models.NotificationPreferences, error)
	Upsert(ctx context.Context, p *models.NotificationPreferences) error
}

// PolicyEvaluator - часть engine.Evaluator, нужная проходу по политикам
type PolicyEvaluator interface {
	FetchSnapshot(ctx context.Context, accountID string) (*models.AccountSnapshot, error)
	EvaluateAgainst(ctx context.Context, policies []models.Policy, snap *models.AccountSnapshot) []engine.Outcome
	CreateRiskEvent(res *engine.Result) (*models.RiskEvent, error)
}

// AlertSender - отправка алертов по risk event (реализует AlertOrchestrator)
type AlertSender interface {
	SendAlerts(ctx context.Context, payload AlertPayload, prefs *models.NotificationPreferences) ([]models.AlertRecord, error)
}

// Broadcaster - живая лента для dashboard (websocket hub)
type Broadcaster interface {
	BroadcastRiskEvent(userID string, event *models.RiskEvent)
	BroadcastHalt(state *HaltState)
}

// Channels - набор доступных каналов доставки
type Channels map[models.AlertChannel]notify.Notifier
