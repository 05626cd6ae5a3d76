package handlers

import (
	"context"

	"risksignal/internal/models"
	"risksignal/internal/service"
)

// Интерфейсы сервисов, которые используют handlers.
// Реализации - структуры пакета service, в тестах - моки из mocks_test.go.

// TelemetryIngester - прием телеметрии агента
type TelemetryIngester interface {
	Ingest(ctx context.Context, apiKey string, payload service.TelemetryPayload) (*service.TelemetryResult, error)
}

// TradeValidator - pre-trade проверка и проверка выданного токена
type TradeValidator interface {
	Validate(ctx context.Context, req service.TradeRequest) (*service.TradeDecision, error)
	VerifyToken(token string) (*service.ValidationClaims, error)
}

// AgentManager - агенты оператора
type AgentManager interface {
	Create(ctx context.Context, userID, name string) (*models.Agent, string, error)
	List(ctx context.Context, userID string) ([]models.Agent, error)
	Get(ctx context.Context, userID, agentID string) (*models.Agent, error)
}

// HaltManager - kill-switch агентов
type HaltManager interface {
	SetHalted(ctx context.Context, userID, agentID string, halt bool, reason string) (*service.HaltState, error)
	Status(ctx context.Context, userID, agentID string) (*service.HaltState, error)
	StatusByAPIKey(ctx context.Context, apiKey string) (*service.HaltState, error)
	History(ctx context.Context, userID, agentID string, limit int) ([]models.HaltLogEntry, error)
}

// PolicyManager - политики оператора
type PolicyManager interface {
	Create(ctx context.Context, userID string, in service.PolicyInput) (*models.Policy, error)
	List(ctx context.Context, userID string) ([]models.Policy, error)
	Get(ctx context.Context, userID, id string) (*models.Policy, error)
	Update(ctx context.Context, userID, id string, patch service.PolicyPatch) (*models.Policy, error)
	SetActive(ctx context.Context, userID, id string, active bool) error
	Delete(ctx context.Context, userID, id string) error
}

// RiskEventManager - события нарушений
type RiskEventManager interface {
	List(ctx context.Context, userID string, f models.RiskEventFilter) ([]models.RiskEvent, error)
	Get(ctx context.Context, userID, id string) (*models.RiskEvent, error)
	UpdateStatus(ctx context.Context, userID, id string, to models.EventStatus) (*models.RiskEvent, error)
	Alerts(ctx context.Context, userID, id string) ([]models.AlertRecord, error)
}

// PreferencesManager - настройки уведомлений
type PreferencesManager interface {
	Get(ctx context.Context, userID string) (*models.NotificationPreferences, error)
	Update(ctx context.Context, userID string, in service.PreferencesInput) (*models.NotificationPreferences, error)
}

// SweepRunner - проход по всем активным политикам
type SweepRunner interface {
	Run(ctx context.Context) (*service.SweepSummary, error)
}

var (
	_ TelemetryIngester  = (*service.TelemetryService)(nil)
	_ TradeValidator     = (*service.TradeValidationService)(nil)
	_ AgentManager       = (*service.AgentService)(nil)
	_ HaltManager        = (*service.HaltController)(nil)
	_ PolicyManager      = (*service.PolicyService)(nil)
	_ RiskEventManager   = (*service.RiskEventService)(nil)
	_ PreferencesManager = (*service.PreferencesService)(nil)
	_ SweepRunner        = (*service.SweepService)(nil)
)
