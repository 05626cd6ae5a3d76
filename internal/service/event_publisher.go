package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"risksignal/internal/engine"
	"risksignal/internal/metrics"
	"risksignal/internal/models"
	"risksignal/pkg/utils"
)

// Действия, возвращаемые агенту
const (
	ActionContinue    = "CONTINUE"
	ActionHalt        = "HALT"
	ActionRejectTrade = "REJECT_TRADE"
)

// ViolationReport - нарушение в ответе агенту: текущее значение против порога
type ViolationReport struct {
	PolicyID     string          `json:"policy_id"`
	PolicyName   string          `json:"policy_name"`
	PolicyType   string          `json:"policy_type"`
	Severity     models.Severity `json:"severity"`
	Message      string          `json:"message"`
	CurrentValue float64         `json:"current_value"`
	Threshold    float64         `json:"threshold"`
}

func reportFromResult(res *engine.Result) ViolationReport {
	current, limit := res.Violation.Measured()
	return ViolationReport{
		PolicyID:     res.PolicyID,
		PolicyName:   res.PolicyName,
		PolicyType:   string(res.PolicyType),
		Severity:     res.Severity,
		Message:      res.Violation.Summary(),
		CurrentValue: current,
		Threshold:    limit,
	}
}

func hasCritical(reports []ViolationReport) bool {
	for _, r := range reports {
		if r.Severity == models.SeverityCritical {
			return true
		}
	}
	return false
}

// eventPublisher сохраняет risk events, публикует их в ленту и рассылает алерты
//
// Сохранение и рассылка независимы: ошибка алерта не отменяет событие.
type eventPublisher struct {
	events      RiskEventRepositoryInterface
	prefs       PreferencesRepositoryInterface
	alerts      AlertSender
	broadcaster Broadcaster
	logger      *utils.Logger
}

// persist записывает событие и публикует его в ленту владельца политики
func (p *eventPublisher) persist(ctx context.Context, ev *models.RiskEvent, userID string) error {
	if err := p.events.Create(ctx, ev); err != nil {
		return fmt.Errorf("create risk event: %w", err)
	}
	metrics.RecordRiskEvent(string(ev.EventType), string(ev.Severity))
	if p.broadcaster != nil {
		p.broadcaster.BroadcastRiskEvent(userID, ev)
	}
	return nil
}

// alert рассылает уведомления владельцу политики и возвращает число успешных доставок
func (p *eventPublisher) alert(ctx context.Context, ev *models.RiskEvent, policy models.Policy, summary string) int {
	if p.alerts == nil {
		return 0
	}
	log := p.logger.With(utils.RiskEventID(ev.ID), utils.PolicyID(policy.ID))

	prefs, err := p.prefs.Get(ctx, policy.UserID)
	if err != nil {
		log.Warn("notification preferences unavailable, using defaults", zap.Error(err))
		prefs = nil
	}

	payload := AlertPayload{
		RiskEventID: ev.ID,
		UserID:      policy.UserID,
		AccountID:   ev.AccountID,
		PolicyName:  policy.Name,
		Severity:    ev.Severity,
		Message:     fmt.Sprintf("%s: %s", policy.Name, summary),
		DetectedAt:  ev.DetectedAt,
	}
	if prefs != nil {
		payload.Recipients.Email = prefs.Email
	}

	records, err := p.alerts.SendAlerts(ctx, payload, prefs)
	if err != nil && !errors.Is(err, ErrAlertRateLimited) {
		log.Warn("alert dispatch failed", zap.Error(err))
	}

	sent := 0
	for _, r := range records {
		if r.Status == models.AlertStatusSent || r.Status == models.AlertStatusDelivered {
			sent++
		}
	}
	return sent
}
