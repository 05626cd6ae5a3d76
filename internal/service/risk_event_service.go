package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"risksignal/internal/models"
	"risksignal/internal/repository"
	"risksignal/pkg/utils"
)

var (
	// ErrRiskEventNotFound - событие не найдено у пользователя
	ErrRiskEventNotFound = errors.New("risk event not found")

	// ErrInvalidStatusTransition - переход статуса не разрешен
	ErrInvalidStatusTransition = errors.New("invalid risk event status transition")

	// ErrInvalidFilter - неизвестный статус или severity в фильтре
	ErrInvalidFilter = errors.New("invalid risk event filter")
)

// Пределы выборки
const (
	DefaultEventLimit = 100
	MaxEventLimit     = 500
)

// RiskEventService - просмотр и обработка risk events оператором
type RiskEventService struct {
	repo   RiskEventRepositoryInterface
	alerts AlertHistoryReader
	now    func() time.Time
	logger *utils.Logger
}

// NewRiskEventService создает сервис. alerts может быть nil.
func NewRiskEventService(repo RiskEventRepositoryInterface, alerts AlertHistoryReader) *RiskEventService {
	return &RiskEventService{repo: repo, alerts: alerts, now: time.Now, logger: utils.L().WithComponent("risk_events")}
}

// List возвращает события пользователя, новые первыми
func (s *RiskEventService) List(ctx context.Context, userID string, f models.RiskEventFilter) ([]models.RiskEvent, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: status %q", ErrInvalidFilter, f.Status)
	}
	if f.Severity != "" && !f.Severity.Valid() {
		return nil, fmt.Errorf("%w: severity %q", ErrInvalidFilter, f.Severity)
	}
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultEventLimit
	case f.Limit > MaxEventLimit:
		f.Limit = MaxEventLimit
	}
	f.UserID = userID
	return s.repo.List(ctx, f)
}

// Get возвращает событие пользователя
func (s *RiskEventService) Get(ctx context.Context, userID, id string) (*models.RiskEvent, error) {
	ev, err := s.repo.GetForUser(ctx, id, userID)
	if errors.Is(err, repository.ErrRiskEventNotFound) {
		return nil, ErrRiskEventNotFound
	}
	return ev, err
}

// Alerts возвращает журнал доставки по событию пользователя, новые первыми
func (s *RiskEventService) Alerts(ctx context.Context, userID, id string) ([]models.AlertRecord, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	if s.alerts == nil {
		return []models.AlertRecord{}, nil
	}
	records, err := s.alerts.ListByRiskEvent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	return records, nil
}

// UpdateStatus переводит событие в новый статус
//
// OPEN → ACKNOWLEDGED | RESOLVED | FALSE_POSITIVE, ACKNOWLEDGED → RESOLVED | FALSE_POSITIVE.
// Параллельное изменение того же события дает ErrInvalidStatusTransition.
func (s *RiskEventService) UpdateStatus(ctx context.Context, userID, id string, to models.EventStatus) (*models.RiskEvent, error) {
	ev, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if !ev.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, ev.Status, to)
	}

	at := s.now().UTC()
	if err := s.repo.UpdateStatus(ctx, id, ev.Status, to, at); err != nil {
		if errors.Is(err, repository.ErrInvalidStatusChange) {
			return nil, fmt.Errorf("%w: %s changed concurrently", ErrInvalidStatusTransition, id)
		}
		return nil, fmt.Errorf("update risk event status: %w", err)
	}

	s.logger.Info("risk event status changed",
		utils.RiskEventID(id), utils.UserID(userID),
		utils.String("from", string(ev.Status)), utils.String("to", string(to)))

	ev.Status = to
	switch to {
	case models.EventStatusAcknowledged:
		ev.AcknowledgedAt = &at
	default:
		ev.ResolvedAt = &at
	}
	return ev, nil
}
