package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"risksignal/internal/engine"
	"risksignal/internal/models"
	"risksignal/internal/repository"
	"risksignal/pkg/utils"
)

var (
	// ErrPolicyNotFound - политика не найдена у пользователя
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrPolicyInUse - на политику ссылаются risk events, ее можно только выключить
	ErrPolicyInUse = errors.New("policy is referenced by risk events; deactivate it instead")

	// ErrInvalidPolicy - ошибка полей политики (не конфигурации)
	ErrInvalidPolicy = errors.New("invalid policy")
)

// PolicyInput - данные для создания политики
type PolicyInput struct {
	AccountID   string            `json:"account_id"`
	Type        models.PolicyType `json:"policy_type"`
	Name        string            `json:"policy_name"`
	Description string            `json:"description"`
	Config      json.RawMessage   `json:"config"`
	Severity    models.Severity   `json:"severity"`
	IsActive    *bool             `json:"is_active"`
}

// PolicyPatch - частичное обновление; nil поле не меняется
type PolicyPatch struct {
	Name        *string          `json:"policy_name"`
	Description *string          `json:"description"`
	Config      json.RawMessage  `json:"config"`
	Severity    *models.Severity `json:"severity"`
	IsActive    *bool            `json:"is_active"`
}

// PolicyService - управление политиками пользователя
//
// Config проверяется реестром правил при создании и изменении:
// невалидная конфигурация возвращается как *engine.ConfigError.
type PolicyService struct {
	repo     PolicyRepositoryInterface
	registry *engine.Registry
	now      func() time.Time
}

// NewPolicyService создает сервис политик
func NewPolicyService(repo PolicyRepositoryInterface, registry *engine.Registry) *PolicyService {
	return &PolicyService{repo: repo, registry: registry, now: time.Now}
}

// Create проверяет и сохраняет новую политику
func (s *PolicyService) Create(ctx context.Context, userID string, in PolicyInput) (*models.Policy, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.AccountID = strings.TrimSpace(in.AccountID)
	if in.Severity == "" {
		in.Severity = models.SeverityMedium
	}

	var errs utils.ValidationErrors
	if in.Name == "" || len(in.Name) > 100 {
		errs.Check("policy_name", errors.New("must be 1-100 characters"))
	}
	if !s.registry.Has(in.Type) {
		errs.Check("policy_type", fmt.Errorf("unsupported policy type %q", in.Type))
	}
	if !in.Severity.Valid() {
		errs.Check("severity", fmt.Errorf("unknown severity %q", in.Severity))
	}
	if in.AccountID == "" {
		errs.Check("account_id", errors.New("is required"))
	} else if in.Type != "" && !in.Type.IsAgentType() {
		errs.Check("account_id", utils.ValidateWalletAddress(in.AccountID))
		in.AccountID = strings.ToLower(in.AccountID)
	}
	if err := errs.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	if err := s.registry.Validate(in.Type, in.Config); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	p := &models.Policy{
		UserID:      userID,
		AccountID:   in.AccountID,
		Type:        in.Type,
		Name:        in.Name,
		Description: in.Description,
		Config:      in.Config,
		Severity:    in.Severity,
		IsActive:    in.IsActive == nil || *in.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create policy: %w", err)
	}
	return p, nil
}

// List возвращает политики пользователя
func (s *PolicyService) List(ctx context.Context, userID string) ([]models.Policy, error) {
	return s.repo.ListByUser(ctx, userID)
}

// Get возвращает политику пользователя
func (s *PolicyService) Get(ctx context.Context, userID, id string) (*models.Policy, error) {
	p, err := s.repo.GetForUser(ctx, id, userID)
	if errors.Is(err, repository.ErrPolicyNotFound) {
		return nil, ErrPolicyNotFound
	}
	return p, err
}

// Update применяет частичное изменение. Тип и аккаунт политики не меняются.
func (s *PolicyService) Update(ctx context.Context, userID, id string, patch PolicyPatch) (*models.Policy, error) {
	p, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" || len(name) > 100 {
			return nil, fmt.Errorf("%w: policy_name: must be 1-100 characters", ErrInvalidPolicy)
		}
		p.Name = name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Severity != nil {
		if !patch.Severity.Valid() {
			return nil, fmt.Errorf("%w: severity: unknown severity %q", ErrInvalidPolicy, *patch.Severity)
		}
		p.Severity = *patch.Severity
	}
	if len(patch.Config) > 0 {
		if err := s.registry.Validate(p.Type, patch.Config); err != nil {
			return nil, err
		}
		p.Config = patch.Config
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}

	if err := s.repo.Update(ctx, p); err != nil {
		if errors.Is(err, repository.ErrPolicyNotFound) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("update policy: %w", err)
	}
	return p, nil
}

// SetActive включает или выключает политику
func (s *PolicyService) SetActive(ctx context.Context, userID, id string, active bool) error {
	err := s.repo.SetActive(ctx, id, userID, active)
	if errors.Is(err, repository.ErrPolicyNotFound) {
		return ErrPolicyNotFound
	}
	return err
}

// Delete удаляет политику без связанных событий
func (s *PolicyService) Delete(ctx context.Context, userID, id string) error {
	err := s.repo.Delete(ctx, id, userID)
	switch {
	case errors.Is(err, repository.ErrPolicyNotFound):
		return ErrPolicyNotFound
	case errors.Is(err, repository.ErrPolicyReferenced):
		return ErrPolicyInUse
	}
	return err
}
