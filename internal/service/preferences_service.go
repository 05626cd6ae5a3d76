package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"risksignal/internal/models"
	"risksignal/pkg/utils"
)

// ErrInvalidPreferences - настройки уведомлений не прошли проверку
var ErrInvalidPreferences = errors.New("invalid notification preferences")

// PreferencesInput - новые настройки уведомлений (полная замена)
type PreferencesInput struct {
	Email             string          `json:"email"`
	EmailEnabled      bool            `json:"email_enabled"`
	SMSEnabled        bool            `json:"sms_enabled"`
	SlackEnabled      bool            `json:"slack_enabled"`
	PhoneNumber       string          `json:"phone_number"`
	SlackWebhookURL   string          `json:"slack_webhook_url"`
	SeverityThreshold models.Severity `json:"severity_threshold"`
}

// PreferencesService - настройки каналов уведомлений пользователя
type PreferencesService struct {
	repo PreferencesRepositoryInterface
	now  func() time.Time
}

// NewPreferencesService создает сервис
func NewPreferencesService(repo PreferencesRepositoryInterface) *PreferencesService {
	return &PreferencesService{repo: repo, now: time.Now}
}

// Get возвращает настройки; без сохраненной записи - значения по умолчанию (только email)
func (s *PreferencesService) Get(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	return s.repo.Get(ctx, userID)
}

// Update проверяет и сохраняет настройки.
// Включенный канал требует адрес, адреса проверяются даже для выключенных каналов.
func (s *PreferencesService) Update(ctx context.Context, userID string, in PreferencesInput) (*models.NotificationPreferences, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)
	in.SlackWebhookURL = strings.TrimSpace(in.SlackWebhookURL)
	if in.SeverityThreshold == "" {
		in.SeverityThreshold = models.SeverityLow
	}

	var errs utils.ValidationErrors
	if in.Email != "" || in.EmailEnabled {
		errs.Check("email", utils.ValidateEmail(in.Email))
	}
	if in.PhoneNumber != "" || in.SMSEnabled {
		errs.Check("phone_number", utils.ValidatePhoneE164(in.PhoneNumber))
	}
	if in.SlackWebhookURL != "" || in.SlackEnabled {
		errs.Check("slack_webhook_url", utils.ValidateWebhookURL(in.SlackWebhookURL))
	}
	if !in.SeverityThreshold.Valid() {
		errs.Check("severity_threshold", fmt.Errorf("unknown severity %q", in.SeverityThreshold))
	}
	if err := errs.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPreferences, err)
	}

	prefs := &models.NotificationPreferences{
		UserID:            userID,
		Email:             in.Email,
		EmailEnabled:      in.EmailEnabled,
		SMSEnabled:        in.SMSEnabled,
		SlackEnabled:      in.SlackEnabled,
		PhoneNumber:       in.PhoneNumber,
		SlackWebhookURL:   in.SlackWebhookURL,
		SeverityThreshold: in.SeverityThreshold,
		UpdatedAt:         s.now().UTC(),
	}
	if err := s.repo.Upsert(ctx, prefs); err != nil {
		return nil, fmt.Errorf("save preferences: %w", err)
	}
	return prefs, nil
}
