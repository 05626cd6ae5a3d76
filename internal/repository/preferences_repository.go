package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"risksignal/internal/models"
	"risksignal/pkg/crypto"
)

// PreferencesRepository - настройки уведомлений пользователя
//
// Телефон и Slack webhook хранятся зашифрованными (AES-256-GCM), если задан ключ.
type PreferencesRepository struct {
	db  *sql.DB
	key []byte
}

// NewPreferencesRepository создает репозиторий. key может быть nil: тогда значения хранятся как есть.
func NewPreferencesRepository(db *sql.DB, key []byte) *PreferencesRepository {
	return &PreferencesRepository{db: db, key: key}
}

// Get возвращает настройки пользователя или настройки по умолчанию, если записи нет
func (r *PreferencesRepository) Get(ctx context.Context, userID string) (*models.NotificationPreferences, error) {
	query := `
		SELECT user_id, email, email_enabled, sms_enabled, slack_enabled, phone_number,
			slack_webhook_url, severity_threshold, updated_at
		FROM notification_preferences
		WHERE user_id = $1`

	p := &models.NotificationPreferences{}
	var phone, webhook, threshold string
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.Email, &p.EmailEnabled, &p.SMSEnabled, &p.SlackEnabled,
		&phone, &webhook, &threshold, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.DefaultNotificationPreferences(userID), nil
		}
		return nil, err
	}

	p.SeverityThreshold = models.Severity(threshold)
	if p.PhoneNumber, err = r.open(phone); err != nil {
		return nil, fmt.Errorf("decrypt phone number: %w", err)
	}
	if p.SlackWebhookURL, err = r.open(webhook); err != nil {
		return nil, fmt.Errorf("decrypt slack webhook: %w", err)
	}
	return p, nil
}

// Upsert создает или перезаписывает настройки пользователя
func (r *PreferencesRepository) Upsert(ctx context.Context, p *models.NotificationPreferences) error {
	phone, err := r.seal(p.PhoneNumber)
	if err != nil {
		return err
	}
	webhook, err := r.seal(p.SlackWebhookURL)
	if err != nil {
		return err
	}
	if p.SeverityThreshold == "" {
		p.SeverityThreshold = models.SeverityLow
	}
	p.UpdatedAt = time.Now().UTC()

	query := `
		INSERT INTO notification_preferences (user_id, email, email_enabled, sms_enabled, slack_enabled,
			phone_number, slack_webhook_url, severity_threshold, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			email = EXCLUDED.email,
			email_enabled = EXCLUDED.email_enabled,
			sms_enabled = EXCLUDED.sms_enabled,
			slack_enabled = EXCLUDED.slack_enabled,
			phone_number = EXCLUDED.phone_number,
			slack_webhook_url = EXCLUDED.slack_webhook_url,
			severity_threshold = EXCLUDED.severity_threshold,
			updated_at = EXCLUDED.updated_at`

	_, err = r.db.ExecContext(ctx, query,
		p.UserID, p.Email, p.EmailEnabled, p.SMSEnabled, p.SlackEnabled,
		phone, webhook, string(p.SeverityThreshold), p.UpdatedAt,
	)
	return err
}

func (r *PreferencesRepository) seal(value string) (string, error) {
	if value == "" || r.key == nil {
		return value, nil
	}
	return crypto.Encrypt(value, r.key)
}

func (r *PreferencesRepository) open(value string) (string, error) {
	if value == "" || r.key == nil {
		return value, nil
	}
	return crypto.Decrypt(value, r.key)
}
