package models

import "time"

// AlertChannel - канал доставки уведомления
type AlertChannel string

const (
	AlertChannelEmail AlertChannel = "EMAIL"
	AlertChannelSMS   AlertChannel = "SMS"
	AlertChannelSlack AlertChannel = "SLACK"
)

// AlertStatus - статус попытки доставки
type AlertStatus string

const (
	AlertStatusPending    AlertStatus = "PENDING"
	AlertStatusSent       AlertStatus = "SENT"
	AlertStatusDelivered  AlertStatus = "DELIVERED"
	AlertStatusFailed     AlertStatus = "FAILED"
	AlertStatusBounced    AlertStatus = "BOUNCED"
	AlertStatusSuppressed AlertStatus = "SUPPRESSED"
)

// AlertRecord - одна попытка доставки (risk event, канал)
//
// Append-only: служит журналом доставки и источником для rate limit.
type AlertRecord struct {
	ID             string                 `json:"id" db:"id"`
	RiskEventID    string                 `json:"risk_event_id" db:"risk_event_id"`
	Channel        AlertChannel           `json:"channel" db:"channel"`
	Recipient      string                 `json:"recipient" db:"recipient"`
	Status         AlertStatus            `json:"status" db:"status"`
	MessageContent string                 `json:"message_content" db:"message_content"`
	Metadata       map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	ErrorMessage   *string                `json:"error_message,omitempty" db:"error_message"`
	RetryCount     int                    `json:"retry_count" db:"retry_count"`
	SentAt         time.Time              `json:"sent_at" db:"sent_at"`
	DeliveredAt    *time.Time             `json:"delivered_at,omitempty" db:"delivered_at"`
	FailedAt       *time.Time             `json:"failed_at,omitempty" db:"failed_at"`
}

// NotificationPreferences - настройки каналов пользователя
//
// PhoneNumber и SlackWebhookURL хранятся в БД зашифрованными.
// SeverityThreshold только хранится для dashboard, маршрутизацию алертов не меняет.
type NotificationPreferences struct {
	UserID            string    `json:"user_id" db:"user_id"`
	Email             string    `json:"email" db:"email"`
	EmailEnabled      bool      `json:"email_enabled" db:"email_enabled"`
	SMSEnabled        bool      `json:"sms_enabled" db:"sms_enabled"`
	SlackEnabled      bool      `json:"slack_enabled" db:"slack_enabled"`
	PhoneNumber       string    `json:"phone_number,omitempty" db:"phone_number"`
	SlackWebhookURL   string    `json:"slack_webhook_url,omitempty" db:"slack_webhook_url"`
	SeverityThreshold Severity  `json:"severity_threshold" db:"severity_threshold"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultNotificationPreferences - настройки для пользователя без записи в БД
func DefaultNotificationPreferences(userID string) *NotificationPreferences {
	return &NotificationPreferences{
		UserID:            userID,
		EmailEnabled:      true,
		SeverityThreshold: SeverityLow,
	}
}
