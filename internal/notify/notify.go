// Package notify доставляет алерты по внешним каналам: email (Resend),
// SMS (Twilio) и Slack incoming webhook.
package notify

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"risksignal/internal/models"
	"risksignal/pkg/retry"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DefaultDashboardURL - ссылка "View Dashboard" в сообщениях
const DefaultDashboardURL = "https://risksignal.io/dashboard"

// Ошибки каналов
var (
	ErrEmailNotConfigured = errors.New("Email not configured")
	ErrSMSNotConfigured   = errors.New("SMS not configured")
	ErrSlackNotConfigured = errors.New("Slack webhook not configured")
)

// Message - алерт, отрисовываемый каждым каналом в свой формат
type Message struct {
	RiskEventID string
	AccountID   string
	Severity    models.Severity
	Text        string // краткое описание нарушения
	DetectedAt  time.Time
}

// Receipt - результат успешной отправки
type Receipt struct {
	MessageID string
	Content   string // фактически отправленный текст
}

// Notifier - один канал доставки.
// Send возвращает Receipt с отрисованным содержимым даже при ошибке, если оно успело сформироваться.
type Notifier interface {
	Channel() models.AlertChannel
	Send(ctx context.Context, recipient string, msg Message) (Receipt, error)
}

// doRequest выполняет запрос с повтором на 429/5xx и возвращает тело ответа
func doRequest(ctx context.Context, client *http.Client, cfg retry.Config, service string, build func(ctx context.Context) (*http.Request, error)) ([]byte, error) {
	return retry.DoWithResult(ctx, cfg, func(ctx context.Context) ([]byte, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, retry.Permanent(err)
		}
		res, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer res.Body.Close()

		body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return nil, &retry.StatusError{Service: service, StatusCode: res.StatusCode, Body: string(body)}
		}
		return body, nil
	})
}
