package notify

import (
	"bytes"
	"context"
	"net/http"

	"risksignal/internal/models"
	"risksignal/pkg/retry"
)

// SlackNotifier публикует алерт в Slack incoming webhook пользователя
type SlackNotifier struct {
	dashboardURL string
	retry        retry.Config
	client       *http.Client
}

// NewSlackNotifier создает канал. Webhook URL передается как recipient.
func NewSlackNotifier(dashboardURL string, client *http.Client) *SlackNotifier {
	if dashboardURL == "" {
		dashboardURL = DefaultDashboardURL
	}
	return &SlackNotifier{dashboardURL: dashboardURL, retry: retry.ChannelConfig(), client: client}
}

func (n *SlackNotifier) Channel() models.AlertChannel { return models.AlertChannelSlack }

// Send отправляет блоки в webhook
func (n *SlackNotifier) Send(ctx context.Context, webhookURL string, msg Message) (Receipt, error) {
	receipt := Receipt{Content: msg.Text}
	if webhookURL == "" {
		return receipt, ErrSlackNotConfigured
	}

	payload, err := json.Marshal(map[string]interface{}{
		"text":   EmailSubject(msg), // fallback для уведомлений
		"blocks": SlackBlocks(msg, n.dashboardURL),
	})
	if err != nil {
		return receipt, err
	}

	_, err = doRequest(ctx, n.client, n.retry, "Slack webhook", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	return receipt, err
}
