package notify

import (
	"bytes"
	"context"
	"net/http"
	"strings"

	"risksignal/internal/models"
	"risksignal/pkg/retry"
)

// DefaultResendURL - endpoint отправки писем Resend
const DefaultResendURL = "https://api.resend.com/emails"

// EmailConfig - параметры Resend
type EmailConfig struct {
	APIKey       string
	From         string
	Endpoint     string
	DashboardURL string
	Retry        retry.Config
}

// EmailNotifier отправляет письма через Resend HTTP API
type EmailNotifier struct {
	cfg    EmailConfig
	client *http.Client
}

// NewEmailNotifier создает канал. Пустой APIKey оставляет канал неактивным:
// Send возвращает ErrEmailNotConfigured.
func NewEmailNotifier(cfg EmailConfig, client *http.Client) *EmailNotifier {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultResendURL
	}
	if cfg.From == "" {
		cfg.From = "RiskSignal <alerts@risksignal.io>"
	}
	if cfg.DashboardURL == "" {
		cfg.DashboardURL = DefaultDashboardURL
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.ChannelConfig()
	}
	return &EmailNotifier{cfg: cfg, client: client}
}

func (n *EmailNotifier) Channel() models.AlertChannel { return models.AlertChannelEmail }

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
	Text    string   `json:"text"`
}

type resendResponse struct {
	ID string `json:"id"`
}

// Send отправляет письмо на recipient
func (n *EmailNotifier) Send(ctx context.Context, recipient string, msg Message) (Receipt, error) {
	receipt := Receipt{Content: msg.Text}
	if n.cfg.APIKey == "" || strings.TrimSpace(recipient) == "" {
		return receipt, ErrEmailNotConfigured
	}

	html, err := EmailHTML(msg, n.cfg.DashboardURL)
	if err != nil {
		return receipt, err
	}
	payload, err := json.Marshal(resendRequest{
		From:    n.cfg.From,
		To:      []string{recipient},
		Subject: EmailSubject(msg),
		HTML:    html,
		Text:    msg.Text,
	})
	if err != nil {
		return receipt, err
	}

	body, err := doRequest(ctx, n.client, n.cfg.Retry, "Resend", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+n.cfg.APIKey)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return receipt, err
	}

	var out resendResponse
	if err := json.Unmarshal(body, &out); err == nil {
		receipt.MessageID = out.ID
	}
	return receipt, nil
}
