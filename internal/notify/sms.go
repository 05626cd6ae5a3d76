package notify

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"risksignal/internal/models"
	"risksignal/pkg/retry"
)

// DefaultTwilioBaseURL - базовый адрес Twilio REST API
const DefaultTwilioBaseURL = "https://api.twilio.com"

// SMSConfig - параметры Twilio
type SMSConfig struct {
	AccountSID   string
	AuthToken    string
	FromNumber   string
	BaseURL      string
	DashboardURL string
	Retry        retry.Config
}

// SMSNotifier отправляет SMS через Twilio Messages API
type SMSNotifier struct {
	cfg    SMSConfig
	client *http.Client
}

// NewSMSNotifier создает канал. Без SID/токена/номера отправителя канал неактивен.
func NewSMSNotifier(cfg SMSConfig, client *http.Client) *SMSNotifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTwilioBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.DashboardURL == "" {
		cfg.DashboardURL = DefaultDashboardURL
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.ChannelConfig()
	}
	return &SMSNotifier{cfg: cfg, client: client}
}

func (n *SMSNotifier) Channel() models.AlertChannel { return models.AlertChannelSMS }

type twilioResponse struct {
	SID string `json:"sid"`
}

// Send отправляет SMS на recipient (E.164)
func (n *SMSNotifier) Send(ctx context.Context, recipient string, msg Message) (Receipt, error) {
	text := SMSText(msg, n.cfg.DashboardURL)
	receipt := Receipt{Content: text}
	if n.cfg.AccountSID == "" || n.cfg.AuthToken == "" || n.cfg.FromNumber == "" || recipient == "" {
		return receipt, ErrSMSNotConfigured
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", n.cfg.BaseURL, url.PathEscape(n.cfg.AccountSID))
	form := url.Values{
		"To":   {recipient},
		"From": {n.cfg.FromNumber},
		"Body": {text},
	}.Encode()

	body, err := doRequest(ctx, n.client, n.cfg.Retry, "Twilio", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return receipt, err
	}

	var out twilioResponse
	if err := json.Unmarshal(body, &out); err == nil {
		receipt.MessageID = out.SID
	}
	return receipt, nil
}
