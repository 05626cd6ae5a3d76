package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"risksignal/internal/models"
)

// SeverityEmoji - акцент в заголовках. На маршрутизацию не влияет.
func SeverityEmoji(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "🚨"
	case models.SeverityHigh:
		return "⚠️"
	case models.SeverityMedium:
		return "⚡"
	default:
		return "ℹ️"
	}
}

// SeverityColor - цвет бейджа в email
func SeverityColor(s models.Severity) string {
	switch s {
	case models.SeverityCritical:
		return "#dc3545"
	case models.SeverityHigh:
		return "#fd7e14"
	case models.SeverityMedium:
		return "#ffc107"
	default:
		return "#0dcaf0"
	}
}

// ShortAccount обрезает адрес до 10 символов с многоточием
func ShortAccount(account string) string {
	if len(account) <= 10 {
		return account
	}
	return account[:10] + "..."
}

// EmailSubject - тема письма
func EmailSubject(msg Message) string {
	return fmt.Sprintf("%s Risk Alert: %s", SeverityEmoji(msg.Severity), ShortAccount(msg.AccountID))
}

// SMSText - текст SMS
func SMSText(msg Message, dashboardURL string) string {
	return fmt.Sprintf("%s RISKSIGNAL ALERT: %s | Account: %s | View: %s",
		SeverityEmoji(msg.Severity), msg.Text, ShortAccount(msg.AccountID), dashboardURL)
}

var emailTemplate = template.Must(template.New("email").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Risk Alert</title></head>
<body style="margin:0;padding:0;font-family:-apple-system,'Segoe UI',Roboto,Arial,sans-serif;background-color:#f5f5f5;">
  <table width="100%" cellpadding="0" cellspacing="0" style="padding:40px 20px;">
    <tr><td align="center">
      <table width="600" cellpadding="0" cellspacing="0" style="background-color:#ffffff;border-radius:12px;">
        <tr><td style="background:#667eea;padding:40px;text-align:center;">
          <h1 style="margin:0;color:#ffffff;font-size:28px;">{{.Emoji}} Risk Alert</h1>
        </td></tr>
        <tr><td style="padding:40px;">
          <p style="font-size:16px;color:#333333;">A <strong>{{.Severity}}</strong> severity risk has been detected:</p>
          <div style="background-color:#f8f9fa;border-left:4px solid #667eea;padding:20px;margin:24px 0;">
            <p style="margin:0;font-size:15px;color:#495057;">{{.Text}}</p>
          </div>
          <table width="100%" cellpadding="12" cellspacing="0" style="border:1px solid #e9ecef;">
            <tr><td><strong>Account:</strong></td><td style="font-family:'Courier New',monospace;">{{.Account}}</td></tr>
            <tr><td><strong>Severity:</strong></td><td><span style="padding:4px 12px;background-color:{{.Color}};color:white;border-radius:4px;">{{.Severity}}</span></td></tr>
            <tr><td><strong>Detected At:</strong></td><td>{{.DetectedAt}}</td></tr>
          </table>
          <a href="{{.Dashboard}}" style="display:inline-block;margin-top:24px;padding:14px 32px;background:#667eea;color:#ffffff;text-decoration:none;border-radius:8px;">View Dashboard</a>
        </td></tr>
        <tr><td style="background-color:#f8f9fa;padding:24px;text-align:center;">
          <p style="margin:0;font-size:12px;color:#6c757d;">You're receiving this alert because you have active risk policies configured for this account.</p>
          <p style="margin:8px 0 0 0;font-size:12px;color:#6c757d;">&copy; {{.Year}} RiskSignal. All rights reserved.</p>
        </td></tr>
      </table>
    </td></tr>
  </table>
</body>
</html>`))

// EmailHTML отрисовывает HTML письма. Пользовательский текст экранируется.
func EmailHTML(msg Message, dashboardURL string) (string, error) {
	detected := msg.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}
	color := SeverityColor(msg.Severity)
	var buf bytes.Buffer
	err := emailTemplate.Execute(&buf, map[string]interface{}{
		"Emoji":      SeverityEmoji(msg.Severity),
		"Severity":   string(msg.Severity),
		"Text":       msg.Text,
		"Account":    msg.AccountID,
		"Color":      template.CSS(color),
		"DetectedAt": detected.UTC().Format("2006-01-02 15:04:05 UTC"),
		"Dashboard":  template.URL(dashboardURL),
		"Year":       detected.Year(),
	})
	return buf.String(), err
}

// SlackText - текстовый объект Block Kit
type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type SlackElement struct {
	Type  string    `json:"type"`
	Text  SlackText `json:"text"`
	URL   string    `json:"url,omitempty"`
	Style string    `json:"style,omitempty"`
}

// SlackBlock - блок Slack Block Kit
type SlackBlock struct {
	Type     string         `json:"type"`
	Text     *SlackText     `json:"text,omitempty"`
	Fields   []SlackText    `json:"fields,omitempty"`
	Elements []SlackElement `json:"elements,omitempty"`
}

// SlackBlocks строит header, section, fields и кнопку дашборда
func SlackBlocks(msg Message, dashboardURL string) []SlackBlock {
	detected := msg.DetectedAt
	if detected.IsZero() {
		detected = time.Now()
	}
	return []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{Type: "plain_text", Text: fmt.Sprintf("%s Risk Alert: %s", SeverityEmoji(msg.Severity), msg.Severity)},
		},
		{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: msg.Text},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*Account:*\n`%s`", msg.AccountID)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Detected At:*\n%s", detected.UTC().Format(time.RFC1123))},
			},
		},
		{
			Type: "actions",
			Elements: []SlackElement{{
				Type:  "button",
				Text:  SlackText{Type: "plain_text", Text: "View Dashboard"},
				URL:   dashboardURL,
				Style: "primary",
			}},
		},
	}
}
