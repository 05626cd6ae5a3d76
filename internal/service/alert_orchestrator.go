package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"risksignal/internal/metrics"
	"risksignal/internal/models"
	"risksignal/internal/notify"
	"risksignal/pkg/utils"
)

// Значения по умолчанию для ограничения частоты алертов
const (
	DefaultAlertRateWindow = 60 * time.Minute
	DefaultAlertRateMax    = 3
)

// Получатели, записываемые в журнал если адрес неизвестен
const (
	fallbackEmail = "unknown@example.com"
	fallbackPhone = "+10000000000"
	fallbackSlack = "slack-webhook"
)

// ErrAlertRateLimited - по событию уже отправлено максимальное число алертов за окно
var ErrAlertRateLimited = errors.New("alert rate limit reached for risk event")

// suppressedReason - причина в журнале для каналов, не уместившихся в лимит
const suppressedReason = "alert rate limit reached"

// countedStatuses - статусы, которые учитываются в rate limit
var countedStatuses = []models.AlertStatus{models.AlertStatusSent, models.AlertStatusDelivered}

// Recipients - явные адреса доставки, имеют приоритет над настройками
type Recipients struct {
	Email        string
	Phone        string
	SlackWebhook string
}

// AlertPayload - данные одного алерта по risk event
type AlertPayload struct {
	RiskEventID string
	UserID      string
	AccountID   string
	PolicyName  string
	Severity    models.Severity
	Message     string
	DetectedAt  time.Time
	Recipients  Recipients
}

// AlertOrchestratorConfig - параметры ограничения частоты
type AlertOrchestratorConfig struct {
	RateWindow time.Duration
	RateMax    int
}

// AlertOrchestrator доставляет алерты по каналам с ограничением частоты на risk event
//
// Проверка лимита, рассылка и запись журнала выполняются под блокировкой risk event,
// поэтому параллельные вызовы по одному событию не превышают RateMax.
type AlertOrchestrator struct {
	alerts   AlertRepositoryInterface
	channels Channels
	cfg      AlertOrchestratorConfig
	locks    *keyedMutex
	now      func() time.Time
	logger   *utils.Logger
}

// NewAlertOrchestrator создает оркестратор
func NewAlertOrchestrator(alerts AlertRepositoryInterface, channels Channels, cfg AlertOrchestratorConfig) *AlertOrchestrator {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = DefaultAlertRateWindow
	}
	if cfg.RateMax <= 0 {
		cfg.RateMax = DefaultAlertRateMax
	}
	if channels == nil {
		channels = Channels{}
	}
	return &AlertOrchestrator{
		alerts:   alerts,
		channels: channels,
		cfg:      cfg,
		locks:    newKeyedMutex(),
		now:      time.Now,
		logger:   utils.L().WithComponent("alerts"),
	}
}

// channelTarget - выбранный канал и адрес
type channelTarget struct {
	channel   models.AlertChannel
	recipient string
}

// SendAlerts рассылает алерт по включенным каналам и возвращает записи журнала
//
// Каждая попытка (успешная или нет) записывается отдельно. Ошибка одного канала
// не влияет на остальные. Важность события влияет только на оформление сообщения.
// За один вызов отправляется не больше RateMax - count каналов в порядке
// email, SMS, Slack; остальные записываются как SUPPRESSED.
func (o *AlertOrchestrator) SendAlerts(ctx context.Context, payload AlertPayload, prefs *models.NotificationPreferences) ([]models.AlertRecord, error) {
	unlock := o.locks.Lock(payload.RiskEventID)
	defer unlock()

	log := o.logger.With(utils.RiskEventID(payload.RiskEventID), utils.Severity(string(payload.Severity)))

	targets := resolveChannels(payload.Recipients, prefs)

	remaining, err := o.remainingQuota(ctx, payload.RiskEventID)
	switch {
	case err != nil:
		// Исключение из fail-closed: сбой проверки лимита не блокирует алерты.
		// Лучше лишнее уведомление, чем пропущенное нарушение.
		metrics.RateLimitLookupErrors.Inc()
		log.Warn("alert rate limit lookup failed, sending anyway", zap.Error(err))
		remaining = len(targets)
	case remaining <= 0:
		metrics.AlertsRateLimited.Inc()
		log.Info("alert rate limit reached, skipping",
			zap.Int("max", o.cfg.RateMax), zap.Duration("window", o.cfg.RateWindow))
		return nil, ErrAlertRateLimited
	}

	if len(targets) == 0 {
		log.Debug("no alert channels enabled")
		return nil, nil
	}

	var suppressed []channelTarget
	if remaining < len(targets) {
		targets, suppressed = targets[:remaining], targets[remaining:]
		metrics.AlertsRateLimited.Inc()
		log.Info("alert rate limit leaves room for some channels only",
			zap.Int("dispatched", len(targets)), zap.Int("suppressed", len(suppressed)))
	}

	msg := notify.Message{
		RiskEventID: payload.RiskEventID,
		AccountID:   payload.AccountID,
		Severity:    payload.Severity,
		Text:        payload.Message,
		DetectedAt:  payload.DetectedAt,
	}

	records := make([]models.AlertRecord, len(targets), len(targets)+len(suppressed))
	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target channelTarget) {
			defer wg.Done()
			records[i] = o.deliver(ctx, target, msg)
		}(i, target)
	}
	wg.Wait()

	for _, target := range suppressed {
		records = append(records, o.suppress(ctx, target, msg))
	}
	return records, nil
}

// remainingQuota - сколько алертов по событию еще можно отправить в текущем окне
func (o *AlertOrchestrator) remainingQuota(ctx context.Context, riskEventID string) (int, error) {
	count, err := o.alerts.CountRecent(ctx, riskEventID, countedStatuses, o.now().Add(-o.cfg.RateWindow))
	if err != nil {
		return 0, err
	}
	return o.cfg.RateMax - count, nil
}

// suppress записывает канал, не отправленный из-за лимита
func (o *AlertOrchestrator) suppress(ctx context.Context, target channelTarget, msg notify.Message) models.AlertRecord {
	reason := suppressedReason
	record := models.AlertRecord{
		RiskEventID:    msg.RiskEventID,
		Channel:        target.channel,
		Recipient:      recipientOrFallback(target),
		MessageContent: msg.Text,
		Status:         models.AlertStatusSuppressed,
		ErrorMessage:   &reason,
		Metadata:       map[string]interface{}{"reason": reason},
		SentAt:         o.now(),
	}
	metrics.RecordAlertDelivery(string(record.Channel), string(record.Status))

	if err := o.alerts.Create(ctx, &record); err != nil {
		o.logger.Error("failed to record suppressed alert",
			utils.RiskEventID(msg.RiskEventID), utils.Channel(string(target.channel)), zap.Error(err))
	}
	return record
}

// deliver отправляет алерт в один канал и записывает попытку
func (o *AlertOrchestrator) deliver(ctx context.Context, target channelTarget, msg notify.Message) models.AlertRecord {
	var (
		receipt notify.Receipt
		err     error
	)
	if n, ok := o.channels[target.channel]; ok && n != nil {
		receipt, err = n.Send(ctx, target.recipient, msg)
	} else {
		err = notConfigured(target.channel)
	}

	now := o.now()
	record := models.AlertRecord{
		RiskEventID:    msg.RiskEventID,
		Channel:        target.channel,
		Recipient:      recipientOrFallback(target),
		MessageContent: receipt.Content,
		Metadata:       map[string]interface{}{},
		SentAt:         now,
	}
	if record.MessageContent == "" {
		record.MessageContent = msg.Text
	}
	if err != nil {
		errText := err.Error()
		record.Status = models.AlertStatusFailed
		record.ErrorMessage = &errText
		record.FailedAt = &now
		record.Metadata["error"] = errText
		o.logger.Warn("alert delivery failed",
			utils.RiskEventID(msg.RiskEventID), utils.Channel(string(target.channel)), zap.Error(err))
	} else {
		record.Status = models.AlertStatusSent
		record.Metadata["message_id"] = receipt.MessageID
	}
	metrics.RecordAlertDelivery(string(record.Channel), string(record.Status))

	if werr := o.alerts.Create(ctx, &record); werr != nil {
		o.logger.Error("failed to record alert delivery",
			utils.RiskEventID(msg.RiskEventID), utils.Channel(string(target.channel)), zap.Error(werr))
	}
	return record
}

// resolveChannels выбирает каналы: без настроек только email при наличии адреса,
// с настройками - каждый канал с включенным флагом и известным адресом.
// Порядок email, SMS, Slack задает приоритет при частичном лимите.
func resolveChannels(r Recipients, prefs *models.NotificationPreferences) []channelTarget {
	if prefs == nil {
		if r.Email == "" {
			return nil
		}
		return []channelTarget{{channel: models.AlertChannelEmail, recipient: r.Email}}
	}

	email := firstNonEmpty(r.Email, prefs.Email)
	phone := firstNonEmpty(r.Phone, prefs.PhoneNumber)
	webhook := firstNonEmpty(r.SlackWebhook, prefs.SlackWebhookURL)

	var targets []channelTarget
	if prefs.EmailEnabled && email != "" {
		targets = append(targets, channelTarget{models.AlertChannelEmail, email})
	}
	if prefs.SMSEnabled && phone != "" {
		targets = append(targets, channelTarget{models.AlertChannelSMS, phone})
	}
	if prefs.SlackEnabled && webhook != "" {
		targets = append(targets, channelTarget{models.AlertChannelSlack, webhook})
	}
	return targets
}

func recipientOrFallback(t channelTarget) string {
	if t.recipient != "" {
		return t.recipient
	}
	switch t.channel {
	case models.AlertChannelSMS:
		return fallbackPhone
	case models.AlertChannelSlack:
		return fallbackSlack
	}
	return fallbackEmail
}

func notConfigured(ch models.AlertChannel) error {
	switch ch {
	case models.AlertChannelSMS:
		return notify.ErrSMSNotConfigured
	case models.AlertChannelSlack:
		return notify.ErrSlackNotConfigured
	}
	return notify.ErrEmailNotConfigured
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
