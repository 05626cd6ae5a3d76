package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"risksignal/internal/engine"
	"risksignal/internal/metrics"
	"risksignal/internal/models"
	"risksignal/pkg/utils"
)

// Статусы ответа на телеметрию
const (
	TelemetryStatusProcessed = "PROCESSED"
	TelemetryStatusWarning   = "WARNING"
	TelemetryStatusViolation = "VIOLATION_DETECTED"
)

// ErrInvalidTelemetry - payload не прошел проверку
var ErrInvalidTelemetry = errors.New("invalid telemetry payload")

// alertTimeout - предел фоновой рассылки алертов по одной телеметрии
const alertTimeout = 30 * time.Second

// inlineTelemetryChecks - политики, проверяемые при каждой телеметрии
var inlineTelemetryChecks = map[models.PolicyType]bool{
	models.PolicyTypeDrawdown:      true,
	models.PolicyTypePositionLimit: true,
}

// TelemetryPayload - отчет агента
type TelemetryPayload struct {
	Balance       *float64   `json:"balance"`
	Equity        *float64   `json:"equity"`
	Margin        *float64   `json:"margin"`
	MarginFree    *float64   `json:"margin_free"`
	Positions     int        `json:"positions"`
	UnrealizedPnL *float64   `json:"unrealized_pnl"`
	RealizedPnL   *float64   `json:"realized_pnl"`
	Timestamp     *time.Time `json:"timestamp"`
	Attestation   string     `json:"attestation"`
	EventType     string     `json:"event_type"`
}

// Validate проверяет payload и выставляет тип события по умолчанию
func (p *TelemetryPayload) Validate() error {
	var errs utils.ValidationErrors
	if p.Positions < 0 {
		errs.Check("positions", errors.New("must not be negative"))
	}
	p.EventType = strings.ToLower(strings.TrimSpace(p.EventType))
	switch p.EventType {
	case "":
		p.EventType = models.TelemetryHeartbeat
	case models.TelemetryHeartbeat, models.TelemetryTrade, models.TelemetryPositionOpened, models.TelemetryPositionClosed:
	default:
		errs.Check("event_type", fmt.Errorf("unknown event type %q", p.EventType))
	}
	if err := errs.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTelemetry, err)
	}
	return nil
}

// TelemetryResult - ответ агенту
type TelemetryResult struct {
	Status     string            `json:"status"`
	Action     string            `json:"action"`
	Violations []ViolationReport `json:"violations,omitempty"`
	Message    string            `json:"message,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// TelemetryService принимает телеметрию агентов и выполняет встроенные проверки
//
// Порядок: аутентификация, проверка остановки под мьютексом агента, запись телеметрии,
// обновление метаданных, проверка drawdown и количества позиций. Критическое нарушение
// останавливает агента до сохранения событий и рассылки алертов.
type TelemetryService struct {
	auth      *AgentService
	agents    AgentRepositoryInterface
	telemetry TelemetryRepositoryInterface
	policies  PolicyRepositoryInterface
	registry  *engine.Registry
	halt      *HaltController
	publisher *eventPublisher
	now       func() time.Time
	logger    *utils.Logger

	alertsWG sync.WaitGroup
}

// TelemetryDeps - зависимости сервиса телеметрии
type TelemetryDeps struct {
	Auth        *AgentService
	Agents      AgentRepositoryInterface
	Telemetry   TelemetryRepositoryInterface
	Policies    PolicyRepositoryInterface
	Events      RiskEventRepositoryInterface
	Preferences PreferencesRepositoryInterface
	Registry    *engine.Registry
	Halt        *HaltController
	Alerts      AlertSender
	Broadcaster Broadcaster
}

// NewTelemetryService создает сервис телеметрии
func NewTelemetryService(d TelemetryDeps) *TelemetryService {
	logger := utils.L().WithComponent("telemetry")
	return &TelemetryService{
		auth:      d.Auth,
		agents:    d.Agents,
		telemetry: d.Telemetry,
		policies:  d.Policies,
		registry:  d.Registry,
		halt:      d.Halt,
		publisher: &eventPublisher{
			events:      d.Events,
			prefs:       d.Preferences,
			alerts:      d.Alerts,
			broadcaster: d.Broadcaster,
			logger:      logger,
		},
		now:    time.Now,
		logger: logger,
	}
}

// Ingest обрабатывает телеметрию агента с ключом apiKey
//
// Запись телеметрии и решение принимаются под мьютексом агента в HaltController:
// остановка, зафиксированная после аутентификации, не пропускает запрос.
//
// Ошибки: ErrInvalidAPIKey (401), ErrAgentHalted (403), ErrInvalidTelemetry (400).
func (s *TelemetryService) Ingest(ctx context.Context, apiKey string, payload TelemetryPayload) (*TelemetryResult, error) {
	agent, err := s.auth.Authenticate(ctx, apiKey)
	if err != nil {
		metrics.TelemetryProcessed.WithLabelValues("unauthorized").Inc()
		return nil, err
	}
	if agent.IsHalted {
		metrics.TelemetryProcessed.WithLabelValues("halted").Inc()
		return nil, ErrAgentHalted
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	var result *TelemetryResult
	err = s.halt.WithAgentLocked(ctx, agent.ID, func(current *models.Agent, halt HaltFunc) error {
		if current.IsHalted {
			metrics.TelemetryProcessed.WithLabelValues("halted").Inc()
			return ErrAgentHalted
		}
		var perr error
		result, perr = s.process(ctx, current, payload, halt)
		return perr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// process записывает телеметрию активного агента и выполняет встроенные проверки
func (s *TelemetryService) process(ctx context.Context, agent *models.Agent, payload TelemetryPayload, halt HaltFunc) (*TelemetryResult, error) {
	ts := s.now().UTC()
	if payload.Timestamp != nil && !payload.Timestamp.IsZero() {
		ts = payload.Timestamp.UTC()
	}
	log := s.logger.With(utils.AgentID(agent.ID))

	sample := &models.TelemetrySample{
		AgentID:       agent.ID,
		UserID:        agent.UserID,
		Balance:       payload.Balance,
		Equity:        payload.Equity,
		MarginUsed:    payload.Margin,
		MarginFree:    payload.MarginFree,
		Positions:     payload.Positions,
		UnrealizedPnL: payload.UnrealizedPnL,
		RealizedPnL:   payload.RealizedPnL,
		EventType:     payload.EventType,
		Attestation:   payload.Attestation,
		Timestamp:     ts,
	}
	if err := s.telemetry.InsertSample(ctx, sample); err != nil {
		metrics.TelemetryProcessed.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("store telemetry: %w", err)
	}

	meta := nextMetadata(agent.Metadata, payload)
	if err := s.agents.RecordHeartbeat(ctx, agent.ID, ts, meta); err != nil {
		log.Warn("failed to update agent heartbeat", zap.Error(err))
	}

	reports, results, err := s.check(ctx, agent, payload, ts)
	if err != nil {
		metrics.TelemetryProcessed.WithLabelValues("error").Inc()
		return nil, err
	}

	result := &TelemetryResult{Status: TelemetryStatusProcessed, Action: ActionContinue, Timestamp: ts}
	switch {
	case hasCritical(reports):
		reason := "Critical policy violation: " + joinSummaries(reports, models.SeverityCritical)
		if _, err := halt(ctx, reason); err != nil {
			// ответ все равно HALT: агент обязан остановиться даже если состояние не записалось
			log.Error("automatic halt failed", zap.Error(err))
		}
		result.Status = TelemetryStatusViolation
		result.Action = ActionHalt
		result.Violations = reports
		result.Message = "Critical policy violation - agent halted"
	case len(reports) > 0:
		result.Status = TelemetryStatusWarning
		result.Violations = reports
		result.Message = "Policy violations detected but within limits"
	}

	s.recordEvents(ctx, agent, results, ts)
	metrics.TelemetryProcessed.WithLabelValues(result.Status).Inc()
	return result, nil
}

// check выполняет встроенные проверки по активным политикам агента
func (s *TelemetryService) check(ctx context.Context, agent *models.Agent, p TelemetryPayload, ts time.Time) ([]ViolationReport, []*engine.Result, error) {
	policies, err := s.policies.ListActiveForAccount(ctx, agent.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("load agent policies: %w", err)
	}

	snap := telemetrySnapshot(agent.ID, p, ts)
	var (
		reports []ViolationReport
		results []*engine.Result
	)
	for _, policy := range policies {
		if !inlineTelemetryChecks[policy.Type] {
			continue
		}
		res, err := s.registry.Execute(&engine.ExecutionContext{Policy: policy, Snapshot: snap, Timestamp: ts})
		if err != nil {
			metrics.RecordEvaluation(string(policy.Type), string(engine.OutcomeEvaluationError))
			s.logger.Warn("inline check failed",
				utils.AgentID(agent.ID), utils.PolicyID(policy.ID), zap.Error(err))
			continue
		}
		if !res.IsViolation {
			metrics.RecordEvaluation(string(policy.Type), string(engine.OutcomeNoViolation))
			continue
		}
		metrics.RecordEvaluation(string(policy.Type), string(engine.OutcomeViolation))
		reports = append(reports, reportFromResult(res))
		results = append(results, res)
	}
	return reports, results, nil
}

// recordEvents сохраняет события и в фоне рассылает алерты
func (s *TelemetryService) recordEvents(ctx context.Context, agent *models.Agent, results []*engine.Result, ts time.Time) {
	agentID := agent.ID
	for _, res := range results {
		ev, err := engine.NewRiskEvent(res, ts)
		if err != nil || ev == nil {
			continue
		}
		ev.AgentID = &agentID
		current, limit := res.Violation.Measured()
		ev.Metadata["message"] = res.Violation.Summary()
		ev.Metadata["current_value"] = current
		ev.Metadata["threshold"] = limit

		if err := s.publisher.persist(ctx, ev, agent.UserID); err != nil {
			s.logger.Error("failed to store risk event",
				utils.AgentID(agentID), utils.PolicyID(res.PolicyID), zap.Error(err))
			continue
		}

		policy := models.Policy{ID: res.PolicyID, UserID: agent.UserID, Name: res.PolicyName}
		summary := res.Violation.Summary()
		s.alertsWG.Add(1)
		go func(ev *models.RiskEvent) {
			defer s.alertsWG.Done()
			actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
			defer cancel()
			s.publisher.alert(actx, ev, policy, summary)
		}(ev)
	}
}

// Wait ждет завершения фоновых рассылок (остановка сервера, тесты)
func (s *TelemetryService) Wait() {
	s.alertsWG.Wait()
}

// telemetrySnapshot строит снимок агента из присланных значений.
// Без баланса или equity drawdown не оценивается (баланс 0).
func telemetrySnapshot(agentID string, p TelemetryPayload, ts time.Time) *models.AccountSnapshot {
	m := &models.AgentMetrics{OpenPositions: p.Positions}
	if p.Balance != nil && p.Equity != nil {
		m.Balance = *p.Balance
		m.Equity = *p.Equity
	}
	if p.Margin != nil {
		m.Margin = *p.Margin
	}
	if p.MarginFree != nil {
		m.MarginFree = *p.MarginFree
	}
	if p.UnrealizedPnL != nil {
		m.UnrealizedPnL = *p.UnrealizedPnL
	}
	if p.RealizedPnL != nil {
		m.RealizedPnL = *p.RealizedPnL
	}
	return &models.AccountSnapshot{
		AccountID:   agentID,
		NetWorthUSD: m.Equity,
		Agent:       m,
		CapturedAt:  ts,
	}
}

// nextMetadata обновляет скользящие показатели агента
func nextMetadata(prev models.AgentMetadata, p TelemetryPayload) models.AgentMetadata {
	next := prev
	if p.Balance != nil {
		next.LastBalance = *p.Balance
	}
	if p.Equity != nil {
		next.LastEquity = *p.Equity
	}
	next.LastPositions = p.Positions
	if p.EventType == models.TelemetryTrade {
		next.TotalTrades++
	}
	return next
}

func joinSummaries(reports []ViolationReport, severity models.Severity) string {
	parts := make([]string, 0, len(reports))
	for _, r := range reports {
		if r.Severity == severity {
			parts = append(parts, r.Message)
		}
	}
	return strings.Join(parts, "; ")
}
