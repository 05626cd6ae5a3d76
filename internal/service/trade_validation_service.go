package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"risksignal/internal/engine"
	"risksignal/internal/metrics"
	"risksignal/internal/models"
	"risksignal/pkg/utils"
)

// Итоги pre-trade проверки
const (
	ValidationPass  = models.ValidationPass
	ValidationFail  = models.ValidationFail
	ValidationError = "ERROR"
)

// DefaultValidationTokenTTL - срок жизни токена разрешенной сделки
const DefaultValidationTokenTTL = 5 * time.Minute

const tokenIssuer = "risksignal"

var (
	// ErrInvalidTradeRequest - запрос не прошел проверку полей
	ErrInvalidTradeRequest = errors.New("invalid trade request")

	// ErrInvalidValidationToken - токен не подписан нами, просрочен или поврежден
	ErrInvalidValidationToken = errors.New("invalid validation token")
)

// preTradeOrder - фиксированный порядок проверок
var preTradeOrder = map[models.PolicyType]int{
	models.PolicyTypeDrawdown:        0,
	models.PolicyTypePositionLimit:   1,
	models.PolicyTypePositionSize:    2,
	models.PolicyTypeDailyTradeLimit: 3,
}

// TradeRequest - предлагаемая сделка
type TradeRequest struct {
	APIKey         string     `json:"api_key"`
	Symbol         string     `json:"symbol"`
	Action         string     `json:"action"`
	Volume         float64    `json:"volume"`
	Price          *float64   `json:"price,omitempty"`
	StopLoss       *float64   `json:"stop_loss,omitempty"`
	TakeProfit     *float64   `json:"take_profit,omitempty"`
	CurrentBalance *float64   `json:"current_balance,omitempty"`
	CurrentEquity  *float64   `json:"current_equity,omitempty"`
	OpenPositions  int        `json:"open_positions"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
}

// Validate проверяет поля сделки
func (r *TradeRequest) Validate() error {
	r.Action = strings.ToLower(strings.TrimSpace(r.Action))
	r.Symbol = strings.TrimSpace(r.Symbol)

	var errs utils.ValidationErrors
	errs.Check("symbol", utils.ValidateSymbol(r.Symbol))
	errs.Check("action", utils.ValidateTradeAction(r.Action))
	errs.Check("volume", utils.ValidateVolume(r.Volume))
	if r.OpenPositions < 0 {
		errs.Check("open_positions", errors.New("must not be negative"))
	}
	if err := errs.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTradeRequest, err)
	}
	return nil
}

// TradeDecision - ответ агенту
type TradeDecision struct {
	Validation string            `json:"validation"`
	Reason     string            `json:"reason"`
	Action     string            `json:"action"`
	Token      string            `json:"token,omitempty"`
	Violations []ViolationReport `json:"violations,omitempty"`
	Message    string            `json:"message,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// ValidationClaims - содержимое токена разрешенной сделки
type ValidationClaims struct {
	AgentID string  `json:"agent_id"`
	Symbol  string  `json:"symbol"`
	Action  string  `json:"action"`
	Volume  float64 `json:"volume"`
	jwt.RegisteredClaims
}

// TradeValidationService - pre-trade проверка сделок агента
type TradeValidationService struct {
	auth      *AgentService
	halt      *HaltController
	policies  PolicyRepositoryInterface
	telemetry TelemetryRepositoryInterface
	registry  *engine.Registry
	secret    []byte
	tokenTTL  time.Duration
	now       func() time.Time
	logger    *utils.Logger
}

// NewTradeValidationService создает сервис. secret - ключ подписи HS256.
// Решение по сделке принимается под мьютексом агента в halt.
func NewTradeValidationService(auth *AgentService, halt *HaltController, policies PolicyRepositoryInterface, telemetry TelemetryRepositoryInterface,
	registry *engine.Registry, secret []byte, tokenTTL time.Duration) *TradeValidationService {
	if tokenTTL <= 0 {
		tokenTTL = DefaultValidationTokenTTL
	}
	return &TradeValidationService{
		auth:      auth,
		halt:      halt,
		policies:  policies,
		telemetry: telemetry,
		registry:  registry,
		secret:    secret,
		tokenTTL:  tokenTTL,
		now:       time.Now,
		logger:    utils.L().WithComponent("pretrade"),
	}
}

// Validate проверяет сделку
//
// Неверный ключ дает ErrInvalidAPIKey. Остановленный агент получает FAIL/HALT без ошибки.
// Ошибка оценки любой политики приводит к ошибке, сделка не разрешается.
func (s *TradeValidationService) Validate(ctx context.Context, req TradeRequest) (*TradeDecision, error) {
	agent, err := s.auth.Authenticate(ctx, req.APIKey)
	if err != nil {
		metrics.TradeValidations.WithLabelValues("unauthorized").Inc()
		return nil, err
	}
	now := s.now().UTC()

	if agent.IsHalted {
		return haltedDecision(agent, now), nil
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var decision *TradeDecision
	err = s.halt.WithAgentLocked(ctx, agent.ID, func(current *models.Agent, _ HaltFunc) error {
		if current.IsHalted {
			decision = haltedDecision(current, now)
			return nil
		}
		var derr error
		decision, derr = s.decide(ctx, current, req, now)
		return derr
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// haltedDecision - ответ остановленному агенту с причиной остановки
func haltedDecision(agent *models.Agent, now time.Time) *TradeDecision {
	metrics.TradeValidations.WithLabelValues("halted").Inc()
	reason := "Agent has been halted by governance system"
	if agent.HaltReason != nil && *agent.HaltReason != "" {
		reason = *agent.HaltReason
	}
	return &TradeDecision{
		Validation: ValidationFail,
		Reason:     "Agent is halted",
		Action:     ActionHalt,
		Message:    reason,
		Timestamp:  now,
	}
}

// decide проверяет сделку активного агента по его политикам
func (s *TradeValidationService) decide(ctx context.Context, agent *models.Agent, req TradeRequest, now time.Time) (*TradeDecision, error) {
	policies, err := s.policies.ListActiveForAccount(ctx, agent.ID)
	if err != nil {
		return nil, fmt.Errorf("load agent policies: %w", err)
	}
	policies = orderPreTrade(policies)

	if len(policies) == 0 {
		return s.pass(ctx, agent, req, nil, "No active policies to enforce", now)
	}

	snap, err := s.tradeSnapshot(ctx, agent, req, policies, now)
	if err != nil {
		return nil, err
	}
	intent := &engine.TradeIntent{Symbol: req.Symbol, Action: req.Action, Volume: req.Volume}

	var reports []ViolationReport
	for _, policy := range policies {
		res, err := s.registry.Execute(&engine.ExecutionContext{
			Policy:    policy,
			Snapshot:  snap,
			Trade:     intent,
			Timestamp: now,
		})
		if err != nil {
			metrics.RecordEvaluation(string(policy.Type), string(engine.OutcomeEvaluationError))
			return nil, fmt.Errorf("evaluate policy %s: %w", policy.ID, err)
		}
		if res.IsViolation {
			metrics.RecordEvaluation(string(policy.Type), string(engine.OutcomeViolation))
			reports = append(reports, reportFromResult(res))
		} else {
			metrics.RecordEvaluation(string(policy.Type), string(engine.OutcomeNoViolation))
		}
	}

	if hasCritical(reports) {
		s.record(ctx, agent, req, ValidationFail, reports, nil, now)
		metrics.TradeValidations.WithLabelValues(ValidationFail).Inc()
		s.logger.Info("trade rejected",
			utils.AgentID(agent.ID), zap.String("symbol", req.Symbol), zap.Int("violations", len(reports)))
		return &TradeDecision{
			Validation: ValidationFail,
			Reason:     "Critical policy violations detected",
			Action:     ActionRejectTrade,
			Violations: reports,
			Timestamp:  now,
		}, nil
	}

	return s.pass(ctx, agent, req, reports, "All policy checks passed", now)
}

func (s *TradeValidationService) pass(ctx context.Context, agent *models.Agent, req TradeRequest, warnings []ViolationReport, reason string, now time.Time) (*TradeDecision, error) {
	token, err := s.issueToken(agent.ID, req, now)
	if err != nil {
		return nil, fmt.Errorf("issue validation token: %w", err)
	}
	s.record(ctx, agent, req, ValidationPass, warnings, &token, now)
	metrics.TradeValidations.WithLabelValues(ValidationPass).Inc()
	return &TradeDecision{
		Validation: ValidationPass,
		Reason:     reason,
		Action:     ActionContinue,
		Token:      token,
		Violations: warnings,
		Timestamp:  now,
	}, nil
}

// tradeSnapshot строит снимок агента из запроса. Сделки за день считаются
// только если есть политика DAILY_TRADE_LIMIT.
func (s *TradeValidationService) tradeSnapshot(ctx context.Context, agent *models.Agent, req TradeRequest, policies []models.Policy, now time.Time) (*models.AccountSnapshot, error) {
	m := &models.AgentMetrics{OpenPositions: req.OpenPositions}
	if req.CurrentBalance != nil && req.CurrentEquity != nil {
		m.Balance = *req.CurrentBalance
		m.Equity = *req.CurrentEquity
	}
	for _, p := range policies {
		if p.Type != models.PolicyTypeDailyTradeLimit {
			continue
		}
		count, err := s.telemetry.CountEventsSince(ctx, agent.ID, models.TelemetryTrade, utils.DayStartUTC(now))
		if err != nil {
			return nil, fmt.Errorf("count trades today: %w", err)
		}
		m.TradesToday = count
		break
	}
	return &models.AccountSnapshot{AccountID: agent.ID, NetWorthUSD: m.Equity, Agent: m, CapturedAt: now}, nil
}

// record пишет попытку в журнал. Ошибка записи не меняет решение.
func (s *TradeValidationService) record(ctx context.Context, agent *models.Agent, req TradeRequest, result string, reports []ViolationReport, token *string, now time.Time) {
	v := &models.TradeValidation{
		AgentID:   agent.ID,
		UserID:    agent.UserID,
		Symbol:    req.Symbol,
		Action:    req.Action,
		Volume:    req.Volume,
		Result:    result,
		Token:     token,
		Timestamp: now,
	}
	if len(reports) > 0 {
		data, err := json.Marshal(reports)
		if err == nil {
			v.Violations = data
		}
	}
	if err := s.telemetry.InsertValidation(ctx, v); err != nil {
		s.logger.Warn("failed to log trade validation", utils.AgentID(agent.ID), zap.Error(err))
	}
}

func (s *TradeValidationService) issueToken(agentID string, req TradeRequest, now time.Time) (string, error) {
	claims := ValidationClaims{
		AgentID: agentID,
		Symbol:  req.Symbol,
		Action:  req.Action,
		Volume:  req.Volume,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// VerifyToken проверяет подпись и срок токена и возвращает параметры разрешенной сделки
func (s *TradeValidationService) VerifyToken(token string) (*ValidationClaims, error) {
	claims := &ValidationClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidValidationToken, err)
	}
	return claims, nil
}

// orderPreTrade оставляет agent-политики в фиксированном порядке проверок
func orderPreTrade(policies []models.Policy) []models.Policy {
	out := make([]models.Policy, 0, len(policies))
	for _, p := range policies {
		if _, ok := preTradeOrder[p.Type]; ok {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return preTradeOrder[out[i].Type] < preTradeOrder[out[j].Type]
	})
	return out
}
