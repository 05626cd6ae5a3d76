// Package engine содержит движок правил риска
//
// Назначение:
// Превращает определение политики и снимок аккаунта в вердикт о нарушении.
// Реестр правил - явный объект, передается оценщику и сервисам.
//
// Компоненты:
// - Rule: чистая функция (config, snapshot) → вердикт
// - Registry: таблица policy_type → Rule, проверяет config до выполнения
// - Evaluator: получает снимки, параллельно выполняет политики, строит risk events
// - ReferenceAssets: списки стейблкоинов и blue-chip токенов (YAML, перезагружаемые)
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"risksignal/internal/models"
)

var (
	// ErrRuleNotFound - для policy_type не зарегистрировано правило
	ErrRuleNotFound = errors.New("rule not registered for policy type")

	// ErrRuleAlreadyRegistered - повторная регистрация того же типа
	ErrRuleAlreadyRegistered = errors.New("rule already registered for policy type")
)

// ConfigError - ошибка авторинга конфигурации политики
//
// Отличается от нарушения: политика с такой ошибкой не может быть оценена вообще.
type ConfigError struct {
	PolicyType models.PolicyType
	Reason     string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s config: %s", e.PolicyType, e.Reason)
}

// IsConfigError проверяет что ошибка (или обернутая) - ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// TradeIntent - параметры предлагаемой сделки для pre-trade проверки
type TradeIntent struct {
	Symbol string
	Action string // buy | sell
	Volume float64
}

// ExecutionContext - входные данные одного выполнения правила
//
// Trade != nil означает pre-trade режим: лимиты проверяются с учетом новой сделки.
type ExecutionContext struct {
	Policy    models.Policy
	Snapshot  *models.AccountSnapshot
	History   []models.AccountSnapshot
	Trade     *TradeIntent
	Timestamp time.Time
}

// Violation - данные конкретного нарушения
type Violation interface {
	Kind() models.PolicyType
	// Summary - человекочитаемое описание для уведомлений и ответов API
	Summary() string
	// Measured возвращает текущее значение и порог
	Measured() (current, limit float64)
}

// Result - вердикт одного выполнения правила
type Result struct {
	PolicyID    string                 `json:"policy_id"`
	PolicyName  string                 `json:"policy_name"`
	PolicyType  models.PolicyType      `json:"policy_type"`
	AccountID   string                 `json:"account_id"`
	IsViolation bool                   `json:"is_violation"`
	Violation   Violation              `json:"violation_data"`
	Severity    models.Severity        `json:"severity"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ViolationJSON сериализует данные нарушения для хранения
func (r *Result) ViolationJSON() (json.RawMessage, error) {
	if r.Violation == nil {
		return json.RawMessage("null"), nil
	}
	data, err := jsonAPI.Marshal(r.Violation)
	if err != nil {
		return nil, fmt.Errorf("marshal violation: %w", err)
	}
	return data, nil
}

// Check - правило, связанное с уже проверенной типизированной конфигурацией
type Check func(ec *ExecutionContext) *Result

// Rule - реализация одного типа политики
//
// Bind декодирует и валидирует config в собственный типизированный вид правила.
// Невалидный config возвращает *ConfigError.
type Rule interface {
	Type() models.PolicyType
	Bind(raw json.RawMessage) (Check, error)
}

func baseResult(ec *ExecutionContext) *Result {
	return &Result{
		PolicyID:   ec.Policy.ID,
		PolicyName: ec.Policy.Name,
		PolicyType: ec.Policy.Type,
		AccountID:  ec.Policy.AccountID,
		Severity:   ec.Policy.Severity,
	}
}

func (r *Result) violate(v Violation, ts time.Time, meta map[string]interface{}) *Result {
	if meta == nil {
		meta = make(map[string]interface{}, 1)
	}
	meta["triggered_at"] = ts.UTC().Format(time.RFC3339)
	r.IsViolation = true
	r.Violation = v
	r.Metadata = meta
	return r
}
