package models

import (
	"encoding/json"
	"time"
)

// PolicyType - тег типа политики, определяет форму config
type PolicyType string

const (
	PolicyTypeNetWorth           PolicyType = "NET_WORTH"           // порог стоимости кошелька
	PolicyTypeAssetConcentration PolicyType = "ASSET_CONCENTRATION" // доля одного актива
	PolicyTypeUnauthorizedToken  PolicyType = "UNAUTHORIZED_TOKEN"  // токены вне белого списка
	PolicyTypeDrawdown           PolicyType = "DRAWDOWN"            // просадка агента
	PolicyTypePositionLimit      PolicyType = "POSITION_LIMIT"      // количество открытых позиций
	PolicyTypePositionSize       PolicyType = "POSITION_SIZE"       // объем одной сделки
	PolicyTypeDailyTradeLimit    PolicyType = "DAILY_TRADE_LIMIT"   // сделок за день
)

// IsAgentType возвращает true для политик, которые проверяются по телеметрии агента
func (t PolicyType) IsAgentType() bool {
	switch t {
	case PolicyTypeDrawdown, PolicyTypePositionLimit, PolicyTypePositionSize, PolicyTypeDailyTradeLimit:
		return true
	}
	return false
}

// Severity - уровень важности политики и события
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Valid проверяет что значение входит в перечисление
func (s Severity) Valid() bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}

// Policy представляет настроенное ограничение риска для одного аккаунта
//
// AccountID - адрес кошелька для wallet-политик или ID агента для agent-политик.
// Config хранится как JSON, форма зависит от Type и проверяется движком правил.
// Политики не удаляются пока на них ссылаются risk events (предпочтительно выключение).
type Policy struct {
	ID          string          `json:"id" db:"id"`
	UserID      string          `json:"user_id" db:"user_id"`
	AccountID   string          `json:"account_id" db:"account_id"`
	Type        PolicyType      `json:"policy_type" db:"policy_type"`
	Name        string          `json:"policy_name" db:"policy_name"`
	Description string          `json:"description,omitempty" db:"description"`
	Config      json.RawMessage `json:"config" db:"config"`
	Severity    Severity        `json:"severity" db:"severity"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}
