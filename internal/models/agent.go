package models

import (
	"encoding/json"
	"time"
)

// Статусы агента
const (
	AgentStatusActive   = "active"   // присылает телеметрию
	AgentStatusInactive = "inactive" // создан, телеметрии еще не было
	AgentStatusHalted   = "halted"
)

// Agent - автономный торговый агент под управлением пользователя
type Agent struct {
	ID            string        `json:"id" db:"id"`
	UserID        string        `json:"user_id" db:"user_id"`
	Name          string        `json:"name" db:"name"`
	APIKeyPrefix  string        `json:"api_key_prefix" db:"api_key_prefix"`
	APIKeyHash    string        `json:"-" db:"api_key_hash"` // bcrypt, не возвращается в JSON
	Status        string        `json:"status" db:"status"`
	IsHalted      bool          `json:"is_halted" db:"is_halted"`
	HaltReason    *string       `json:"halt_reason" db:"halt_reason"`
	HaltTimestamp *time.Time    `json:"halt_timestamp" db:"halt_timestamp"`
	LastHeartbeat *time.Time    `json:"last_heartbeat,omitempty" db:"last_heartbeat"`
	Metadata      AgentMetadata `json:"metadata" db:"metadata"` // JSON в БД
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// AgentMetadata - скользящие показатели, обновляются при каждой телеметрии
type AgentMetadata struct {
	LastBalance   float64 `json:"last_balance"`
	LastEquity    float64 `json:"last_equity"`
	LastPositions int     `json:"last_positions"`
	TotalTrades   int     `json:"total_trades"`
}

// HaltAction - действие в журнале остановок
type HaltAction string

const (
	HaltActionHalt   HaltAction = "HALT"
	HaltActionResume HaltAction = "RESUME"
)

// HaltLogEntry - запись журнала остановок, никогда не перезаписывается
type HaltLogEntry struct {
	ID        string     `json:"id" db:"id"`
	AgentID   string     `json:"agent_id" db:"agent_id"`
	UserID    string     `json:"user_id" db:"user_id"`
	Actor     string     `json:"actor" db:"actor"` // user id или "system"
	Action    HaltAction `json:"action" db:"action"`
	Reason    string     `json:"reason" db:"reason"`
	Automatic bool       `json:"automatic" db:"automatic"`
	Timestamp time.Time  `json:"timestamp" db:"timestamp"`
}

// Типы событий телеметрии
const (
	TelemetryHeartbeat      = "heartbeat"
	TelemetryTrade          = "trade"
	TelemetryPositionOpened = "position_opened"
	TelemetryPositionClosed = "position_closed"
)

// TelemetrySample - одна запись телеметрии агента
type TelemetrySample struct {
	ID            string    `json:"id" db:"id"`
	AgentID       string    `json:"agent_id" db:"agent_id"`
	UserID        string    `json:"user_id" db:"user_id"`
	Balance       *float64  `json:"balance,omitempty" db:"balance"`
	Equity        *float64  `json:"equity,omitempty" db:"equity"`
	MarginUsed    *float64  `json:"margin_used,omitempty" db:"margin_used"`
	MarginFree    *float64  `json:"margin_free,omitempty" db:"margin_free"`
	Positions     int       `json:"positions_count" db:"positions_count"`
	UnrealizedPnL *float64  `json:"unrealized_pnl,omitempty" db:"unrealized_pnl"`
	RealizedPnL   *float64  `json:"realized_pnl,omitempty" db:"realized_pnl"`
	EventType     string    `json:"event_type" db:"event_type"`
	Attestation   string    `json:"attestation_hash,omitempty" db:"attestation_hash"`
	Timestamp     time.Time `json:"timestamp" db:"timestamp"`
}

// Результаты pre-trade проверки
const (
	ValidationPass = "PASS"
	ValidationFail = "FAIL"
)

// TradeValidation - журнал pre-trade проверок
type TradeValidation struct {
	ID         string          `json:"id" db:"id"`
	AgentID    string          `json:"agent_id" db:"agent_id"`
	UserID     string          `json:"user_id" db:"user_id"`
	Symbol     string          `json:"symbol" db:"symbol"`
	Action     string          `json:"action" db:"action"`
	Volume     float64         `json:"volume" db:"volume"`
	Result     string          `json:"validation_result" db:"validation_result"`
	Violations json.RawMessage `json:"violations,omitempty" db:"violations"`
	Token      *string         `json:"validation_token,omitempty" db:"validation_token"`
	Timestamp  time.Time       `json:"timestamp" db:"timestamp"`
}
