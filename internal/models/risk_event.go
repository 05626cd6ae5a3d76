package models

import (
	"encoding/json"
	"time"
)

// EventStatus - статус risk event
type EventStatus string

const (
	EventStatusOpen          EventStatus = "OPEN"
	EventStatusAcknowledged  EventStatus = "ACKNOWLEDGED"
	EventStatusResolved      EventStatus = "RESOLVED"
	EventStatusFalsePositive EventStatus = "FALSE_POSITIVE"
)

// Valid проверяет что значение входит в перечисление
func (s EventStatus) Valid() bool {
	switch s {
	case EventStatusOpen, EventStatusAcknowledged, EventStatusResolved, EventStatusFalsePositive:
		return true
	}
	return false
}

// CanTransitionTo - переходы выполняет оператор, начальный OPEN выставляет система
func (s EventStatus) CanTransitionTo(next EventStatus) bool {
	switch s {
	case EventStatusOpen:
		return next == EventStatusAcknowledged || next == EventStatusResolved || next == EventStatusFalsePositive
	case EventStatusAcknowledged:
		return next == EventStatusResolved || next == EventStatusFalsePositive
	}
	return false
}

// RiskEvent - сохраненная запись о нарушении политики
type RiskEvent struct {
	ID             string                 `json:"id" db:"id"`
	PolicyID       string                 `json:"policy_id" db:"policy_id"`
	AccountID      string                 `json:"account_id" db:"account_id"`
	AgentID        *string                `json:"agent_id,omitempty" db:"agent_id"`
	EventType      PolicyType             `json:"event_type" db:"event_type"`
	Severity       Severity               `json:"severity" db:"severity"`
	Status         EventStatus            `json:"status" db:"status"`
	ViolationData  json.RawMessage        `json:"violation_data" db:"violation_data"`
	Metadata       map[string]interface{} `json:"metadata" db:"metadata"` // JSON в БД
	DetectedAt     time.Time              `json:"detected_at" db:"detected_at"`
	AcknowledgedAt *time.Time             `json:"acknowledged_at,omitempty" db:"acknowledged_at"`
	ResolvedAt     *time.Time             `json:"resolved_at,omitempty" db:"resolved_at"`
}

// RiskEventFilter - фильтр выборки событий
type RiskEventFilter struct {
	UserID    string
	AccountID string
	Status    EventStatus
	Severity  Severity
	Limit     int
}
