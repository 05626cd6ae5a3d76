package websocket

import (
	"time"

	"risksignal/internal/models"
	"risksignal/internal/service"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeRiskEvent - новый risk event
	// Отправляется сразу после сохранения события (проход или телеметрия)
	MessageTypeRiskEvent MessageType = "riskEvent"

	// MessageTypeHalt - переход kill-switch агента (HALT или RESUME)
	MessageTypeHalt MessageType = "haltUpdate"
)

// BaseMessage - базовая структура для всех WebSocket сообщений
type BaseMessage struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
}

// RiskEventMessage - сообщение о новом нарушении
//
// UserID используется hub для адресной доставки и не сериализуется.
type RiskEventMessage struct {
	BaseMessage
	UserID string         `json:"-"`
	Data   *RiskEventData `json:"data"`
}

// RiskEventData - краткое представление события для ленты
type RiskEventData struct {
	ID         string             `json:"id"`
	PolicyID   string             `json:"policy_id"`
	AccountID  string             `json:"account_id"`
	AgentID    *string            `json:"agent_id,omitempty"`
	EventType  models.PolicyType  `json:"event_type"`
	Severity   models.Severity    `json:"severity"`
	Status     models.EventStatus `json:"status"`
	DetectedAt time.Time          `json:"detected_at"`
}

// HaltMessage - сообщение о смене состояния агента
type HaltMessage struct {
	BaseMessage
	UserID string             `json:"-"`
	Data   *service.HaltState `json:"data"`
}

// NewRiskEventMessage создает сообщение из сохраненного события
func NewRiskEventMessage(ev *models.RiskEvent, userID string) *RiskEventMessage {
	return &RiskEventMessage{
		BaseMessage: BaseMessage{Type: MessageTypeRiskEvent, Timestamp: time.Now().UTC()},
		UserID:      userID,
		Data: &RiskEventData{
			ID:         ev.ID,
			PolicyID:   ev.PolicyID,
			AccountID:  ev.AccountID,
			AgentID:    ev.AgentID,
			EventType:  ev.EventType,
			Severity:   ev.Severity,
			Status:     ev.Status,
			DetectedAt: ev.DetectedAt,
		},
	}
}

// NewHaltMessage создает сообщение о переходе kill-switch
func NewHaltMessage(state *service.HaltState) *HaltMessage {
	return &HaltMessage{
		BaseMessage: BaseMessage{Type: MessageTypeHalt, Timestamp: time.Now().UTC()},
		UserID:      state.UserID,
		Data:        state,
	}
}
