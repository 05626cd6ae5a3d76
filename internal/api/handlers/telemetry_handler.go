package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"risksignal/internal/service"
)

// TelemetryHandler принимает телеметрию агентов
//
// Endpoints:
// - POST /api/v1/telemetry/{apiKey} - отчет агента о балансе, equity и позициях
//
// Аутентификация - ключ агента в пути. Любой отказ в доступе отвечает
// action HALT: агент, который не может доказать свою личность, должен остановиться.
type TelemetryHandler struct {
	svc TelemetryIngester
}

// NewTelemetryHandler создает новый TelemetryHandler
func NewTelemetryHandler(svc TelemetryIngester) *TelemetryHandler {
	return &TelemetryHandler{svc: svc}
}

// TelemetryRejection - ответ на отклоненную телеметрию
type TelemetryRejection struct {
	Status    string    `json:"status"`
	Action    string    `json:"action"`
	Error     string    `json:"error"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Ingest обрабатывает отчет агента
// POST /api/v1/telemetry/{apiKey}
//
// Request Body:
//
//	{
//	  "balance": 10000,
//	  "equity": 9500,
//	  "positions": 2,
//	  "event_type": "heartbeat"
//	}
//
// Response 200: {"status": "PROCESSED|WARNING|VIOLATION_DETECTED", "action": "CONTINUE|HALT", "violations": [...]}
// Response 401: неизвестный ключ, action HALT
// Response 403: агент остановлен, action HALT
// Response 500: внутренняя ошибка, action HALT
func (h *TelemetryHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	apiKey := mux.Vars(r)["apiKey"]

	var payload service.TelemetryPayload
	if err := decodeJSON(r, &payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}

	result, err := h.svc.Ingest(r.Context(), apiKey, payload)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, result)
}

// handleServiceError обрабатывает ошибки от сервиса и возвращает соответствующий HTTP статус
func (h *TelemetryHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	now := time.Now().UTC()
	switch {
	case errors.Is(err, service.ErrInvalidAPIKey):
		respondWithJSON(w, http.StatusUnauthorized, TelemetryRejection{
			Status:    "REJECTED",
			Action:    service.ActionHalt,
			Error:     "Invalid API key",
			Timestamp: now,
		})

	case errors.Is(err, service.ErrAgentHalted):
		respondWithJSON(w, http.StatusForbidden, TelemetryRejection{
			Status:    "REJECTED",
			Action:    service.ActionHalt,
			Error:     "Agent is halted",
			Message:   "Agent has been halted by governance system",
			Timestamp: now,
		})

	case errors.Is(err, service.ErrInvalidTelemetry):
		respondWithError(w, http.StatusBadRequest, "invalid_telemetry", "Invalid telemetry payload", err.Error())

	default:
		// сбой обработки тоже останавливает агента: решение не принято
		logRequestError(r, err)
		respondWithJSON(w, http.StatusInternalServerError, TelemetryRejection{
			Status:    "ERROR",
			Action:    service.ActionHalt,
			Error:     "Internal server error",
			Timestamp: now,
		})
	}
}
