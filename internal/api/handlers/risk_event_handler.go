package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"risksignal/internal/models"
	"risksignal/internal/service"
)

// RiskEventHandler отвечает за события нарушений
//
// Endpoints:
// - GET /api/v1/risk-events               - список (?status=&severity=&account_id=&limit=)
// - GET /api/v1/risk-events/{id}          - одно событие
// - GET /api/v1/risk-events/{id}/alerts   - журнал доставки алертов
// - PATCH /api/v1/risk-events/{id}/status - смена статуса оператором
type RiskEventHandler struct {
	svc RiskEventManager
}

// NewRiskEventHandler создает новый RiskEventHandler
func NewRiskEventHandler(svc RiskEventManager) *RiskEventHandler {
	return &RiskEventHandler{svc: svc}
}

// UpdateStatusRequest структура запроса смены статуса
type UpdateStatusRequest struct {
	Status models.EventStatus `json:"status"`
}

// ListRiskEvents возвращает события оператора, новые первыми
// GET /api/v1/risk-events
func (h *RiskEventHandler) ListRiskEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_limit", err.Error(), "")
		return
	}

	q := r.URL.Query()
	filter := models.RiskEventFilter{
		AccountID: strings.TrimSpace(q.Get("account_id")),
		Status:    models.EventStatus(strings.ToUpper(q.Get("status"))),
		Severity:  models.Severity(strings.ToUpper(q.Get("severity"))),
		Limit:     limit,
	}

	events, err := h.svc.List(r.Context(), userID, filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if events == nil {
		events = []models.RiskEvent{}
	}

	respondWithJSON(w, http.StatusOK, events)
}

// GetRiskEvent возвращает событие
// GET /api/v1/risk-events/{id}
func (h *RiskEventHandler) GetRiskEvent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	ev, err := h.svc.Get(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ev)
}

// ListAlerts возвращает попытки доставки по событию
// GET /api/v1/risk-events/{id}/alerts
func (h *RiskEventHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	records, err := h.svc.Alerts(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if records == nil {
		records = []models.AlertRecord{}
	}

	respondWithJSON(w, http.StatusOK, records)
}

// UpdateStatus меняет статус события
// PATCH /api/v1/risk-events/{id}/status
//
// Request Body: {"status": "ACKNOWLEDGED"}
func (h *RiskEventHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}
	req.Status = models.EventStatus(strings.ToUpper(strings.TrimSpace(string(req.Status))))
	if !req.Status.Valid() {
		respondWithError(w, http.StatusBadRequest, "invalid_status", "Unknown risk event status", string(req.Status))
		return
	}

	ev, err := h.svc.UpdateStatus(r.Context(), userID, mux.Vars(r)["id"], req.Status)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, ev)
}

// handleServiceError обрабатывает ошибки от сервиса и возвращает соответствующий HTTP статус
func (h *RiskEventHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrRiskEventNotFound):
		respondWithError(w, http.StatusNotFound, "risk_event_not_found", "Risk event not found", "")

	case errors.Is(err, service.ErrInvalidStatusTransition):
		respondWithError(w, http.StatusConflict, "invalid_transition", "Invalid status transition", err.Error())

	case errors.Is(err, service.ErrInvalidFilter):
		respondWithError(w, http.StatusBadRequest, "invalid_filter", "Invalid filter", err.Error())

	default:
		respondInternal(w, r, err)
	}
}
