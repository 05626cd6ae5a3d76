package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"risksignal/internal/service"
)

// TradeHandler - pre-trade проверка сделок агента
//
// Endpoints:
// - POST /api/v1/validate-trade        - проверка сделки до исполнения
// - POST /api/v1/validate-trade/verify - проверка выданного токена
//
// Проверка всегда отвечает решением: ошибка аутентификации или оценки
// превращается в validation ERROR с action REJECT_TRADE, а не в пропуск сделки.
type TradeHandler struct {
	svc TradeValidator
}

// NewTradeHandler создает новый TradeHandler
func NewTradeHandler(svc TradeValidator) *TradeHandler {
	return &TradeHandler{svc: svc}
}

// VerifyTokenRequest структура запроса проверки токена
type VerifyTokenRequest struct {
	Token string `json:"token"`
}

// VerifyTokenResponse - параметры сделки, разрешенной токеном
type VerifyTokenResponse struct {
	Valid     bool      `json:"valid"`
	AgentID   string    `json:"agent_id"`
	Symbol    string    `json:"symbol"`
	Action    string    `json:"action"`
	Volume    float64   `json:"volume"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidateTrade проверяет сделку
// POST /api/v1/validate-trade
//
// Request Body:
//
//	{
//	  "api_key": "rsk_...",
//	  "symbol": "BTCUSDT",
//	  "action": "buy",
//	  "volume": 0.5,
//	  "current_balance": 10000,
//	  "current_equity": 9800,
//	  "open_positions": 1
//	}
//
// Response 200: {"validation": "PASS|FAIL", "action": "CONTINUE|REJECT_TRADE|HALT", "token": "..."}
// Response 400/401/500: {"validation": "ERROR", "action": "REJECT_TRADE", ...}
func (h *TradeHandler) ValidateTrade(w http.ResponseWriter, r *http.Request) {
	var req service.TradeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.reject(w, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}
	if req.APIKey == "" {
		req.APIKey = bearer(r)
	}

	decision, err := h.svc.Validate(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, decision)
}

// VerifyToken проверяет токен разрешенной сделки
// POST /api/v1/validate-trade/verify
//
// Токен - свидетельство прошедшей проверки, а не право на сделку:
// истекший или чужой токен дает 401.
func (h *TradeHandler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	var req VerifyTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Token) == "" {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Token is required", "")
		return
	}

	claims, err := h.svc.VerifyToken(req.Token)
	if err != nil {
		respondWithError(w, http.StatusUnauthorized, "invalid_token", "Invalid or expired validation token", "")
		return
	}

	resp := VerifyTokenResponse{
		Valid:   true,
		AgentID: claims.AgentID,
		Symbol:  claims.Symbol,
		Action:  claims.Action,
		Volume:  claims.Volume,
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		resp.ExpiresAt = claims.ExpiresAt.Time
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// handleServiceError обрабатывает ошибки от сервиса и возвращает соответствующий HTTP статус
func (h *TradeHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAPIKey):
		h.reject(w, http.StatusUnauthorized, "Invalid API key", "")

	case errors.Is(err, service.ErrInvalidTradeRequest):
		h.reject(w, http.StatusBadRequest, "Invalid trade request", err.Error())

	default:
		respondInternalDecision(w, r, err)
	}
}

// reject отвечает решением ERROR / REJECT_TRADE
func (h *TradeHandler) reject(w http.ResponseWriter, status int, reason, message string) {
	respondWithJSON(w, status, &service.TradeDecision{
		Validation: service.ValidationError,
		Reason:     reason,
		Action:     service.ActionRejectTrade,
		Message:    message,
		Timestamp:  time.Now().UTC(),
	})
}

// respondInternalDecision - сбой оценки тоже отклоняет сделку
func respondInternalDecision(w http.ResponseWriter, r *http.Request, err error) {
	logRequestError(r, err)
	respondWithJSON(w, http.StatusInternalServerError, &service.TradeDecision{
		Validation: service.ValidationError,
		Reason:     "Validation failed",
		Action:     service.ActionRejectTrade,
		Timestamp:  time.Now().UTC(),
	})
}

// bearer - ключ агента из Authorization, если его нет в теле
func bearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
