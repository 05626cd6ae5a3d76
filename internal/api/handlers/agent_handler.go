package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"risksignal/internal/models"
	"risksignal/internal/service"
)

// AgentHandler отвечает за агентов и их kill-switch
//
// Endpoints:
// - GET /api/v1/agents                 - список агентов оператора
// - POST /api/v1/agents                - регистрация агента, ключ возвращается один раз
// - GET /api/v1/agents/{id}/halt       - состояние остановки (сессия или ключ агента)
// - POST /api/v1/agents/{id}/halt      - ручная остановка / возобновление
// - GET /api/v1/agents/{id}/halt-log   - журнал переходов
type AgentHandler struct {
	agents AgentManager
	halt   HaltManager
}

// NewAgentHandler создает новый AgentHandler
func NewAgentHandler(agents AgentManager, halt HaltManager) *AgentHandler {
	return &AgentHandler{agents: agents, halt: halt}
}

// CreateAgentRequest структура запроса на создание агента
type CreateAgentRequest struct {
	Name string `json:"name"`
}

// CreateAgentResponse - агент и его открытый ключ
type CreateAgentResponse struct {
	Agent  *models.Agent `json:"agent"`
	APIKey string        `json:"api_key"`
	Notice string        `json:"notice"`
}

// HaltRequest структура запроса переключения остановки
type HaltRequest struct {
	Halt   *bool  `json:"halt"`
	Reason string `json:"reason"`
}

// ListAgents возвращает агентов оператора
// GET /api/v1/agents
func (h *AgentHandler) ListAgents(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	agents, err := h.agents.List(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if agents == nil {
		agents = []models.Agent{}
	}

	respondWithJSON(w, http.StatusOK, agents)
}

// CreateAgent регистрирует агента
// POST /api/v1/agents
//
// Request Body: {"name": "momentum-bot"}
// Response 201: {"agent": {...}, "api_key": "rsk_..."}
func (h *AgentHandler) CreateAgent(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req CreateAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}

	agent, key, err := h.agents.Create(r.Context(), userID, req.Name)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, CreateAgentResponse{
		Agent:  agent,
		APIKey: key,
		Notice: "Store this API key now, it will not be shown again",
	})
}

// GetHaltStatus возвращает состояние остановки агента
// GET /api/v1/agents/{id}/halt
//
// Оператор читает состояние своего агента по сессии. Сам агент читает
// состояние по ключу из X-API-Key (или Authorization: Bearer).
func (h *AgentHandler) GetHaltStatus(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["id"]

	if userID, _ := userFromContext(r); userID != "" {
		state, err := h.halt.Status(r.Context(), userID, agentID)
		if err != nil {
			h.handleServiceError(w, r, err)
			return
		}
		respondWithJSON(w, http.StatusOK, state)
		return
	}

	apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
	if apiKey == "" {
		apiKey = bearer(r)
	}
	if apiKey == "" {
		respondWithError(w, http.StatusUnauthorized, "unauthorized", "Authentication required", "")
		return
	}

	state, err := h.halt.StatusByAPIKey(r.Context(), apiKey)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	// ключ одного агента не открывает состояние другого
	if state.AgentID != agentID {
		respondWithError(w, http.StatusForbidden, "forbidden", "API key does not belong to this agent", "")
		return
	}

	respondWithJSON(w, http.StatusOK, state)
}

// SetHalt останавливает или возобновляет агента
// POST /api/v1/agents/{id}/halt
//
// Request Body: {"halt": true, "reason": "manual review"}
// Повторный запрос в то же состояние не меняет журнал и возвращает текущее состояние.
func (h *AgentHandler) SetHalt(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	agentID := mux.Vars(r)["id"]

	var req HaltRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}
	if req.Halt == nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Field 'halt' is required", "")
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		if *req.Halt {
			reason = "Manual halt by operator"
		} else {
			reason = "Manual resume by operator"
		}
	}

	state, err := h.halt.SetHalted(r.Context(), userID, agentID, *req.Halt, reason)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, state)
}

// GetHaltLog возвращает журнал остановок агента
// GET /api/v1/agents/{id}/halt-log?limit=50
func (h *AgentHandler) GetHaltLog(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_limit", err.Error(), "")
		return
	}
	if limit == 0 {
		limit = 50
	}

	entries, err := h.halt.History(r.Context(), userID, mux.Vars(r)["id"], limit)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []models.HaltLogEntry{}
	}

	respondWithJSON(w, http.StatusOK, entries)
}

// handleServiceError обрабатывает ошибки от сервиса и возвращает соответствующий HTTP статус
func (h *AgentHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrAgentNotFound):
		respondWithError(w, http.StatusNotFound, "agent_not_found", "Agent not found", "")

	case errors.Is(err, service.ErrInvalidAPIKey):
		respondWithError(w, http.StatusUnauthorized, "invalid_api_key", "Invalid API key", "")

	case errors.Is(err, service.ErrInvalidAgentName):
		respondWithError(w, http.StatusBadRequest, "invalid_name", "Agent name must be 1-100 characters", "")

	default:
		respondInternal(w, r, err)
	}
}
