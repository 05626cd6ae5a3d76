package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"risksignal/internal/engine"
	"risksignal/internal/models"
	"risksignal/internal/service"
)

// PolicyHandler отвечает за политики риска
//
// Endpoints:
// - GET /api/v1/policies                    - список политик оператора
// - POST /api/v1/policies                   - создание политики
// - GET /api/v1/policies/{id}               - одна политика
// - PATCH /api/v1/policies/{id}             - частичное изменение
// - DELETE /api/v1/policies/{id}            - удаление (если нет событий)
// - POST /api/v1/policies/{id}/activate     - включение
// - POST /api/v1/policies/{id}/deactivate   - выключение
//
// Конфигурация политики проверяется движком правил: ошибка формы config дает 400.
type PolicyHandler struct {
	svc PolicyManager
}

// NewPolicyHandler создает новый PolicyHandler
func NewPolicyHandler(svc PolicyManager) *PolicyHandler {
	return &PolicyHandler{svc: svc}
}

// ListPolicies возвращает политики оператора
// GET /api/v1/policies
func (h *PolicyHandler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	policies, err := h.svc.List(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	if policies == nil {
		policies = []models.Policy{}
	}

	respondWithJSON(w, http.StatusOK, policies)
}

// CreatePolicy создает политику
// POST /api/v1/policies
//
// Request Body:
//
//	{
//	  "account_id": "0xabc...",
//	  "policy_type": "ASSET_CONCENTRATION",
//	  "policy_name": "BTC cap",
//	  "config": {"asset": "BTC", "max_percentage": 30},
//	  "severity": "HIGH"
//	}
func (h *PolicyHandler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in service.PolicyInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}

	policy, err := h.svc.Create(r.Context(), userID, in)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, policy)
}

// GetPolicy возвращает политику
// GET /api/v1/policies/{id}
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	policy, err := h.svc.Get(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, policy)
}

// UpdatePolicy изменяет политику, отсутствующие поля не меняются
// PATCH /api/v1/policies/{id}
func (h *PolicyHandler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var patch service.PolicyPatch
	if err := decodeJSON(r, &patch); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}

	policy, err := h.svc.Update(r.Context(), userID, mux.Vars(r)["id"], patch)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, policy)
}

// DeletePolicy удаляет политику
// DELETE /api/v1/policies/{id}
//
// Политика с risk events не удаляется (409), ее нужно выключить.
func (h *PolicyHandler) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ActivatePolicy включает политику
// POST /api/v1/policies/{id}/activate
func (h *PolicyHandler) ActivatePolicy(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// DeactivatePolicy выключает политику
// POST /api/v1/policies/{id}/deactivate
func (h *PolicyHandler) DeactivatePolicy(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *PolicyHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := mux.Vars(r)["id"]

	if err := h.svc.SetActive(r.Context(), userID, id, active); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	msg := "Policy deactivated"
	if active {
		msg = "Policy activated"
	}
	respondWithJSON(w, http.StatusOK, SuccessResponse{
		Message: msg,
		Data:    map[string]interface{}{"id": id, "is_active": active},
	})
}

// handleServiceError обрабатывает ошибки от сервиса и возвращает соответствующий HTTP статус
func (h *PolicyHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrPolicyNotFound):
		respondWithError(w, http.StatusNotFound, "policy_not_found", "Policy not found", "")

	case errors.Is(err, service.ErrPolicyInUse):
		respondWithError(w, http.StatusConflict, "policy_in_use", "Policy is referenced by risk events, deactivate it instead", "")

	case errors.Is(err, service.ErrInvalidPolicy):
		respondWithError(w, http.StatusBadRequest, "invalid_policy", "Invalid policy", err.Error())

	case engine.IsConfigError(err):
		respondWithError(w, http.StatusBadRequest, "invalid_config", "Invalid policy configuration", err.Error())

	default:
		respondInternal(w, r, err)
	}
}
