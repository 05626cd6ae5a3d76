package handlers

import (
	"errors"
	"net/http"

	"risksignal/internal/service"
)

// PreferencesHandler отвечает за настройки уведомлений
//
// Endpoints:
// - GET /api/v1/preferences - текущие настройки (значения по умолчанию, если не сохранены)
// - PUT /api/v1/preferences - замена настроек
type PreferencesHandler struct {
	svc PreferencesManager
}

// NewPreferencesHandler создает новый PreferencesHandler
func NewPreferencesHandler(svc PreferencesManager) *PreferencesHandler {
	return &PreferencesHandler{svc: svc}
}

// GetPreferences возвращает настройки оператора
// GET /api/v1/preferences
func (h *PreferencesHandler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	prefs, err := h.svc.Get(r.Context(), userID)
	if err != nil {
		respondInternal(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, prefs)
}

// UpdatePreferences сохраняет настройки
// PUT /api/v1/preferences
//
// Request Body:
//
//	{
//	  "email": "ops@example.com",
//	  "email_enabled": true,
//	  "sms_enabled": true,
//	  "phone_number": "+15551234567",
//	  "severity_threshold": "HIGH"
//	}
func (h *PreferencesHandler) UpdatePreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var in service.PreferencesInput
	if err := decodeJSON(r, &in); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}

	prefs, err := h.svc.Update(r.Context(), userID, in)
	if err != nil {
		if errors.Is(err, service.ErrInvalidPreferences) {
			respondWithError(w, http.StatusBadRequest, "invalid_preferences", "Invalid notification preferences", err.Error())
			return
		}
		respondInternal(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, prefs)
}
