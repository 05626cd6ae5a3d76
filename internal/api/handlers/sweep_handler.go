package handlers

import (
	"errors"
	"net/http"

	"risksignal/internal/service"
)

// SweepHandler запускает проход по всем активным политикам
//
// Endpoints:
// - POST /api/v1/sweep - вызывается внешним планировщиком (bearer SWEEP_TOKEN)
type SweepHandler struct {
	svc SweepRunner
}

// NewSweepHandler создает новый SweepHandler
func NewSweepHandler(svc SweepRunner) *SweepHandler {
	return &SweepHandler{svc: svc}
}

// RunSweep выполняет проход и возвращает сводку
// POST /api/v1/sweep
//
// Response 200: {"policies_checked": 12, "violations_detected": 2, ...}
// Response 409: предыдущий проход еще идет
func (h *SweepHandler) RunSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.Run(r.Context())
	if err != nil {
		if errors.Is(err, service.ErrSweepInProgress) {
			respondWithError(w, http.StatusConflict, "sweep_in_progress", "Sweep already in progress", "")
			return
		}
		respondInternal(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, summary)
}
