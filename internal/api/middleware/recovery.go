package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"risksignal/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers
//
// Перехватывает panic, пишет сообщение и stack trace в лог и отвечает
// 500 Internal Server Error. Сервер продолжает обрабатывать запросы.
// Детали паники клиенту не возвращаются.
func Recovery(next http.Handler) http.Handler {
	logger := utils.L().WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				logger.Error("panic recovered",
					zap.String("panic", fmt.Sprint(rec)),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					utils.RequestID(RequestIDFromContext(r.Context())),
					zap.ByteString("stack", debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}
