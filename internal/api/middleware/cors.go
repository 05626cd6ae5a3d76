package middleware

import (
	"net/http"
	"strings"
)

// defaultOrigins - dev серверы dashboard, разрешены всегда
var defaultOrigins = []string{
	"http://localhost:3000",
	"http://127.0.0.1:3000",
	"http://localhost:8080",
	"http://127.0.0.1:8080",
	"http://localhost:5173", // Vite dev server
	"http://127.0.0.1:5173",
}

// CORS - middleware для настройки Cross-Origin Resource Sharing
//
// Разрешает dashboard на другом домене обращаться к API.
// Origins: значения по умолчанию плюс CORS_ALLOWED_ORIGINS.
//
// Важные заголовки:
// - Access-Control-Allow-Origin: конкретный домен (не * при credentials)
// - Access-Control-Allow-Methods: GET, POST, PUT, DELETE, PATCH, OPTIONS
// - Access-Control-Allow-Headers: Content-Type, Authorization, X-Request-ID
// - Access-Control-Max-Age: 86400 (24 часа)
func CORS(extraOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(defaultOrigins)+len(extraOrigins))
	for _, origin := range append(defaultOrigins, extraOrigins...) {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = true
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			} else if origin == "" {
				// Запросы без Origin (агенты, curl)
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}
			// Для неразрешенных origins заголовки не ставятся - браузер заблокирует

			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, PATCH, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "86400")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
