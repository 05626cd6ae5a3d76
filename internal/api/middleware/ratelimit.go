package middleware

import (
	"net"
	"net/http"
	"strings"

	"risksignal/pkg/ratelimit"
)

// RateLimit ограничивает частоту запросов с одного IP
//
// Ключ - первый адрес из X-Forwarded-For (за балансировщиком) или RemoteAddr.
// Превышение дает 429 с Retry-After: 1.
func RateLimit(limiter *ratelimit.KeyedLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientIP(r)) {
				w.Header().Set("Retry-After", "1")
				writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP возвращает адрес клиента для логов и rate limit
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first := strings.TrimSpace(strings.Split(fwd, ",")[0]); first != "" {
			return first
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
