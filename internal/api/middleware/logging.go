package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"risksignal/internal/metrics"
	"risksignal/pkg/utils"
)

// responseWriter запоминает статус и размер ответа
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Unwrap нужен http.ResponseController и websocket upgrade (Hijacker)
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Hijack пробрасывает Hijacker для /ws/stream
func (rw *responseWriter) Hijack() (c net.Conn, brw *bufio.ReadWriter, err error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// Logging - middleware для логирования HTTP запросов
//
// Одна запись zap на запрос: метод, путь, статус, латентность, размер ответа,
// IP клиента и request id. Заодно обновляет HTTP метрики Prometheus.
func Logging(next http.Handler) http.Handler {
	logger := utils.L().WithComponent("http")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		latency := time.Since(start)
		latencyMs := float64(latency.Microseconds()) / 1000

		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
		metrics.HTTPLatency.WithLabelValues(r.Method).Observe(latencyMs)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			utils.Latency(latencyMs),
			zap.Int64("bytes", wrapped.written),
			zap.String("client_ip", clientIP(r)),
			utils.RequestID(RequestIDFromContext(r.Context())),
		}
		switch {
		case wrapped.statusCode >= 500:
			logger.Error("request", fields...)
		case wrapped.statusCode >= 400:
			logger.Warn("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	})
}
